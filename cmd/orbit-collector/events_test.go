package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/orbit/internal/config"
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/session"
	"github.com/getsentry/orbit/internal/storageutil"
	"github.com/getsentry/orbit/internal/testutil"
	"github.com/getsentry/orbit/internal/transport"
)

func newTestEnvironment(t *testing.T, c ServiceConfig) (*environment, *httptest.Server) {
	t.Helper()
	c.ReportsBucketURL = "mem://"
	e := &environment{config: c}
	require.NoError(t, e.open(context.Background()))
	router, err := e.newRouter()
	require.NoError(t, err)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		_ = e.bucket.Close()
	})
	return e, server
}

func upload(t *testing.T, server *httptest.Server, apiKey string, compress bool, events string) transport.Result {
	t.Helper()
	a, err := event.NewBytesAttachment("screenshot.png", event.AttachmentScreenshot, []byte("png"))
	require.NoError(t, err)
	h := transport.NewHTTP(func() config.Endpoint {
		return config.Endpoint{URL: server.URL, APIKey: apiKey}
	}, transport.HTTPOptions{Compress: func() bool { return compress }})
	return h.UploadSessionReport(context.Background(), transport.Report{
		SessionID:   "s1",
		Timestamp:   1700000000000,
		Resource:    session.Resource{AppVersion: "1.0"},
		Events:      strings.NewReader(events),
		Attachments: []event.Attachment{a},
	})
}

func TestPutEvents(t *testing.T) {
	const events = `[{"id":"e1","type":"custom","session_id":"s1","timestamp":"2023-11-14T22:13:20.000Z"}]`
	for _, compress := range []bool{false, true} {
		e, server := newTestEnvironment(t, ServiceConfig{APIKey: "key"})
		result := upload(t, server, "key", compress, events)
		require.Equal(t, transport.Success, result.Kind, "compress=%v err=%v", compress, result.Err)

		var report SessionReport
		err := storageutil.UnmarshalCompressed(context.Background(), e.objects, reportObjectName("", "s1"), &report)
		require.NoError(t, err)
		if diff := testutil.Diff(report.Attachments, []ArchivedAttachment{
			{Name: "screenshot.png", Object: "sessions/s1/attachments/screenshot.png", Size: 3},
		}); diff != "" {
			t.Fatalf("Result mismatch: got - want +\n%s", diff)
		}
		require.Len(t, report.Events, 1)
		require.Equal(t, "2023-11-14T22:13:20.000Z", report.Timestamp)
	}
}

func TestPutEventsRejected(t *testing.T) {
	tests := []struct {
		name   string
		config ServiceConfig
		apiKey string
		events string
		want   transport.Kind
	}{
		{
			name:   "wrong key",
			config: ServiceConfig{APIKey: "key"},
			apiKey: "other",
			events: `[]`,
			want:   transport.AuthFailure,
		},
		{
			name:   "too large",
			config: ServiceConfig{MaxPayloadSize: 64},
			events: `[]`,
			want:   transport.PayloadTooLarge,
		},
		{
			name:   "forced failure",
			config: ServiceConfig{FailStatus: http.StatusServiceUnavailable},
			events: `[]`,
			want:   transport.ServerError,
		},
		{
			name:   "event from another session",
			events: `[{"id":"e1","type":"custom","session_id":"s2"}]`,
			want:   transport.ClientError,
		},
		{
			name:   "invalid events",
			events: `{`,
			want:   transport.ClientError,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, server := newTestEnvironment(t, test.config)
			result := upload(t, server, test.apiKey, false, test.events)
			require.Equal(t, test.want, result.Kind)
		})
	}
}

func TestGetConfig(t *testing.T) {
	_, server := newTestEnvironment(t, ServiceConfig{
		SDKConfig: config.Config{JourneySamplingRate: config.Float64(0.5)},
	})
	resp, err := http.Get(server.URL + "/config")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.JSONEq(t, `{"journey_sampling_rate":0.5}`, string(b))
}

func TestGetSession(t *testing.T) {
	_, server := newTestEnvironment(t, ServiceConfig{})

	resp, err := http.Get(server.URL + "/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(server.URL + "/sessions?session_id=s1")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	result := upload(t, server, "", false, `[{"id":"e1","type":"custom","session_id":"s1"}]`)
	require.True(t, result.OK())

	resp, err = http.Get(server.URL + "/sessions?session_id=s1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCleanup(t *testing.T) {
	e, server := newTestEnvironment(t, ServiceConfig{})
	result := upload(t, server, "", false, `[]`)
	require.True(t, result.OK())

	ctx := context.Background()
	deleted, err := cleanup(ctx, e.bucket, "", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, deleted)

	deleted, err = cleanup(ctx, e.bucket, "", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, deleted)

	_, err = e.objects.Get(ctx, reportObjectName("", "s1"))
	require.ErrorIs(t, err, storageutil.ErrObjectNotFound)
}

package collector

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/orbit/internal/config"
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/idutil"
	"github.com/getsentry/orbit/internal/timeutil"
)

type httpSampler bool

func (s httpSampler) ShouldTrackHttp(key string) bool { return bool(s) }

func newHTTPClient(t *testing.T, provider *config.Provider, sampled bool) (*http.Client, *fakeTracker, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "secret")
		w.Header().Set("X-Request-Id", "42")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	t.Cleanup(server.Close)
	tracker := &fakeTracker{}
	rt := NewHTTP(nil, tracker, timeutil.NewFakeProvider(99), &idutil.Sequence{}, provider, httpSampler(sampled))
	return &http.Client{Transport: rt}, tracker, server
}

func TestHTTPRecordsRequests(t *testing.T) {
	provider := config.NewProvider(config.DefaultConfig(), config.StaticLoader{})
	provider.SetNetworkConfig(&config.Config{
		TrackHTTPHeaders: config.Bool(true),
		TrackHTTPBody:    config.Bool(true),
	})
	client, tracker, server := newHTTPClient(t, provider, true)

	req, err := http.NewRequest(http.MethodPost, server.URL+"/missing", strings.NewReader(`{"item":1}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := client.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, `{"ok":true}`, string(body), "the caller still gets the whole body")

	events := tracker.tracked()
	require.Len(t, events, 1)
	require.Equal(t, event.TypeHTTP, events[0].Type)
	data := events[0].Data.(HTTPData)
	require.Equal(t, server.URL+"/missing", data.URL)
	require.Equal(t, "post", data.Method)
	require.Equal(t, http.StatusNotFound, data.StatusCode)
	require.Equal(t, `{"item":1}`, data.RequestBody)
	require.Equal(t, `{"ok":true}`, data.ResponseBody)
	require.Equal(t, "application/json", data.RequestHeaders["Content-Type"])
	require.NotContains(t, data.RequestHeaders, "Authorization")
	require.Equal(t, "42", data.ResponseHeaders["X-Request-Id"])
	require.NotContains(t, data.ResponseHeaders, "Set-Cookie")
}

func TestHTTPSkipsRequests(t *testing.T) {
	t.Run("own endpoint", func(t *testing.T) {
		provider := config.NewProvider(config.DefaultConfig(), config.StaticLoader{})
		client, tracker, server := newHTTPClient(t, provider, true)
		provider.UpdateEndpoint(server.URL, "key")
		resp, err := client.Get(server.URL + "/events")
		require.NoError(t, err)
		resp.Body.Close()
		require.Empty(t, tracker.tracked())
	})

	t.Run("blocklisted", func(t *testing.T) {
		provider := config.NewProvider(config.DefaultConfig(), config.StaticLoader{})
		provider.SetNetworkConfig(&config.Config{HTTPURLBlocklist: []string{"/private"}})
		client, tracker, server := newHTTPClient(t, provider, true)
		resp, err := client.Get(server.URL + "/private/data")
		require.NoError(t, err)
		resp.Body.Close()
		require.Empty(t, tracker.tracked())
	})

	t.Run("not sampled", func(t *testing.T) {
		provider := config.NewProvider(config.DefaultConfig(), config.StaticLoader{})
		client, tracker, server := newHTTPClient(t, provider, false)
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		resp.Body.Close()
		require.Empty(t, tracker.tracked())
	})
}

func TestHTTPRecordsFailures(t *testing.T) {
	provider := config.NewProvider(config.DefaultConfig(), config.StaticLoader{})
	client, tracker, server := newHTTPClient(t, provider, true)
	url := server.URL
	server.Close()

	_, err := client.Get(url)
	require.Error(t, err)
	events := tracker.tracked()
	require.Len(t, events, 1)
	data := events[0].Data.(HTTPData)
	require.Zero(t, data.StatusCode)
	require.NotEmpty(t, data.FailureReason)
	require.Empty(t, data.RequestHeaders, "headers are off by default")
}

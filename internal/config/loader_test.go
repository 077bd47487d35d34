package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"gocloud.dev/blob/memblob"

	"github.com/getsentry/orbit/internal/storageprovider"
	"github.com/getsentry/orbit/internal/testutil"
)

func TestHTTPLoader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/config" || r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"trace_sampling_rate": 42, "http_url_blocklist": ["ads.example.com"]}`))
	}))
	defer server.Close()

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	cache := &storageprovider.Blob{Bucket: bucket}

	p := NewProvider(DefaultConfig(), nil)
	p.UpdateEndpoint(server.URL, "secret")
	loader := NewHTTPLoader(cache, p.Endpoint)
	p.loader = loader

	ctx := context.Background()
	cached, err := loader.CachedConfig(ctx)
	if err != nil || cached != nil {
		t.Fatalf("expected no cached config, got %v, %v", cached, err)
	}

	p.LoadNetworkConfig(ctx)
	if got := p.TraceSamplingRate(); got != 42 {
		t.Fatalf("expected network value, got %v", got)
	}

	cached, err = loader.CachedConfig(ctx)
	if err != nil {
		t.Fatalf("reading cached config: %v", err)
	}
	want := &Config{TraceSamplingRate: Float64(42), HTTPURLBlocklist: []string{"ads.example.com"}}
	if diff := testutil.Diff(cached, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestHTTPLoaderUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	loader := NewHTTPLoader(&storageprovider.Blob{Bucket: bucket}, func() Endpoint {
		return Endpoint{URL: server.URL, APIKey: "wrong"}
	})
	called := false
	err := loader.NetworkConfig(context.Background(), func(*Config) { called = true })
	if err == nil || called {
		t.Fatalf("expected failure without callback, got err=%v called=%v", err, called)
	}
}

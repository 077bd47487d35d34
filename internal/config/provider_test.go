package config

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/orbit/internal/testutil"
)

func TestMergePrecedence(t *testing.T) {
	defaults := DefaultConfig()
	cached := &Config{
		SessionBackgroundTimeoutMs: Int64(10_000),
		TraceSamplingRate:          Float64(5),
		HTTPURLBlocklist:           []string{"cached.example.com"},
	}
	network := &Config{
		TraceSamplingRate: Float64(50),
	}
	p := NewProvider(defaults, StaticLoader{Cached: cached, Network: network})
	ctx := context.Background()

	type values struct {
		Timeout   time.Duration
		Trace     float64
		Blocklist []string
		MaxSpan   int
	}
	read := func() values {
		return values{
			Timeout:   p.SessionBackgroundTimeout(),
			Trace:     p.TraceSamplingRate(),
			Blocklist: p.HTTPURLBlocklist(),
			MaxSpan:   p.MaxSpanNameLength(),
		}
	}

	tests := []struct {
		name string
		load func()
		want values
	}{
		{
			name: "defaults only",
			load: func() {},
			want: values{Timeout: time.Minute, Trace: 0.1, Blocklist: []string{}, MaxSpan: 64},
		},
		{
			name: "cached over defaults",
			load: func() { p.LoadCachedConfig(ctx) },
			want: values{Timeout: 10 * time.Second, Trace: 5, Blocklist: []string{"cached.example.com"}, MaxSpan: 64},
		},
		{
			name: "partial network over cached",
			load: func() { p.LoadNetworkConfig(ctx) },
			want: values{Timeout: 10 * time.Second, Trace: 50, Blocklist: []string{"cached.example.com"}, MaxSpan: 64},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.load()
			if diff := testutil.Diff(read(), test.want); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestLoadFailuresFallBack(t *testing.T) {
	p := NewProvider(DefaultConfig(), StaticLoader{Err: errors.New("offline")})
	ctx := context.Background()
	p.LoadCachedConfig(ctx)
	p.LoadNetworkConfig(ctx)
	if got := p.MaxCheckpointsPerSpan(); got != 100 {
		t.Fatalf("expected default, got %d", got)
	}
}

func TestOnConfigLoaded(t *testing.T) {
	p := NewProvider(DefaultConfig(), StaticLoader{Network: &Config{}})
	var calls int
	p.OnConfigLoaded(func() { calls++ })
	p.LoadNetworkConfig(context.Background())
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
}

func TestConcurrentSwap(t *testing.T) {
	p := NewProvider(DefaultConfig(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.SetNetworkConfig(&Config{MaxSpanNameLength: Int(i*100 + j + 1)})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if p.MaxSpanNameLength() == 0 {
					t.Error("observed an unset field")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestShouldTrackHttpUrl(t *testing.T) {
	tests := []struct {
		name    string
		network *Config
		url     string
		want    bool
	}{
		{name: "no lists", network: &Config{}, url: "https://api.example.com/users", want: true},
		{
			name:    "blocked",
			network: &Config{HTTPURLBlocklist: []string{"example.com"}},
			url:     "https://API.EXAMPLE.com/users",
			want:    false,
		},
		{
			name:    "allowlist wins",
			network: &Config{HTTPURLBlocklist: []string{"example.com"}, HTTPURLAllowlist: []string{"api.example.com"}},
			url:     "https://api.example.com/users",
			want:    true,
		},
		{
			name:    "not in allowlist",
			network: &Config{HTTPURLAllowlist: []string{"api.example.com"}},
			url:     "https://cdn.example.com/a.png",
			want:    false,
		},
		{name: "own backend", network: &Config{}, url: "https://measure.example.net/events", want: false},
		{name: "updated endpoint", network: &Config{}, url: "https://ingest.example.org/events", want: false},
		{
			name:    "default blocklist with a network one",
			network: &Config{HTTPURLBlocklist: []string{"example.com"}},
			url:     "https://telemetry.example.io/v1",
			want:    false,
		},
	}
	defaults := DefaultConfig()
	defaults.HTTPURLBlocklist = []string{"telemetry.example.io"}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := NewProvider(defaults, nil)
			p.SetMeasureURL("https://measure.example.net")
			p.UpdateEndpoint("https://ingest.example.org", "key")
			p.SetNetworkConfig(test.network)
			if got := p.ShouldTrackHttpUrl(test.url); got != test.want {
				t.Fatalf("got %v, want %v", got, test.want)
			}
		})
	}
}

func TestShouldTrackHttpHeader(t *testing.T) {
	p := NewProvider(DefaultConfig(), nil)
	p.SetNetworkConfig(&Config{HTTPHeadersBlocklist: []string{"X-Session"}})
	tests := []struct {
		header string
		want   bool
	}{
		{header: "authorization", want: false},
		{header: "x-session", want: false},
		{header: "Content-Type", want: true},
	}
	for _, test := range tests {
		if got := p.ShouldTrackHttpHeader(test.header); got != test.want {
			t.Fatalf("%s: got %v, want %v", test.header, got, test.want)
		}
	}
}

func TestShouldTrackHttpBody(t *testing.T) {
	tests := []struct {
		name        string
		trackBody   bool
		url         string
		contentType string
		want        bool
	}{
		{name: "disabled", trackBody: false, url: "https://a.com", contentType: "application/json", want: false},
		{name: "json", trackBody: true, url: "https://a.com", contentType: "application/json; charset=utf-8", want: true},
		{name: "empty content type", trackBody: true, url: "https://a.com", contentType: "", want: false},
		{name: "image", trackBody: true, url: "https://a.com", contentType: "image/png", want: false},
		{name: "blocked url", trackBody: true, url: "https://blocked.com", contentType: "application/json", want: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			p := NewProvider(DefaultConfig(), nil)
			p.SetNetworkConfig(&Config{
				TrackHTTPBody:    Bool(test.trackBody),
				HTTPURLBlocklist: []string{"blocked.com"},
			})
			if got := p.ShouldTrackHttpBody(test.url, test.contentType); got != test.want {
				t.Fatalf("got %v, want %v", got, test.want)
			}
		})
	}
}

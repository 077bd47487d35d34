package config

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// Provider merges the default, cached and network layers. Every getter
// resolves network, then cached, then default, independently per field.
//
// Layers are immutable once published: writers replace a layer pointer
// under the write lock and readers copy pointers under the read lock.
type Provider struct {
	defaults Config
	loader   Loader

	mu         sync.RWMutex
	cached     *Config
	network    *Config
	endpoint   Endpoint
	measureURL string
	observers  []func()
}

func NewProvider(defaults Config, loader Loader) *Provider {
	return &Provider{
		defaults: defaults,
		loader:   loader,
	}
}

func (p *Provider) layers() (*Config, *Config) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.network, p.cached
}

func resolve[T any](p *Provider, field func(*Config) *T) T {
	network, cached := p.layers()
	for _, c := range []*Config{network, cached, &p.defaults} {
		if c == nil {
			continue
		}
		if v := field(c); v != nil {
			return *v
		}
	}
	var zero T
	return zero
}

func resolveList(p *Provider, field func(*Config) []string) []string {
	network, cached := p.layers()
	for _, c := range []*Config{network, cached, &p.defaults} {
		if c == nil {
			continue
		}
		if v := field(c); v != nil {
			return v
		}
	}
	return nil
}

// LoadCachedConfig installs the config persisted by the last successful
// network fetch. Failures leave the defaults in place.
func (p *Provider) LoadCachedConfig(ctx context.Context) {
	if p.loader == nil {
		return
	}
	c, err := p.loader.CachedConfig(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cached config unavailable, using defaults")
		return
	}
	if c == nil {
		return
	}
	p.mu.Lock()
	p.cached = c
	p.mu.Unlock()
}

// LoadNetworkConfig fetches the remote config and swaps it in. It blocks
// until the fetch completes, callers wanting it in the background run it
// in a goroutine.
func (p *Provider) LoadNetworkConfig(ctx context.Context) {
	if p.loader == nil {
		return
	}
	err := p.loader.NetworkConfig(ctx, p.SetNetworkConfig)
	if err != nil {
		sentry.CaptureException(err)
		log.Warn().Err(err).Msg("network config unavailable, keeping current layers")
	}
}

// SetNetworkConfig atomically replaces the network layer and notifies observers.
func (p *Provider) SetNetworkConfig(c *Config) {
	p.mu.Lock()
	p.network = c
	observers := append([]func(){}, p.observers...)
	p.mu.Unlock()
	for _, o := range observers {
		o()
	}
}

// OnConfigLoaded registers f to run after every network config swap.
func (p *Provider) OnConfigLoaded(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, f)
}

// UpdateEndpoint replaces the backend URL and credentials. The SDK's own
// backend is never captured as outgoing HTTP traffic.
func (p *Provider) UpdateEndpoint(url, apiKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoint = Endpoint{URL: url, APIKey: apiKey}
}

func (p *Provider) Endpoint() Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoint
}

// SetMeasureURL excludes url from HTTP capture.
func (p *Provider) SetMeasureURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.measureURL = url
}

func (p *Provider) SessionBackgroundTimeout() time.Duration {
	return time.Duration(resolve(p, func(c *Config) *int64 { return c.SessionBackgroundTimeoutMs })) * time.Millisecond
}

func (p *Provider) SessionEndLastEventThreshold() time.Duration {
	return time.Duration(resolve(p, func(c *Config) *int64 { return c.SessionEndLastEventThresholdMs })) * time.Millisecond
}

func (p *Provider) SessionTTL() time.Duration {
	return time.Duration(resolve(p, func(c *Config) *int64 { return c.SessionTTLMs })) * time.Millisecond
}

func (p *Provider) TraceSamplingRate() float64 {
	return resolve(p, func(c *Config) *float64 { return c.TraceSamplingRate })
}

func (p *Provider) HTTPSamplingRate() float64 {
	return resolve(p, func(c *Config) *float64 { return c.HTTPSamplingRate })
}

func (p *Provider) ColdLaunchSamplingRate() float64 {
	return resolve(p, func(c *Config) *float64 { return c.ColdLaunchSamplingRate })
}

func (p *Provider) WarmLaunchSamplingRate() float64 {
	return resolve(p, func(c *Config) *float64 { return c.WarmLaunchSamplingRate })
}

func (p *Provider) HotLaunchSamplingRate() float64 {
	return resolve(p, func(c *Config) *float64 { return c.HotLaunchSamplingRate })
}

func (p *Provider) JourneySamplingRate() float64 {
	return resolve(p, func(c *Config) *float64 { return c.JourneySamplingRate })
}

func (p *Provider) EnableFullCollectionMode() bool {
	return resolve(p, func(c *Config) *bool { return c.EnableFullCollectionMode })
}

func (p *Provider) MaxUserDefinedAttributesPerEvent() int {
	return resolve(p, func(c *Config) *int { return c.MaxUserDefinedAttributesPerEvent })
}

func (p *Provider) MaxUserDefinedAttributeKeyLength() int {
	return resolve(p, func(c *Config) *int { return c.MaxUserDefinedAttributeKeyLength })
}

func (p *Provider) MaxUserDefinedAttributeValueLength() int {
	return resolve(p, func(c *Config) *int { return c.MaxUserDefinedAttributeValueLength })
}

func (p *Provider) MaxSpanNameLength() int {
	return resolve(p, func(c *Config) *int { return c.MaxSpanNameLength })
}

func (p *Provider) MaxCheckpointNameLength() int {
	return resolve(p, func(c *Config) *int { return c.MaxCheckpointNameLength })
}

func (p *Provider) MaxCheckpointsPerSpan() int {
	return resolve(p, func(c *Config) *int { return c.MaxCheckpointsPerSpan })
}

func (p *Provider) MaxEventNameLength() int {
	return resolve(p, func(c *Config) *int { return c.MaxEventNameLength })
}

func (p *Provider) CustomEventNameRegex() string {
	return resolve(p, func(c *Config) *string { return c.CustomEventNameRegex })
}

func (p *Provider) EventQueueSize() int {
	return resolve(p, func(c *Config) *int { return c.EventQueueSize })
}

func (p *Provider) EventsBatchingInterval() time.Duration {
	return time.Duration(resolve(p, func(c *Config) *int64 { return c.EventsBatchingIntervalMs })) * time.Millisecond
}

func (p *Provider) MaxExportAttempts() int {
	return resolve(p, func(c *Config) *int { return c.MaxExportAttempts })
}

func (p *Provider) CompressExportPayload() bool {
	return resolve(p, func(c *Config) *bool { return c.CompressExportPayload })
}

func (p *Provider) CPUUsageInterval() time.Duration {
	return time.Duration(resolve(p, func(c *Config) *int64 { return c.CPUUsageIntervalMs })) * time.Millisecond
}

func (p *Provider) MemoryUsageInterval() time.Duration {
	return time.Duration(resolve(p, func(c *Config) *int64 { return c.MemoryUsageIntervalMs })) * time.Millisecond
}

func (p *Provider) TrackHTTPHeaders() bool {
	return resolve(p, func(c *Config) *bool { return c.TrackHTTPHeaders })
}

func (p *Provider) TrackHTTPBody() bool {
	return resolve(p, func(c *Config) *bool { return c.TrackHTTPBody })
}

func (p *Provider) TrackScreenshotOnCrash() bool {
	return resolve(p, func(c *Config) *bool { return c.TrackScreenshotOnCrash })
}

func (p *Provider) EnableLogging() bool {
	return resolve(p, func(c *Config) *bool { return c.EnableLogging })
}

func (p *Provider) HTTPURLBlocklist() []string {
	return resolveList(p, func(c *Config) []string { return c.HTTPURLBlocklist })
}

func (p *Provider) HTTPURLAllowlist() []string {
	return resolveList(p, func(c *Config) []string { return c.HTTPURLAllowlist })
}

func (p *Provider) HTTPHeadersBlocklist() []string {
	return resolveList(p, func(c *Config) []string { return c.HTTPHeadersBlocklist })
}

func (p *Provider) HTTPContentTypeAllowlist() []string {
	return resolveList(p, func(c *Config) []string { return c.HTTPContentTypeAllowlist })
}

// ShouldTrackHttpUrl reports whether requests to url may be captured. A
// non-empty allowlist takes precedence over the blocklist, which is the
// default blocklist combined with the configured one.
func (p *Provider) ShouldTrackHttpUrl(url string) bool {
	p.mu.RLock()
	own := []string{p.measureURL, p.endpoint.URL}
	p.mu.RUnlock()
	if containsAny(url, own) {
		return false
	}
	if allow := p.HTTPURLAllowlist(); len(allow) > 0 {
		return containsAny(url, allow)
	}
	return !containsAny(url, p.defaults.HTTPURLBlocklist) && !containsAny(url, p.HTTPURLBlocklist())
}

func (p *Provider) ShouldTrackHttpHeader(key string) bool {
	for _, h := range defaultHTTPHeadersBlocklist {
		if strings.EqualFold(h, key) {
			return false
		}
	}
	for _, h := range p.HTTPHeadersBlocklist() {
		if strings.EqualFold(h, key) {
			return false
		}
	}
	return true
}

func (p *Provider) ShouldTrackHttpBody(url, contentType string) bool {
	if !p.TrackHTTPBody() || contentType == "" || !p.ShouldTrackHttpUrl(url) {
		return false
	}
	contentType = strings.ToLower(contentType)
	for _, allowed := range p.HTTPContentTypeAllowlist() {
		if strings.HasPrefix(contentType, strings.ToLower(allowed)) {
			return true
		}
	}
	return false
}

func containsAny(s string, patterns []string) bool {
	s = strings.ToLower(s)
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

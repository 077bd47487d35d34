package timeutil

import (
	"sync"
	"time"
)

// Provider supplies wall clock and monotonic timestamps in milliseconds.
type Provider interface {
	// NowMs returns the wall clock time in milliseconds since epoch.
	NowMs() int64
	// UptimeMs returns monotonic milliseconds since the provider was created.
	UptimeMs() int64
}

type SystemProvider struct {
	start time.Time
}

func NewSystemProvider() *SystemProvider {
	return &SystemProvider{start: time.Now()}
}

func (p *SystemProvider) NowMs() int64 {
	return time.Now().UnixMilli()
}

func (p *SystemProvider) UptimeMs() int64 {
	return time.Since(p.start).Milliseconds()
}

// FakeProvider is a manually driven clock for tests.
type FakeProvider struct {
	mu     sync.Mutex
	now    int64
	uptime int64
}

func NewFakeProvider(nowMs int64) *FakeProvider {
	return &FakeProvider{now: nowMs}
}

func (p *FakeProvider) NowMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

func (p *FakeProvider) UptimeMs() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uptime
}

// Advance moves both clocks forward.
func (p *FakeProvider) Advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now += d.Milliseconds()
	p.uptime += d.Milliseconds()
}

// Set moves the wall clock to ms without touching uptime.
func (p *FakeProvider) Set(ms int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = ms
}

// ISO8601 formats a millisecond timestamp the way events are sent on the wire.
func ISO8601(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

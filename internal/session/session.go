package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/idutil"
	"github.com/getsentry/orbit/internal/platform"
	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	// Session is immutable once created except for the Synced and Crashed
	// flags, which only the store updates.
	Session struct {
		ID        string   `json:"id"`
		StartTime int64    `json:"start_time"`
		PID       int      `json:"pid"`
		Resource  Resource `json:"resource"`
		Synced    bool     `json:"synced"`
		Crashed   bool     `json:"crashed"`
	}

	// Resource is the static device, os and app descriptor captured when a
	// session starts.
	Resource struct {
		Platform           platform.Platform `json:"platform"`
		OSName             string            `json:"os_name"`
		OSVersion          string            `json:"os_version,omitempty"`
		DeviceModel        string            `json:"device_model,omitempty"`
		DeviceManufacturer string            `json:"device_manufacturer,omitempty"`
		DeviceArch         string            `json:"device_cpu_arch,omitempty"`
		DeviceName         string            `json:"device_name,omitempty"`
		AppVersion         string            `json:"app_version"`
		AppBuild           string            `json:"app_build"`
		AppUniqueID        string            `json:"app_unique_id,omitempty"`
		SDKVersion         string            `json:"measure_sdk_version"`
	}

	// Store persists sessions. StoreSession must be durable when it returns.
	Store interface {
		StoreSession(ctx context.Context, s Session) error
	}

	Thresholds interface {
		SessionBackgroundTimeout() time.Duration
		SessionEndLastEventThreshold() time.Duration
	}

	// Manager owns the current session. The current session only changes in
	// Init and in SessionForEvent, which the event processor calls from its
	// single write path.
	Manager struct {
		clock      timeutil.Provider
		ids        idutil.Provider
		store      Store
		thresholds Thresholds
		resource   func() Resource

		mu              sync.Mutex
		current         *Session
		lastEventUptime int64
		hasLastEvent    bool
		backgroundedAt  int64
		foreground      bool
		rotatePending   bool
		listeners       []func(Session)
	}
)

func NewManager(clock timeutil.Provider, ids idutil.Provider, store Store, thresholds Thresholds, resource func() Resource) *Manager {
	return &Manager{
		clock:      clock,
		ids:        ids,
		store:      store,
		thresholds: thresholds,
		resource:   resource,
		foreground: true,
	}
}

// Init starts the session for this process.
func (m *Manager) Init(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.current != nil {
		id := m.current.ID
		m.mu.Unlock()
		return id, nil
	}
	s, err := m.startLocked(ctx)
	listeners := m.listeners
	m.mu.Unlock()
	if err != nil {
		return "", err
	}
	notify(listeners, s)
	return s.ID, nil
}

// CurrentSessionID returns an empty string before Init.
func (m *Manager) CurrentSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ""
	}
	return m.current.ID
}

// OnSessionStarted registers f to run every time a new session is persisted.
// Register listeners before Init.
func (m *Manager) OnSessionStarted(f func(Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, f)
}

func (m *Manager) OnAppBackground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.foreground {
		return
	}
	m.foreground = false
	m.backgroundedAt = m.clock.UptimeMs()
}

// OnAppForeground records the transition. If the app stayed in the
// background longer than the threshold, the next event starts a new session.
func (m *Manager) OnAppForeground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.foreground {
		return
	}
	m.foreground = true
	elapsed := time.Duration(m.clock.UptimeMs()-m.backgroundedAt) * time.Millisecond
	if elapsed > m.thresholds.SessionBackgroundTimeout() {
		m.rotatePending = true
	}
	m.backgroundedAt = 0
}

func (m *Manager) IsForeground() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.foreground
}

// SessionForEvent returns the session the next event belongs to, starting
// and persisting a new one when the previous session ended.
func (m *Manager) SessionForEvent(ctx context.Context) (string, error) {
	m.mu.Lock()
	rotate := m.current == nil || m.rotatePending
	if !rotate && m.hasLastEvent {
		gap := time.Duration(m.clock.UptimeMs()-m.lastEventUptime) * time.Millisecond
		rotate = gap > m.thresholds.SessionEndLastEventThreshold()
	}
	if !rotate {
		id := m.current.ID
		m.mu.Unlock()
		return id, nil
	}
	s, err := m.startLocked(ctx)
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	m.rotatePending = false
	listeners := m.listeners
	m.mu.Unlock()
	notify(listeners, s)
	return s.ID, nil
}

func (m *Manager) OnEventTracked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastEventUptime = m.clock.UptimeMs()
	m.hasLastEvent = true
}

// startLocked persists a new session before exposing it.
func (m *Manager) startLocked(ctx context.Context) (Session, error) {
	s := Session{
		ID:        m.ids.UUID(),
		StartTime: m.clock.NowMs(),
		PID:       os.Getpid(),
	}
	if m.resource != nil {
		s.Resource = m.resource()
	}
	err := m.store.StoreSession(ctx, s)
	if err != nil {
		return Session{}, fmt.Errorf("storing session: %w", err)
	}
	previous := ""
	if m.current != nil {
		previous = m.current.ID
	}
	m.current = &s
	m.hasLastEvent = false
	log.Debug().Str("session_id", s.ID).Str("previous_session_id", previous).Msg("session started")
	return s, nil
}

func notify(listeners []func(Session), s Session) {
	for _, l := range listeners {
		l(s)
	}
}

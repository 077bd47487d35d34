package crash

import (
	"context"
	"errors"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/attribute"
	"github.com/getsentry/orbit/internal/errorutil"
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/idutil"
)

type (
	Tracker interface {
		TrackCrash(data any, timestamp int64, typ event.Type, opts ...event.Option) error
	}

	ExitRecorder interface {
		StoreExitRecord(ctx context.Context, e event.Event) error
	}

	Sessions interface {
		CurrentSessionID() string
		IsForeground() bool
	}

	ManagerOptions struct {
		Reporter   Reporter
		Slot       *Slot
		Tracker    Tracker
		Exits      ExitRecorder
		Sessions   Sessions
		IDs        idutil.Provider
		Processors []attribute.Processor
		Formatter  Formatter
	}

	// Manager installs the crash callback and turns the crash left by a
	// previous run into an exception event.
	Manager struct {
		ManagerOptions

		mu      sync.Mutex
		state   State
		enabled bool
	}

	AppExit struct {
		Reason string `json:"reason"`
	}
)

func NewManager(opts ManagerOptions) *Manager {
	return &Manager{ManagerOptions: opts}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Enable prepares the crash context and installs the callback committing it.
func (m *Manager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return
	}
	m.prepareLocked()
	m.Reporter.SetCrashCallback(m.Slot.Commit)
	m.enabled = true
	m.state = Enabled
}

func (m *Manager) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reporter.SetCrashCallback(nil)
	m.enabled = false
	m.state = Disabled
}

// Refresh re-encodes the crash context. Call it whenever the session, the
// foreground state or the attributes change.
func (m *Manager) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.prepareLocked()
}

func (m *Manager) prepareLocked() {
	err := m.Slot.Prepare(Context{
		SessionID:  m.Sessions.CurrentSessionID(),
		Foreground: m.Sessions.IsForeground(),
		Attributes: attribute.Snapshot(m.Processors),
	})
	if err != nil {
		log.Warn().Err(err).Msg("error preparing crash context")
	}
}

// ReplayPendingCrash tracks the crash of the previous run, if any, in the
// session it happened in. The report is only purged once the exception is
// stored, a failure leaves it for the next start.
func (m *Manager) ReplayPendingCrash(ctx context.Context) error {
	if !m.Reporter.HasPendingCrashReport() {
		return nil
	}
	m.setState(PendingCrashReport)

	raw, err := m.Reporter.LoadCrashReport()
	if err != nil {
		return err
	}
	crashContext, ok, err := m.Slot.Load()
	if err != nil {
		log.Warn().Err(err).Msg("error loading crash context")
	}
	data, timestamp, err := m.Formatter.Format(raw, crashContext.Foreground)
	if err != nil {
		// A report we can't read will never get better.
		sentry.CaptureException(err)
		log.Error().Err(err).Msg("dropping unreadable crash report")
		m.purge()
		return err
	}

	sessionID := ""
	if ok {
		sessionID = crashContext.SessionID
	}
	// Storing the exception may start an export of the crashed session, so
	// its exit record must already be there.
	if sessionID != "" {
		err = m.Exits.StoreExitRecord(ctx, event.Event{
			ID:         m.IDs.UUID(),
			SessionID:  sessionID,
			Timestamp:  timestamp,
			Type:       event.TypeAppExit,
			Data:       AppExit{Reason: "CRASHED"},
			Attributes: crashContext.Attributes,
			Sampled:    true,
		})
		if errors.Is(err, errorutil.ErrSessionNotFound) {
			log.Warn().Str("session_id", sessionID).Msg("crashed session is gone, tracking the crash in the current session")
			sessionID = ""
		} else if err != nil {
			return err
		}
	}

	opts := []event.Option{event.WithAttributes(crashContext.Attributes)}
	if sessionID != "" {
		opts = append(opts, event.WithSessionID(sessionID))
	}
	err = m.Tracker.TrackCrash(data, timestamp, event.TypeException, opts...)
	if sessionID != "" && errors.Is(err, errorutil.ErrSessionNotFound) {
		log.Warn().Str("session_id", sessionID).Msg("crashed session is gone, tracking the crash in the current session")
		err = m.Tracker.TrackCrash(data, timestamp, event.TypeException, event.WithAttributes(crashContext.Attributes))
	}
	if err != nil {
		return err
	}
	m.purge()
	m.setState(Replayed)
	return nil
}

func (m *Manager) purge() {
	err := m.Reporter.ClearCrashData()
	if err != nil {
		log.Error().Err(err).Msg("error clearing crash report")
	}
	err = m.Slot.Clear()
	if err != nil {
		log.Error().Err(err).Msg("error clearing crash context")
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

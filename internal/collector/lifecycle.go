package collector

import (
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/timeutil"
)

const (
	AppForeground = "foreground"
	AppBackground = "background"
)

// Screen lifecycle transitions.
const (
	ScreenCreated   = "created"
	ScreenResumed   = "resumed"
	ScreenPaused    = "paused"
	ScreenDestroyed = "destroyed"
)

type (
	AppSessions interface {
		OnAppForeground()
		OnAppBackground()
	}

	AppLifecycleData struct {
		Type string `json:"type"`
	}

	ScreenLifecycleData struct {
		Type          string `json:"type"`
		ClassName     string `json:"class_name"`
		Intent        string `json:"intent,omitempty"`
		SavedInstance bool   `json:"saved_instance_state,omitempty"`
	}

	// Lifecycle tracks the app moving between foreground and background.
	Lifecycle struct {
		tracker  Tracker
		sessions AppSessions
		clock    timeutil.Provider

		onForeground []func()
		onBackground []func()
	}
)

func NewLifecycle(tracker Tracker, sessions AppSessions, clock timeutil.Provider) *Lifecycle {
	return &Lifecycle{tracker: tracker, sessions: sessions, clock: clock}
}

// OnForegrounded registers f to run after the app came to the foreground.
func (l *Lifecycle) OnForegrounded(f func()) {
	l.onForeground = append(l.onForeground, f)
}

// OnBackgrounded registers f to run after the app went to the background,
// such as exporting the active session.
func (l *Lifecycle) OnBackgrounded(f func()) {
	l.onBackground = append(l.onBackground, f)
}

// OnForeground lets the session manager rotate first, so the event lands
// in the session that starts now.
func (l *Lifecycle) OnForeground() {
	l.sessions.OnAppForeground()
	l.tracker.Track(AppLifecycleData{Type: AppForeground}, l.clock.NowMs(), event.TypeLifecycleApp)
	for _, f := range l.onForeground {
		f()
	}
}

func (l *Lifecycle) OnBackground() {
	l.tracker.Track(AppLifecycleData{Type: AppBackground}, l.clock.NowMs(), event.TypeLifecycleApp)
	l.sessions.OnAppBackground()
	for _, f := range l.onBackground {
		f()
	}
}

func (l *Lifecycle) OnScreen(transition, className string) {
	l.tracker.Track(ScreenLifecycleData{Type: transition, ClassName: className}, l.clock.NowMs(), event.TypeLifecycleScreen)
}

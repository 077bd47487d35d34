package launch

import (
	"sync"

	"github.com/getsentry/orbit/internal/timeutil"
)

type Type string

const (
	Cold Type = "cold"
	Warm Type = "warm"
	Hot  Type = "hot"
)

type (
	// EarlyCapture holds timestamps recorded before the SDK is initialized.
	// It is created once when the process attaches and handed to the launch
	// collector, which consumes it on the first launch.
	EarlyCapture struct {
		mu       sync.Mutex
		snapshot Snapshot
		consumed bool
	}

	// Snapshot is the content of an EarlyCapture. All values are uptime
	// milliseconds, zero when unknown.
	Snapshot struct {
		ProcessStartUptime          int64
		ProcessStartRequestedUptime int64
		AttachUptime                int64
	}

	// Signals are the facts a Classifier decides on.
	Signals struct {
		// ColdLaunchComplete is true once a cold launch was reported for
		// this process.
		ColdLaunchComplete bool
		// SameMessage is true when the screen was created in the same main
		// loop message that made it visible, meaning it was recreated.
		SameMessage bool
		// ForegroundProcess is true when the process was started to show UI.
		ForegroundProcess bool
	}

	// Classifier decides the type of a launch. It returns false when the
	// launch must not be reported.
	Classifier func(s Signals) (Type, bool)

	ColdData struct {
		ProcessStartUptime          int64  `json:"process_start_uptime,omitempty"`
		ProcessStartRequestedUptime int64  `json:"process_start_requested_uptime,omitempty"`
		ContentProviderAttachUptime int64  `json:"content_provider_attach_uptime,omitempty"`
		OnNextDrawUptime            int64  `json:"on_next_draw_uptime"`
		LaunchedActivity            string `json:"launched_activity"`
		HasSavedState               bool   `json:"has_saved_state"`
		IntentData                  string `json:"intent_data,omitempty"`
	}

	// WarmData is also used for hot launches.
	WarmData struct {
		AppVisibleUptime int64  `json:"app_visible_uptime"`
		OnNextDrawUptime int64  `json:"on_next_draw_uptime"`
		LaunchedActivity string `json:"launched_activity"`
		HasSavedState    bool   `json:"has_saved_state"`
		IntentData       string `json:"intent_data,omitempty"`
	}
)

// NewEarlyCapture records the attach time. Call it as early as the host
// allows.
func NewEarlyCapture(clock timeutil.Provider, processStartUptime, processStartRequestedUptime int64) *EarlyCapture {
	return &EarlyCapture{
		snapshot: Snapshot{
			ProcessStartUptime:          processStartUptime,
			ProcessStartRequestedUptime: processStartRequestedUptime,
			AttachUptime:                clock.UptimeMs(),
		},
	}
}

// Consume returns the captured timestamps once and clears them.
func (c *EarlyCapture) Consume() (Snapshot, bool) {
	if c == nil {
		return Snapshot{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumed {
		return Snapshot{}, false
	}
	c.consumed = true
	s := c.snapshot
	c.snapshot = Snapshot{}
	return s, true
}

// DefaultClassifier reports a launch in a process that was not started for
// UI as warm.
//
// This is one of two rules in use. The other ignores such launches
// entirely, see ForegroundOnlyClassifier. Which one is right is still
// undecided, so the choice is left to the caller.
func DefaultClassifier(s Signals) (Type, bool) {
	switch {
	case s.ColdLaunchComplete && s.SameMessage:
		return Warm, true
	case s.ColdLaunchComplete:
		return Hot, true
	case s.ForegroundProcess:
		return Cold, true
	}
	return Warm, true
}

// ForegroundOnlyClassifier drops the first launch of a process that was
// started in the background.
func ForegroundOnlyClassifier(s Signals) (Type, bool) {
	if !s.ColdLaunchComplete && !s.ForegroundProcess {
		return "", false
	}
	return DefaultClassifier(s)
}

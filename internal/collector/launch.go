package collector

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/idutil"
	"github.com/getsentry/orbit/internal/launch"
	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	LaunchSampler interface {
		ShouldTrackLaunch(launchType, launchID string) bool
	}

	// LaunchedScreen describes the first screen drawn by a launch.
	LaunchedScreen struct {
		Name          string
		HasSavedState bool
		IntentData    string
		// SameMessage is true when the screen was created in the main loop
		// message that drew it.
		SameMessage       bool
		ForegroundProcess bool
	}

	// AppLaunch reports cold, warm and hot launches.
	AppLaunch struct {
		tracker  Tracker
		clock    timeutil.Provider
		ids      idutil.Provider
		sampler  LaunchSampler
		classify launch.Classifier
		capture  *launch.EarlyCapture

		mu                 sync.Mutex
		coldLaunchComplete bool
		appVisibleUptime   int64
	}
)

func NewAppLaunch(tracker Tracker, clock timeutil.Provider, ids idutil.Provider, sampler LaunchSampler, classify launch.Classifier, capture *launch.EarlyCapture) *AppLaunch {
	if classify == nil {
		classify = launch.DefaultClassifier
	}
	return &AppLaunch{
		tracker:  tracker,
		clock:    clock,
		ids:      ids,
		sampler:  sampler,
		classify: classify,
		capture:  capture,
	}
}

// OnAppVisible marks the start of a warm or hot launch.
func (a *AppLaunch) OnAppVisible() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coldLaunchComplete {
		a.appVisibleUptime = a.clock.UptimeMs()
	}
}

// OnFirstDraw ends the launch in progress.
func (a *AppLaunch) OnFirstDraw(s LaunchedScreen) {
	drawn := a.clock.UptimeMs()

	a.mu.Lock()
	typ, ok := a.classify(launch.Signals{
		ColdLaunchComplete: a.coldLaunchComplete,
		SameMessage:        s.SameMessage,
		ForegroundProcess:  s.ForegroundProcess,
	})
	if !ok {
		a.mu.Unlock()
		log.Debug().Str("screen", s.Name).Msg("launch not reported")
		return
	}
	var data any
	var eventType event.Type
	switch typ {
	case launch.Cold:
		a.coldLaunchComplete = true
		snapshot, _ := a.capture.Consume()
		eventType = event.TypeColdLaunch
		data = launch.ColdData{
			ProcessStartUptime:          snapshot.ProcessStartUptime,
			ProcessStartRequestedUptime: snapshot.ProcessStartRequestedUptime,
			ContentProviderAttachUptime: snapshot.AttachUptime,
			OnNextDrawUptime:            drawn,
			LaunchedActivity:            s.Name,
			HasSavedState:               s.HasSavedState,
			IntentData:                  s.IntentData,
		}
	default:
		visible := a.appVisibleUptime
		if visible == 0 {
			// A process started in the background, the app became
			// visible no later than the process attached.
			snapshot, _ := a.capture.Consume()
			visible = snapshot.AttachUptime
		}
		eventType = event.TypeWarmLaunch
		if typ == launch.Hot {
			eventType = event.TypeHotLaunch
		}
		data = launch.WarmData{
			AppVisibleUptime: visible,
			OnNextDrawUptime: drawn,
			LaunchedActivity: s.Name,
			HasSavedState:    s.HasSavedState,
			IntentData:       s.IntentData,
		}
	}
	a.mu.Unlock()

	if !a.sampler.ShouldTrackLaunch(string(typ), a.ids.UUID()) {
		return
	}
	a.tracker.Track(data, a.clock.NowMs(), eventType)
}

package collector

import (
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/timeutil"
)

// Memory trim levels reported by the host.
const (
	TrimMemoryRunningModerate = 5
	TrimMemoryRunningLow      = 10
	TrimMemoryRunningCritical = 15
	TrimMemoryUIHidden        = 20
	TrimMemoryBackground      = 40
	TrimMemoryModerate        = 60
	TrimMemoryComplete        = 80
)

var trimLevels = map[int]string{
	TrimMemoryRunningModerate: "TRIM_MEMORY_RUNNING_MODERATE",
	TrimMemoryRunningLow:      "TRIM_MEMORY_RUNNING_LOW",
	TrimMemoryRunningCritical: "TRIM_MEMORY_RUNNING_CRITICAL",
	TrimMemoryUIHidden:        "TRIM_MEMORY_UI_HIDDEN",
	TrimMemoryBackground:      "TRIM_MEMORY_BACKGROUND",
	TrimMemoryModerate:        "TRIM_MEMORY_MODERATE",
	TrimMemoryComplete:        "TRIM_MEMORY_COMPLETE",
}

type (
	TrimMemoryData struct {
		Level string `json:"level"`
	}

	LowMemoryData struct{}

	// ComponentCallbacks reports memory pressure signals.
	ComponentCallbacks struct {
		tracker Tracker
		clock   timeutil.Provider
	}
)

func NewComponentCallbacks(tracker Tracker, clock timeutil.Provider) *ComponentCallbacks {
	return &ComponentCallbacks{tracker: tracker, clock: clock}
}

func TrimLevelName(level int) string {
	if name, ok := trimLevels[level]; ok {
		return name
	}
	return "TRIM_MEMORY_UNKNOWN"
}

func (c *ComponentCallbacks) OnTrimMemory(level int) {
	c.tracker.Track(TrimMemoryData{Level: TrimLevelName(level)}, c.clock.NowMs(), event.TypeTrimMemory)
}

func (c *ComponentCallbacks) OnLowMemory() {
	c.tracker.Track(LowMemoryData{}, c.clock.NowMs(), event.TypeLowMemory)
}

package collector

import (
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	// Target is the view a gesture landed on.
	Target struct {
		Name   string
		ID     string
		Width  int
		Height int
	}

	ClickData struct {
		Target        string  `json:"target"`
		TargetID      string  `json:"target_id,omitempty"`
		Width         int     `json:"width,omitempty"`
		Height        int     `json:"height,omitempty"`
		X             float64 `json:"x"`
		Y             float64 `json:"y"`
		TouchDownTime int64   `json:"touch_down_time"`
		TouchUpTime   int64   `json:"touch_up_time"`
	}

	ScrollData struct {
		Target        string  `json:"target"`
		TargetID      string  `json:"target_id,omitempty"`
		X             float64 `json:"x"`
		Y             float64 `json:"y"`
		EndX          float64 `json:"end_x"`
		EndY          float64 `json:"end_y"`
		Direction     string  `json:"direction"`
		TouchDownTime int64   `json:"touch_down_time"`
		TouchUpTime   int64   `json:"touch_up_time"`
	}

	Gesture struct {
		tracker Tracker
		clock   timeutil.Provider
	}
)

func NewGesture(tracker Tracker, clock timeutil.Provider) *Gesture {
	return &Gesture{tracker: tracker, clock: clock}
}

// OnClick takes the touch down and up times in uptime milliseconds.
func (g *Gesture) OnClick(t Target, x, y float64, down, up int64) {
	g.tracker.Track(clickData(t, x, y, down, up), g.clock.NowMs(), event.TypeGestureClick)
}

func (g *Gesture) OnLongClick(t Target, x, y float64, down, up int64) {
	g.tracker.Track(clickData(t, x, y, down, up), g.clock.NowMs(), event.TypeGestureLongClick)
}

func (g *Gesture) OnScroll(t Target, x, y, endX, endY float64, down, up int64) {
	g.tracker.Track(ScrollData{
		Target:        t.Name,
		TargetID:      t.ID,
		X:             x,
		Y:             y,
		EndX:          endX,
		EndY:          endY,
		Direction:     direction(x, y, endX, endY),
		TouchDownTime: down,
		TouchUpTime:   up,
	}, g.clock.NowMs(), event.TypeGestureScroll)
}

func clickData(t Target, x, y float64, down, up int64) ClickData {
	return ClickData{
		Target:        t.Name,
		TargetID:      t.ID,
		Width:         t.Width,
		Height:        t.Height,
		X:             x,
		Y:             y,
		TouchDownTime: down,
		TouchUpTime:   up,
	}
}

// direction is the direction the content moves, the opposite of the finger.
func direction(x, y, endX, endY float64) string {
	dx, dy := endX-x, endY-y
	if abs(dx) > abs(dy) {
		if dx > 0 {
			return "left"
		}
		return "right"
	}
	if dy > 0 {
		return "up"
	}
	return "down"
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// Package collector turns host signals into events.
package collector

import (
	"github.com/getsentry/orbit/internal/event"
)

// Tracker is the event funnel collectors report to.
type Tracker interface {
	Track(data any, timestamp int64, typ event.Type, opts ...event.Option)
	TrackUserTriggered(data any, timestamp int64, typ event.Type, opts ...event.Option)
}

package collector

import (
	"sync"

	"github.com/getsentry/orbit/internal/event"
)

type (
	tracked struct {
		Data          any
		Timestamp     int64
		Type          event.Type
		UserTriggered bool
	}

	fakeTracker struct {
		mu     sync.Mutex
		events []tracked
	}
)

func (f *fakeTracker) Track(data any, timestamp int64, typ event.Type, opts ...event.Option) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, tracked{Data: data, Timestamp: timestamp, Type: typ})
}

func (f *fakeTracker) TrackUserTriggered(data any, timestamp int64, typ event.Type, opts ...event.Option) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, tracked{Data: data, Timestamp: timestamp, Type: typ, UserTriggered: true})
}

func (f *fakeTracker) tracked() []tracked {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tracked(nil), f.events...)
}

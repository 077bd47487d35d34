package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/attribute"
	"github.com/getsentry/orbit/internal/errorutil"
	"github.com/getsentry/orbit/internal/idutil"
)

type (
	// Sessions resolves the session of the next event. It is only called
	// from the processor's write path.
	Sessions interface {
		SessionForEvent(ctx context.Context) (string, error)
		OnEventTracked()
	}

	// Store persists events durably.
	Store interface {
		StoreEvent(ctx context.Context, e Event) error
		MarkSessionCrashed(ctx context.Context, sessionID string) error
	}

	Limits interface {
		MaxUserDefinedAttributesPerEvent() int
		MaxUserDefinedAttributeKeyLength() int
		MaxUserDefinedAttributeValueLength() int
		EventQueueSize() int
	}

	JourneySampler interface {
		ShouldTrackJourneyForSession(sessionID string) bool
	}

	// Processor is the single entry point for every collector. Requests are
	// serialized onto one write path so storage never sees concurrent writers.
	Processor struct {
		ids        idutil.Provider
		sessions   Sessions
		store      Store
		limits     Limits
		sampler    JourneySampler
		processors []attribute.Processor
		onCrash    func(sessionID string)

		queue chan *request
		done  chan struct{}

		mu     sync.RWMutex
		closed bool
	}
)

func NewProcessor(ids idutil.Provider, sessions Sessions, store Store, limits Limits, sampler JourneySampler, processors []attribute.Processor) *Processor {
	size := limits.EventQueueSize()
	if size <= 0 {
		size = 1
	}
	p := &Processor{
		ids:        ids,
		sessions:   sessions,
		store:      store,
		limits:     limits,
		sampler:    sampler,
		processors: processors,
		queue:      make(chan *request, size),
		done:       make(chan struct{}),
	}
	go p.run()
	return p
}

// OnCrash registers f to run after a crash has been persisted, typically
// to export the crashed session right away.
func (p *Processor) OnCrash(f func(sessionID string)) {
	p.onCrash = f
}

// Track persists an event and returns once it is durable. Failures are
// logged and never returned to the collector.
func (p *Processor) Track(data any, timestamp int64, typ Type, opts ...Option) {
	_ = p.submit(p.newRequest(data, timestamp, typ, false, opts))
}

// TrackUserTriggered is Track for events the app explicitly reported.
func (p *Processor) TrackUserTriggered(data any, timestamp int64, typ Type, opts ...Option) {
	_ = p.submit(p.newRequest(data, timestamp, typ, true, opts))
}

// TrackCrash persists a crash or ANR, marks its session as crashed and
// returns the persistence error so the caller can keep its copy on failure.
func (p *Processor) TrackCrash(data any, timestamp int64, typ Type, opts ...Option) error {
	r := p.newRequest(data, timestamp, typ, false, opts)
	r.crash = true
	return p.submit(r)
}

func (p *Processor) newRequest(data any, timestamp int64, typ Type, userTriggered bool, opts []Option) *request {
	r := &request{
		event: Event{
			Timestamp:     timestamp,
			Type:          typ,
			Data:          data,
			Attributes:    make(map[string]any),
			UserTriggered: userTriggered,
			Sampled:       true,
		},
		done: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.threadName != "" {
		r.event.Attributes[attribute.KeyThreadName] = r.threadName
	}
	return r
}

func (p *Processor) submit(r *request) error {
	err := attribute.Validate(r.event.UserDefinedAttributes, attribute.Limits{
		MaxCount:       p.limits.MaxUserDefinedAttributesPerEvent(),
		MaxKeyLength:   p.limits.MaxUserDefinedAttributeKeyLength(),
		MaxValueLength: p.limits.MaxUserDefinedAttributeValueLength(),
	})
	if err != nil {
		log.Warn().Err(err).Str("event_type", string(r.event.Type)).Msg("dropping event with invalid user defined attributes")
		return err
	}
	attribute.Apply(r.event.Attributes, p.processors)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return errorutil.ErrProcessorClosed
	}
	p.queue <- r
	p.mu.RUnlock()
	return <-r.done
}

func (p *Processor) run() {
	defer close(p.done)
	for r := range p.queue {
		r.done <- p.process(r)
	}
}

func (p *Processor) process(r *request) error {
	ctx := context.Background()
	e := &r.event
	resolved := e.SessionID == ""
	if resolved {
		id, err := p.sessions.SessionForEvent(ctx)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Str("event_type", string(e.Type)).Msg("no session for event")
			return err
		}
		e.SessionID = id
	}
	e.ID = p.ids.UUID()
	if e.Type.IsJourney() && p.sampler != nil {
		e.Sampled = p.sampler.ShouldTrackJourneyForSession(e.SessionID)
	}

	err := p.store.StoreEvent(ctx, *e)
	if err != nil {
		if !errors.Is(err, errorutil.ErrSessionNotFound) {
			sentry.CaptureException(err)
		}
		log.Error().Err(err).Str("event_type", string(e.Type)).Str("session_id", e.SessionID).Msg("error storing event")
		return fmt.Errorf("storing event: %w", err)
	}
	if r.crash {
		err = p.store.MarkSessionCrashed(ctx, e.SessionID)
		if err != nil {
			log.Error().Err(err).Str("session_id", e.SessionID).Msg("error marking session as crashed")
		}
	}
	if resolved {
		p.sessions.OnEventTracked()
	}
	log.Debug().Str("event_id", e.ID).Str("event_type", string(e.Type)).Str("session_id", e.SessionID).Msg("event stored")

	if r.crash && p.onCrash != nil {
		go p.onCrash(e.SessionID)
	}
	return nil
}

// Close stops accepting events and waits for queued ones to be stored.
func (p *Processor) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	<-p.done
}

package span

import (
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/getsentry/orbit/internal/attribute"
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/idutil"
	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	Limits interface {
		MaxSpanNameLength() int
		MaxCheckpointNameLength() int
		MaxCheckpointsPerSpan() int
	}

	Sampler interface {
		ShouldSampleTrace(traceID string) bool
	}

	Sessions interface {
		CurrentSessionID() string
	}

	// Tracker is the event processor finished spans are handed to.
	Tracker interface {
		Track(data any, timestamp int64, typ event.Type, opts ...event.Option)
	}

	// Processor validates spans when they start and end.
	Processor struct {
		clock      timeutil.Provider
		limits     Limits
		sampler    Sampler
		sessions   Sessions
		tracker    Tracker
		processors []attribute.Processor
	}

	StartOption func(*startOptions)

	startOptions struct {
		parent    *Span
		startTime int64
		thread    string
	}
)

func NewProcessor(clock timeutil.Provider, limits Limits, sampler Sampler, sessions Sessions, tracker Tracker, processors []attribute.Processor) *Processor {
	return &Processor{
		clock:      clock,
		limits:     limits,
		sampler:    sampler,
		sessions:   sessions,
		tracker:    tracker,
		processors: processors,
	}
}

func WithParent(parent *Span) StartOption {
	return func(o *startOptions) { o.parent = parent }
}

func WithStartTime(ms int64) StartOption {
	return func(o *startOptions) { o.startTime = ms }
}

func WithThreadName(name string) StartOption {
	return func(o *startOptions) { o.thread = name }
}

// Start creates a span. Children inherit the trace and sampling decision
// of their parent.
func (p *Processor) Start(name string, opts ...StartOption) *Span {
	var o startOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &Span{
		processor:             p,
		name:                  name,
		spanID:                idutil.NewSpanID(),
		startTime:             o.startTime,
		attributes:            make(map[string]any),
		userDefinedAttributes: make(map[string]any),
	}
	if s.startTime == 0 {
		s.startTime = p.clock.NowMs()
	}
	if o.parent != nil {
		s.traceID = o.parent.traceID
		s.parentID = o.parent.spanID
		s.sampled = o.parent.sampled
	} else {
		s.traceID = idutil.NewTraceID()
		s.sampled = p.sampler.ShouldSampleTrace(s.traceID)
	}
	if o.thread != "" {
		s.attributes[attribute.KeyThreadName] = o.thread
	}
	p.OnStart(s)
	return s
}

// OnStart stamps the session and the attributes known at start time.
func (p *Processor) OnStart(s *Span) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = p.sessions.CurrentSessionID()
	attribute.Apply(s.attributes, p.processors)
}

// OnEnd drops invalid spans and forwards sampled ones to the tracker.
func (p *Processor) OnEnd(s *Span) {
	s.mu.Lock()
	name := s.name
	duration := s.endTime - s.startTime
	if limit := p.limits.MaxCheckpointsPerSpan(); len(s.checkpoints) > limit {
		s.checkpoints = s.checkpoints[:limit]
	}
	sampled := s.sampled
	sessionID := s.sessionID
	attrs := make(map[string]any, len(s.attributes))
	for k, v := range s.attributes {
		attrs[k] = v
	}
	userDefined := make(map[string]any, len(s.userDefinedAttributes))
	for k, v := range s.userDefinedAttributes {
		userDefined[k] = v
	}
	startTime := s.startTime
	s.mu.Unlock()

	logger := log.With().Str("span_name", name).Str("trace_id", s.traceID).Logger()
	if strings.TrimSpace(name) == "" {
		logger.Warn().Msg("dropping span with a blank name")
		return
	}
	if len(name) > p.limits.MaxSpanNameLength() {
		logger.Warn().Int("max_length", p.limits.MaxSpanNameLength()).Msg("dropping span with a name too long")
		return
	}
	if duration < 0 {
		logger.Warn().Int64("duration", duration).Msg("dropping span with a negative duration")
		return
	}
	if !sampled {
		return
	}
	opts := []event.Option{event.WithAttributes(attrs)}
	if len(userDefined) > 0 {
		opts = append(opts, event.WithUserDefinedAttributes(userDefined))
	}
	if sessionID != "" {
		opts = append(opts, event.WithSessionID(sessionID))
	}
	p.tracker.Track(s.ToData(), startTime, event.TypeSpan, opts...)
}

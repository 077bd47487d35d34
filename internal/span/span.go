package span

import (
	"sync"

	"github.com/getsentry/orbit/internal/timeutil"
)

type Status int

const (
	StatusUnset Status = iota
	StatusOk
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusError:
		return "error"
	}
	return "unset"
}

type (
	Checkpoint struct {
		Name      string `json:"name"`
		Timestamp string `json:"timestamp"`
	}

	checkpoint struct {
		name      string
		timestamp int64
	}

	// Span is a named, timed operation. A span is safe for concurrent use
	// and becomes read only once ended.
	Span struct {
		processor *Processor

		mu                    sync.Mutex
		name                  string
		traceID               string
		spanID                string
		parentID              string
		sessionID             string
		startTime             int64
		endTime               int64
		ended                 bool
		status                Status
		sampled               bool
		checkpoints           []checkpoint
		attributes            map[string]any
		userDefinedAttributes map[string]any
	}

	// Data is the exported form of a finished span.
	Data struct {
		Name        string       `json:"name"`
		TraceID     string       `json:"trace_id"`
		SpanID      string       `json:"span_id"`
		ParentID    string       `json:"parent_id,omitempty"`
		SessionID   string       `json:"session_id"`
		StartTime   string       `json:"start_time"`
		EndTime     string       `json:"end_time"`
		Duration    int64        `json:"duration"`
		Status      int          `json:"status"`
		Checkpoints []Checkpoint `json:"checkpoints"`
		HasEnded    bool         `json:"has_ended"`
		IsSampled   bool         `json:"is_sampled"`
	}
)

func (s *Span) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Span) TraceID() string  { return s.traceID }
func (s *Span) SpanID() string   { return s.spanID }
func (s *Span) ParentID() string { return s.parentID }
func (s *Span) IsSampled() bool  { return s.sampled }

func (s *Span) SetName(name string) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.name = name
	}
	return s
}

func (s *Span) SetStatus(status Status) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.status = status
	}
	return s
}

func (s *Span) SetAttribute(key string, value any) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.attributes[key] = value
	}
	return s
}

func (s *Span) SetUserDefinedAttribute(key string, value any) *Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.userDefinedAttributes[key] = value
	}
	return s
}

// SetCheckpoint records a named point in time. Checkpoints over the name
// length limit or past the per span limit are dropped.
func (s *Span) SetCheckpoint(name string) *Span {
	now := s.processor.clock.NowMs()
	maxName := s.processor.limits.MaxCheckpointNameLength()
	maxCount := s.processor.limits.MaxCheckpointsPerSpan()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || len(name) > maxName || len(s.checkpoints) >= maxCount {
		return s
	}
	s.checkpoints = append(s.checkpoints, checkpoint{name: name, timestamp: now})
	return s
}

func (s *Span) End() {
	s.EndAt(s.processor.clock.NowMs())
}

// EndAt ends the span at the given wall clock time. Only the first call has
// an effect.
func (s *Span) EndAt(ms int64) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.endTime = ms
	s.mu.Unlock()
	s.processor.OnEnd(s)
}

func (s *Span) HasEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Duration is zero until the span ends.
func (s *Span) Duration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		return 0
	}
	return s.endTime - s.startTime
}

func (s *Span) ToData() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	checkpoints := make([]Checkpoint, 0, len(s.checkpoints))
	for _, c := range s.checkpoints {
		checkpoints = append(checkpoints, Checkpoint{Name: c.name, Timestamp: timeutil.ISO8601(c.timestamp)})
	}
	d := Data{
		Name:        s.name,
		TraceID:     s.traceID,
		SpanID:      s.spanID,
		ParentID:    s.parentID,
		SessionID:   s.sessionID,
		StartTime:   timeutil.ISO8601(s.startTime),
		Status:      int(s.status),
		Checkpoints: checkpoints,
		HasEnded:    s.ended,
		IsSampled:   s.sampled,
	}
	if s.ended {
		d.EndTime = timeutil.ISO8601(s.endTime)
		d.Duration = s.endTime - s.startTime
	}
	return d
}

package event

type (
	Option func(*request)

	request struct {
		event      Event
		threadName string
		crash      bool
		done       chan error
	}
)

// WithAttributes sets attributes that attribute processors must not override.
func WithAttributes(attrs map[string]any) Option {
	return func(r *request) {
		for k, v := range attrs {
			r.event.Attributes[k] = v
		}
	}
}

// WithSessionID attaches the event to a session other than the current one,
// used when replaying a crash from a previous run.
func WithSessionID(id string) Option {
	return func(r *request) {
		r.event.SessionID = id
	}
}

func WithAttachments(attachments ...Attachment) Option {
	return func(r *request) {
		r.event.Attachments = append(r.event.Attachments, attachments...)
	}
}

func WithUserDefinedAttributes(attrs map[string]any) Option {
	return func(r *request) {
		r.event.UserDefinedAttributes = attrs
	}
}

func WithThreadName(name string) Option {
	return func(r *request) {
		r.threadName = name
	}
}

package event

import (
	"github.com/goccy/go-json"

	"github.com/getsentry/orbit/internal/errorutil"
	"github.com/getsentry/orbit/internal/timeutil"
)

type (
	Type           string
	AttachmentType string

	Event struct {
		ID                    string
		SessionID             string
		Timestamp             int64
		Type                  Type
		Data                  any
		Attributes            map[string]any
		Attachments           []Attachment
		UserTriggered         bool
		UserDefinedAttributes map[string]any
		// Sampled is false for journey events of sessions outside the
		// journey sample. They are kept locally but only exported when the
		// session crashes.
		Sampled bool
	}

	// Attachment holds exactly one of bytes or path.
	Attachment struct {
		name  string
		typ   AttachmentType
		bytes []byte
		path  string
	}
)

const (
	TypeException        Type = "exception"
	TypeANR              Type = "anr"
	TypeAppExit          Type = "app_exit"
	TypeHTTP             Type = "http"
	TypeGestureClick     Type = "gesture_click"
	TypeGestureLongClick Type = "gesture_long_click"
	TypeGestureScroll    Type = "gesture_scroll"
	TypeColdLaunch       Type = "cold_launch"
	TypeWarmLaunch       Type = "warm_launch"
	TypeHotLaunch        Type = "hot_launch"
	TypeCustom           Type = "custom"
	TypeSpan             Type = "span"
	TypeTrimMemory       Type = "trim_memory"
	TypeLowMemory        Type = "low_memory"
	TypeMemoryUsage      Type = "memory_usage"
	TypeCPUUsage         Type = "cpu_usage"
	TypeLifecycleApp     Type = "lifecycle_app"
	TypeLifecycleScreen  Type = "lifecycle_activity"
	TypeScreenView       Type = "screen_view"
	TypeNetworkChange    Type = "network_change"
	TypeBugReport        Type = "bug_report"
	TypeString           Type = "string"
)

const (
	AttachmentScreenshot     AttachmentType = "screenshot"
	AttachmentLayoutSnapshot AttachmentType = "layout_snapshot"
	AttachmentMethodTrace    AttachmentType = "method_trace"
	AttachmentHeapDump       AttachmentType = "heap_dump"
)

// IsJourney reports whether events of this type describe the user's
// navigation through the app.
func (t Type) IsJourney() bool {
	switch t {
	case TypeLifecycleApp, TypeLifecycleScreen, TypeScreenView:
		return true
	}
	return false
}

// IsCrash reports whether events of this type end the process.
func (t Type) IsCrash() bool {
	return t == TypeException || t == TypeANR
}

// NewAttachment fails unless exactly one of bytes or path is set. Empty
// bytes count as unset.
func NewAttachment(name string, typ AttachmentType, bytes []byte, path string) (Attachment, error) {
	hasBytes := len(bytes) > 0
	if hasBytes == (path != "") {
		return Attachment{}, errorutil.ErrInvalidAttachment
	}
	if !hasBytes {
		bytes = nil
	}
	return Attachment{name: name, typ: typ, bytes: bytes, path: path}, nil
}

func NewBytesAttachment(name string, typ AttachmentType, bytes []byte) (Attachment, error) {
	return NewAttachment(name, typ, bytes, "")
}

func NewPathAttachment(name string, typ AttachmentType, path string) (Attachment, error) {
	return NewAttachment(name, typ, nil, path)
}

func (a Attachment) Name() string         { return a.name }
func (a Attachment) Type() AttachmentType { return a.typ }
func (a Attachment) Bytes() []byte        { return a.bytes }
func (a Attachment) Path() string         { return a.path }

func (a Attachment) MarshalJSON() ([]byte, error) {
	return json.Marshal(attachmentJSON{
		Name:  a.name,
		Type:  a.typ,
		Bytes: a.bytes,
		Path:  a.path,
	})
}

func (a *Attachment) UnmarshalJSON(b []byte) error {
	var v attachmentJSON
	err := json.Unmarshal(b, &v)
	if err != nil {
		return err
	}
	*a, err = NewAttachment(v.Name, v.Type, v.Bytes, v.Path)
	return err
}

type attachmentJSON struct {
	Name  string         `json:"name"`
	Type  AttachmentType `json:"type"`
	Bytes []byte         `json:"bytes"`
	Path  string         `json:"path,omitempty"`
}

// MarshalJSON encodes the event the way it is sent to the backend: the
// payload lives under a key named after the event type.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"id":             e.ID,
		"session_id":     e.SessionID,
		"timestamp":      timeutil.ISO8601(e.Timestamp),
		"type":           e.Type,
		string(e.Type):   e.Data,
		"attribute":      e.Attributes,
		"user_triggered": e.UserTriggered,
	}
	if len(e.UserDefinedAttributes) > 0 {
		m["user_defined_attribute"] = e.UserDefinedAttributes
	}
	if len(e.Attachments) > 0 {
		meta := make([]map[string]any, 0, len(e.Attachments))
		for _, a := range e.Attachments {
			meta = append(meta, map[string]any{"name": a.name, "type": a.typ})
		}
		m["attachments"] = meta
	}
	return json.Marshal(m)
}

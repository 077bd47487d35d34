package event

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"

	"github.com/getsentry/orbit/internal/errorutil"
	"github.com/getsentry/orbit/internal/testutil"
)

func TestNewAttachment(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
		path  string
		valid bool
	}{
		{name: "bytes", bytes: []byte("png"), valid: true},
		{name: "empty bytes", bytes: []byte{}, valid: false},
		{name: "empty bytes and path", bytes: []byte{}, path: "/tmp/screenshot.png", valid: true},
		{name: "path", path: "/tmp/screenshot.png", valid: true},
		{name: "both", bytes: []byte("png"), path: "/tmp/screenshot.png", valid: false},
		{name: "neither", valid: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			a, err := NewAttachment("screenshot", AttachmentScreenshot, test.bytes, test.path)
			if !test.valid {
				if !errors.Is(err, errorutil.ErrInvalidAttachment) {
					t.Fatalf("expected ErrInvalidAttachment, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.Name() != "screenshot" || a.Type() != AttachmentScreenshot || a.Path() != test.path {
				t.Fatalf("unexpected attachment %+v", a)
			}
		})
	}
}

func TestAttachmentJSON(t *testing.T) {
	a, _ := NewPathAttachment("trace", AttachmentMethodTrace, "/tmp/trace")
	b, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Attachment
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Path() != "/tmp/trace" || got.Bytes() != nil {
		t.Fatalf("unexpected attachment %+v", got)
	}
	if err := json.Unmarshal([]byte(`{"name":"x","type":"screenshot","bytes":""}`), &got); !errors.Is(err, errorutil.ErrInvalidAttachment) {
		t.Fatalf("expected ErrInvalidAttachment, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"name":"x","type":"screenshot"}`), &got); !errors.Is(err, errorutil.ErrInvalidAttachment) {
		t.Fatalf("expected ErrInvalidAttachment, got %v", err)
	}
}

func TestBytesAttachmentJSON(t *testing.T) {
	tests := []struct {
		name  string
		bytes []byte
	}{
		{name: "one byte", bytes: []byte{0}},
		{name: "png", bytes: []byte("\x89PNG\r\n")},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			a, err := NewBytesAttachment("shot.png", AttachmentScreenshot, test.bytes)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			b, err := json.Marshal(a)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got Attachment
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if diff := testutil.Diff(got.Bytes(), test.bytes); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestEventJSON(t *testing.T) {
	a, _ := NewBytesAttachment("s", AttachmentScreenshot, []byte("png"))
	e := Event{
		ID:                    "e1",
		SessionID:             "s1",
		Timestamp:             1672574400000,
		Type:                  TypeTrimMemory,
		Data:                  map[string]string{"level": "TRIM_MEMORY_COMPLETE"},
		Attributes:            map[string]any{"thread_name": "main"},
		Attachments:           []Attachment{a},
		UserDefinedAttributes: map[string]any{"plan": "pro"},
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{
		"id":                     "e1",
		"session_id":             "s1",
		"timestamp":              "2023-01-01T12:00:00.000Z",
		"type":                   "trim_memory",
		"trim_memory":            map[string]any{"level": "TRIM_MEMORY_COMPLETE"},
		"attribute":              map[string]any{"thread_name": "main"},
		"user_triggered":         false,
		"user_defined_attribute": map[string]any{"plan": "pro"},
		"attachments":            []any{map[string]any{"name": "s", "type": "screenshot"}},
	}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

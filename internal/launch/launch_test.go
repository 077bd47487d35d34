package launch

import (
	"testing"
	"time"

	"github.com/getsentry/orbit/internal/testutil"
	"github.com/getsentry/orbit/internal/timeutil"
)

func TestClassifiers(t *testing.T) {
	type result struct {
		Type Type
		OK   bool
	}
	tests := []struct {
		name       string
		signals    Signals
		def        result
		foreground result
	}{
		{
			name:       "first launch in a foreground process",
			signals:    Signals{ForegroundProcess: true},
			def:        result{Cold, true},
			foreground: result{Cold, true},
		},
		{
			name:       "first launch in a background process",
			signals:    Signals{},
			def:        result{Warm, true},
			foreground: result{"", false},
		},
		{
			name:       "recreated screen after cold launch",
			signals:    Signals{ColdLaunchComplete: true, SameMessage: true},
			def:        result{Warm, true},
			foreground: result{Warm, true},
		},
		{
			name:       "resumed screen after cold launch",
			signals:    Signals{ColdLaunchComplete: true},
			def:        result{Hot, true},
			foreground: result{Hot, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, ok := DefaultClassifier(tt.signals)
			if diff := testutil.Diff(result{typ, ok}, tt.def); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
			typ, ok = ForegroundOnlyClassifier(tt.signals)
			if diff := testutil.Diff(result{typ, ok}, tt.foreground); diff != "" {
				t.Fatalf("Result mismatch: got - want +\n%s", diff)
			}
		})
	}
}

func TestEarlyCaptureConsumedOnce(t *testing.T) {
	clock := timeutil.NewFakeProvider(0)
	clock.Advance(250 * time.Millisecond)
	c := NewEarlyCapture(clock, 100, 90)

	s, ok := c.Consume()
	if !ok {
		t.Fatal("expected a snapshot")
	}
	want := Snapshot{ProcessStartUptime: 100, ProcessStartRequestedUptime: 90, AttachUptime: 250}
	if diff := testutil.Diff(s, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
	if _, ok := c.Consume(); ok {
		t.Fatal("expected the capture to be cleared")
	}

	var nilCapture *EarlyCapture
	if _, ok := nilCapture.Consume(); ok {
		t.Fatal("expected nothing from a nil capture")
	}
}

package collector

import (
	"errors"
	"testing"
	"time"

	"github.com/getsentry/orbit/internal/testutil"
	"github.com/getsentry/orbit/internal/timeutil"
)

func TestPercentageUsage(t *testing.T) {
	previous := CPUUsageData{UTime: 200, STime: 300, CUTime: 400, CSTime: 500, Uptime: 1000}
	tests := []struct {
		name    string
		current CPUUsageData
		want    float64
	}{
		{
			name: "usage over the interval",
			current: CPUUsageData{
				UTime: 300, STime: 400, CUTime: 500, CSTime: 600, Uptime: 2000,
				NumCores: 8, ClockSpeed: 100,
			},
			want: 50.0,
		},
		{
			name: "no cores",
			current: CPUUsageData{
				UTime: 300, STime: 400, CUTime: 500, CSTime: 600, Uptime: 2000,
				NumCores: 0, ClockSpeed: 100,
			},
			want: 0,
		},
		{
			name: "no time elapsed",
			current: CPUUsageData{
				UTime: 300, STime: 400, CUTime: 500, CSTime: 600, Uptime: 1000,
				NumCores: 8, ClockSpeed: 100,
			},
			want: 0,
		},
		{
			name: "counters went backwards",
			current: CPUUsageData{
				UTime: 100, STime: 100, CUTime: 100, CSTime: 100, Uptime: 2000,
				NumCores: 8, ClockSpeed: 100,
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PercentageUsage(tt.current, previous); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseProcStat(t *testing.T) {
	line := "4242 (my app (v2)) S 1 4242 4242 0 -1 4194560 1234 0 0 0 300 400 500 600 20 0 12 0 58385 1000000 500 18446744073709551615"
	got, err := ParseProcStat(line)
	if err != nil {
		t.Fatal(err)
	}
	want := ProcStat{UTime: 300, STime: 400, CUTime: 500, CSTime: 600, StartTime: 58385}
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	if _, err := ParseProcStat("4242 (app) S 1 2"); err == nil {
		t.Fatal("expected an error for a truncated line")
	}
}

func TestCPUUsageTracksReadings(t *testing.T) {
	clock := timeutil.NewFakeProvider(1000)
	clock.Advance(time.Second)
	stats := []ProcStat{
		{UTime: 200, STime: 300, CUTime: 400, CSTime: 500, StartTime: 10},
		{UTime: 300, STime: 400, CUTime: 500, CSTime: 600, StartTime: 10},
	}
	var reads int
	tracker := &fakeTracker{}
	c := NewCPUUsage(tracker, clock, CPUUsageOptions{
		ReadStat: func() (ProcStat, error) {
			if reads >= len(stats) {
				return ProcStat{}, errors.New("no more readings")
			}
			reads++
			return stats[reads-1], nil
		},
		NumCores:     8,
		ClockSpeedHz: 100,
		Interval:     func() time.Duration { return time.Hour },
	})

	c.Register()
	c.Register()
	defer c.Unregister()
	clock.Advance(time.Second)
	c.collect()
	c.collect()

	events := tracker.tracked()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first := events[0].Data.(CPUUsageData)
	if first.Interval != 0 || first.PercentageUsage != 0 {
		t.Fatalf("first reading should have no interval, got %+v", first)
	}
	second := events[1].Data.(CPUUsageData)
	if second.Interval != 1000 || second.PercentageUsage != 50.0 {
		t.Fatalf("unexpected second reading %+v", second)
	}
	if events[1].Timestamp != 3000 {
		t.Fatalf("expected timestamp 3000, got %d", events[1].Timestamp)
	}
}

func TestPeriodicIsIdempotent(t *testing.T) {
	var calls int
	p := newPeriodic(func() time.Duration { return time.Hour }, func() { calls++ })

	p.stop()
	p.start()
	p.start()
	if calls != 1 || !p.running() {
		t.Fatalf("expected one immediate run, got %d", calls)
	}
	p.stop()
	p.stop()
	if p.running() {
		t.Fatal("expected the timer to be stopped")
	}
	p.start()
	defer p.stop()
	if calls != 2 {
		t.Fatalf("expected resume to run again, got %d", calls)
	}
}

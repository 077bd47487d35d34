package collector

import (
	"testing"
	"time"

	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/idutil"
	"github.com/getsentry/orbit/internal/launch"
	"github.com/getsentry/orbit/internal/testutil"
	"github.com/getsentry/orbit/internal/timeutil"
)

type launchSampler bool

func (s launchSampler) ShouldTrackLaunch(launchType, launchID string) bool { return bool(s) }

func TestAppLaunch(t *testing.T) {
	clock := timeutil.NewFakeProvider(0)
	clock.Advance(100 * time.Millisecond)
	capture := launch.NewEarlyCapture(clock, 10, 5)
	tracker := &fakeTracker{}
	a := NewAppLaunch(tracker, clock, &idutil.Sequence{}, launchSampler(true), nil, capture)

	clock.Advance(400 * time.Millisecond)
	a.OnFirstDraw(LaunchedScreen{Name: "MainActivity", ForegroundProcess: true})

	clock.Advance(time.Second)
	a.OnAppVisible()
	clock.Advance(200 * time.Millisecond)
	a.OnFirstDraw(LaunchedScreen{Name: "MainActivity", ForegroundProcess: true})

	clock.Advance(time.Second)
	a.OnAppVisible()
	clock.Advance(300 * time.Millisecond)
	a.OnFirstDraw(LaunchedScreen{Name: "DetailActivity", SameMessage: true, HasSavedState: true})

	want := []tracked{
		{
			Type:      event.TypeColdLaunch,
			Timestamp: 500,
			Data: launch.ColdData{
				ProcessStartUptime:          10,
				ProcessStartRequestedUptime: 5,
				ContentProviderAttachUptime: 100,
				OnNextDrawUptime:            500,
				LaunchedActivity:            "MainActivity",
			},
		},
		{
			Type:      event.TypeHotLaunch,
			Timestamp: 1700,
			Data: launch.WarmData{
				AppVisibleUptime: 1500,
				OnNextDrawUptime: 1700,
				LaunchedActivity: "MainActivity",
			},
		},
		{
			Type:      event.TypeWarmLaunch,
			Timestamp: 3000,
			Data: launch.WarmData{
				AppVisibleUptime: 2700,
				OnNextDrawUptime: 3000,
				LaunchedActivity: "DetailActivity",
				HasSavedState:    true,
			},
		},
	}
	if diff := testutil.Diff(tracker.tracked(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}
}

func TestAppLaunchInBackgroundProcess(t *testing.T) {
	clock := timeutil.NewFakeProvider(0)
	clock.Advance(100 * time.Millisecond)
	capture := launch.NewEarlyCapture(clock, 10, 5)
	clock.Advance(time.Second)
	screen := LaunchedScreen{Name: "MainActivity"}

	tracker := &fakeTracker{}
	NewAppLaunch(tracker, clock, &idutil.Sequence{}, launchSampler(true), launch.DefaultClassifier, capture).OnFirstDraw(screen)
	want := []tracked{{
		Type:      event.TypeWarmLaunch,
		Timestamp: 1100,
		Data: launch.WarmData{
			AppVisibleUptime: 100,
			OnNextDrawUptime: 1100,
			LaunchedActivity: "MainActivity",
		},
	}}
	if diff := testutil.Diff(tracker.tracked(), want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	tracker = &fakeTracker{}
	NewAppLaunch(tracker, clock, &idutil.Sequence{}, launchSampler(true), launch.ForegroundOnlyClassifier, nil).OnFirstDraw(screen)
	if len(tracker.tracked()) != 0 {
		t.Fatal("expected the launch to be ignored")
	}
}

func TestAppLaunchNotSampled(t *testing.T) {
	tracker := &fakeTracker{}
	a := NewAppLaunch(tracker, timeutil.NewFakeProvider(0), &idutil.Sequence{}, launchSampler(false), nil, nil)
	a.OnFirstDraw(LaunchedScreen{Name: "MainActivity", ForegroundProcess: true})
	if len(tracker.tracked()) != 0 {
		t.Fatal("expected no event")
	}
}

package crash

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/getsentry/orbit/internal/attribute"
	"github.com/getsentry/orbit/internal/config"
	"github.com/getsentry/orbit/internal/event"
	"github.com/getsentry/orbit/internal/idutil"
	"github.com/getsentry/orbit/internal/session"
	"github.com/getsentry/orbit/internal/storage"
	"github.com/getsentry/orbit/internal/timeutil"
)

type fakeSessions struct {
	current    string
	foreground bool
	err        error
}

func (f *fakeSessions) CurrentSessionID() string { return f.current }
func (f *fakeSessions) IsForeground() bool       { return f.foreground }
func (f *fakeSessions) OnEventTracked()          {}

func (f *fakeSessions) SessionForEvent(ctx context.Context) (string, error) {
	return f.current, f.err
}

type harness struct {
	store     *storage.Store
	sessions  *fakeSessions
	reporter  *PanicReporter
	slot      *Slot
	user      *attribute.User
	processor *event.Processor
	manager   *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	store, err := storage.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	for _, id := range []string{"crashed", "current"} {
		require.NoError(t, store.StoreSession(ctx, session.Session{ID: id}))
	}

	h := &harness{
		store:    store,
		sessions: &fakeSessions{current: "crashed", foreground: true},
		user:     &attribute.User{},
	}
	h.reporter, err = NewPanicReporter(dir, timeutil.NewFakeProvider(1700000000000))
	require.NoError(t, err)
	h.slot, err = OpenSlot(filepath.Join(dir, "crash_context"), DefaultSlotSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.slot.Close() })

	processors := []attribute.Processor{h.user}
	provider := config.NewProvider(config.DefaultConfig(), config.StaticLoader{})
	h.processor = event.NewProcessor(&idutil.Sequence{Prefix: "e"}, h.sessions, store, provider, nil, processors)
	t.Cleanup(h.processor.Close)

	h.manager = NewManager(ManagerOptions{
		Reporter:   h.reporter,
		Slot:       h.slot,
		Tracker:    h.processor,
		Exits:      store,
		Sessions:   h.sessions,
		IDs:        &idutil.Sequence{Prefix: "x"},
		Processors: processors,
		Formatter:  Formatter{BinaryName: "app"},
	})
	return h
}

func (h *harness) crash(t *testing.T) {
	t.Helper()
	defer func() {
		require.Equal(t, "boom", recover())
	}()
	defer h.reporter.Recover()
	panic("boom")
}

func (h *harness) events(t *testing.T, sessionID string) []map[string]any {
	t.Helper()
	var events []map[string]any
	err := h.store.IterateEvents(context.Background(), sessionID, func(fragment []byte, sampled bool) error {
		var e map[string]any
		if err := json.Unmarshal(fragment, &e); err != nil {
			return err
		}
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	return events
}

func TestReplayPendingCrash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.manager.ReplayPendingCrash(ctx), "nothing to replay")
	require.Equal(t, Disabled, h.manager.State())

	h.user.SetUserID("u1")
	h.manager.Enable()
	require.Equal(t, Enabled, h.manager.State())
	h.crash(t)
	require.True(t, h.reporter.HasPendingCrashReport())

	// Next launch, in a new session with another user.
	h.sessions.current = "current"
	h.user.SetUserID("u2")
	require.NoError(t, h.manager.ReplayPendingCrash(ctx))
	require.Equal(t, Replayed, h.manager.State())

	events := h.events(t, "crashed")
	require.Len(t, events, 1)
	e := events[0]
	require.Equal(t, "exception", e["type"])
	require.Equal(t, "2023-11-14T22:13:20.000Z", e["timestamp"])
	require.Equal(t, "u1", e["attribute"].(map[string]any)["user_id"])
	exception := e["exception"].(map[string]any)
	require.Equal(t, false, exception["handled"])
	require.Equal(t, true, exception["foreground"])
	unit := exception["exceptions"].([]any)[0].(map[string]any)
	require.Equal(t, "string", unit["type"])
	require.Equal(t, "boom", unit["message"])
	frame := unit["frames"].([]any)[0].(map[string]any)
	require.Equal(t, "github.com/getsentry/orbit/internal/crash", frame["module_name"])
	require.True(t, strings.HasPrefix(frame["method_name"].(string), "(*harness).crash"), frame["method_name"])
	require.Empty(t, h.events(t, "current"))

	s, err := h.store.Session(ctx, "crashed")
	require.NoError(t, err)
	require.True(t, s.Crashed)
	exit, err := h.store.ExitRecord(ctx, "crashed")
	require.NoError(t, err)
	require.Contains(t, string(exit), `"reason":"CRASHED"`)

	require.False(t, h.reporter.HasPendingCrashReport())
	_, ok, err := h.slot.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReplayKeepsReportOnFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.sessions.current = "unknown"
	h.manager.Enable()
	h.crash(t)

	h.sessions.err = errors.New("disk full")
	require.Error(t, h.manager.ReplayPendingCrash(ctx))
	require.Equal(t, PendingCrashReport, h.manager.State())
	require.True(t, h.reporter.HasPendingCrashReport())
	_, ok, err := h.slot.Load()
	require.NoError(t, err)
	require.True(t, ok)

	h.sessions.current = "current"
	h.sessions.err = nil
	require.NoError(t, h.manager.ReplayPendingCrash(ctx))
	require.Len(t, h.events(t, "current"), 1)
	require.False(t, h.reporter.HasPendingCrashReport())
}

func TestDisableRemovesCallback(t *testing.T) {
	h := newHarness(t)
	h.manager.Enable()
	h.manager.Disable()
	require.Equal(t, Disabled, h.manager.State())
	h.crash(t)

	_, ok, err := h.slot.Load()
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, h.reporter.HasPendingCrashReport(), "the panic itself is still reported")
}

func TestExitRecordIsStoredBeforeCrashExport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.manager.Enable()
	h.crash(t)
	h.sessions.current = "current"

	// The crash hook is where the crashed session gets exported.
	exits := make(chan []byte, 1)
	h.processor.OnCrash(func(sessionID string) {
		exit, _ := h.store.ExitRecord(ctx, sessionID)
		exits <- exit
	})
	require.NoError(t, h.manager.ReplayPendingCrash(ctx))

	select {
	case exit := <-exits:
		require.Contains(t, string(exit), `"reason":"CRASHED"`)
	case <-time.After(5 * time.Second):
		t.Fatal("crash hook not called")
	}
}

func TestReplayIntoCurrentSessionWhenCrashedSessionIsGone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.manager.Enable()
	h.crash(t)
	h.sessions.current = "current"
	require.NoError(t, h.store.DeleteSession(ctx, "crashed"))

	require.NoError(t, h.manager.ReplayPendingCrash(ctx))
	require.Len(t, h.events(t, "current"), 1)
	exit, err := h.store.ExitRecord(ctx, "current")
	require.NoError(t, err)
	require.Nil(t, exit)
	require.False(t, h.reporter.HasPendingCrashReport())
}

package crash

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/orbit/internal/testutil"
)

func openSlot(t *testing.T, size int) (*Slot, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crash_context")
	s, err := OpenSlot(path, size)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSlotCommitSurvivesReopen(t *testing.T) {
	s, path := openSlot(t, DefaultSlotSize)

	_, ok, err := s.Load()
	require.NoError(t, err)
	require.False(t, ok, "a new slot is empty")

	s.Commit()
	_, ok, err = s.Load()
	require.NoError(t, err)
	require.False(t, ok, "nothing was prepared")

	want := Context{
		SessionID:  "s1",
		Foreground: true,
		Attributes: map[string]any{"thread_name": "main", "user_id": "u1"},
	}
	require.NoError(t, s.Prepare(want))
	s.Commit()
	require.NoError(t, s.Close())

	reopened, err := OpenSlot(path, DefaultSlotSize)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok, err := reopened.Load()
	require.NoError(t, err)
	require.True(t, ok)
	if diff := testutil.Diff(got, want); diff != "" {
		t.Fatalf("Result mismatch: got - want +\n%s", diff)
	}

	require.NoError(t, reopened.Clear())
	_, ok, err = reopened.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSlotDropsAttributesWhenFull(t *testing.T) {
	s, _ := openSlot(t, 64)
	require.NoError(t, s.Prepare(Context{
		SessionID:  "s1",
		Attributes: map[string]any{"big": strings.Repeat("x", 100)},
	}))
	s.Commit()
	got, ok, err := s.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s1", got.SessionID)
	require.Empty(t, got.Attributes)

	err = s.Prepare(Context{SessionID: strings.Repeat("s", 100)})
	require.ErrorIs(t, err, ErrSlotTooSmall)
}

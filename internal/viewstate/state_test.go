package viewstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager_LoadMissingFileOK(t *testing.T) {
	m := New(filepath.Join(t.TempDir(), "atelier", "viewer.json"))
	require.NoError(t, m.Load())
	s := m.Snapshot()
	require.Equal(t, CurrentVersion, s.Version)
	require.Empty(t, s.ViewerUID)
}

func TestManager_UnversionedFileLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"viewer_uid":"alice"}`), 0o600))

	m := New(path)
	require.NoError(t, m.Load())
	require.Equal(t, "alice", m.ViewerUID())
	require.Equal(t, CurrentVersion, m.Snapshot().Version)
}

func TestManager_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	require.Error(t, New(path).Load())
}

func TestManager_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.json")
	m := New(path)
	require.NoError(t, m.Load())

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m.SetViewerUID("alice")
	m.MarkSeen("c1", "m7", seen)
	m.SetDraft(Draft{ConversationID: "c1", Text: "half a thought"})
	m.SetLastConversation("c1")
	require.NoError(t, m.SaveNow())
	require.NoError(t, m.Close())

	loaded := New(path)
	require.NoError(t, loaded.Load())
	require.Equal(t, "alice", loaded.ViewerUID())
	marker, ok := loaded.ReadMarker("c1")
	require.True(t, ok)
	require.Equal(t, "m7", marker.MessageID)
	require.True(t, seen.Equal(marker.At))
	draft, ok := loaded.Draft("c1")
	require.True(t, ok)
	require.Equal(t, "half a thought", draft.Text)
	require.Equal(t, "c1", loaded.LastConversation())
}

func TestManager_MarkSeenIsMonotonic(t *testing.T) {
	m := New("")
	now := time.Now().UTC()
	m.MarkSeen("c1", "new", now)
	m.MarkSeen("c1", "old", now.Add(-time.Minute))

	marker, ok := m.ReadMarker("c1")
	require.True(t, ok)
	require.Equal(t, "new", marker.MessageID)
}

func TestManager_EmptyDraftDeletes(t *testing.T) {
	m := New("")
	m.SetDraft(Draft{ConversationID: "c1", Text: "x"})
	m.SetDraft(Draft{ConversationID: "c1", Text: "   "})
	_, ok := m.Draft("c1")
	require.False(t, ok)
}

func TestManager_SwitchingViewerDropsState(t *testing.T) {
	m := New("")
	m.SetViewerUID("alice")
	m.MarkSeen("c1", "m1", time.Now())
	m.SetDraft(Draft{ConversationID: "c1", Text: "x"})

	m.SetViewerUID("bob")
	s := m.Snapshot()
	require.Equal(t, "bob", s.ViewerUID)
	require.Empty(t, s.ReadMarkers)
	require.Empty(t, s.Drafts)
}

func TestManager_ForgetConversation(t *testing.T) {
	m := New("")
	m.MarkSeen("c1", "m1", time.Now())
	m.SetDraft(Draft{ConversationID: "c1", Text: "x"})
	m.SetLastConversation("c1")

	m.Forget("c1")
	_, ok := m.ReadMarker("c1")
	require.False(t, ok)
	_, ok = m.Draft("c1")
	require.False(t, ok)
	require.Empty(t, m.LastConversation())
}

func TestManager_PrunesStaleDraftsOnSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.json")
	m := New(path)

	m.SetDraft(Draft{ConversationID: "old", Text: "x", UpdatedAt: time.Now().Add(-(draftMaxAge + time.Hour))})
	m.SetDraft(Draft{ConversationID: "fresh", Text: "y"})
	require.NoError(t, m.SaveNow())
	require.NoError(t, m.Close())

	loaded := New(path)
	require.NoError(t, loaded.Load())
	_, ok := loaded.Draft("old")
	require.False(t, ok)
	_, ok = loaded.Draft("fresh")
	require.True(t, ok)
}

func TestManager_DebouncedSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewer.json")
	m := New(path)
	m.debounce = 10 * time.Millisecond

	m.SetViewerUID("alice")
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Err())
	require.NoError(t, m.Close())
}

package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrydev/carrycode/pkg/provider"
)

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("sess_123_abc"))
	assert.NoError(t, ValidateSessionID("A-b_9"))
	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateSessionID("../escape"))
	assert.Error(t, ValidateSessionID("has space"))
	long := make([]byte, 129)
	for i := range long {
		long[i] = 'a'
	}
	assert.Error(t, ValidateSessionID(string(long)))
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	snap := Snapshot{
		SessionID:    "sess_1_abc",
		AgentMode:    "build",
		ApprovalMode: "read-only",
		Title:        "first session",
		Messages: []provider.Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
		},
	}
	require.NoError(t, store.SaveSnapshot(snap))

	loaded, err := store.LoadSnapshot("sess_1_abc")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, SnapshotVersion, loaded.Version)
	assert.Equal(t, snap.Messages, loaded.Messages)
	assert.Equal(t, "first session", loaded.Title)
	assert.Positive(t, loaded.CreatedAtMs)

	meta, err := store.LoadMeta("sess_1_abc")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta.MessageCount)
	assert.Equal(t, "read-only", meta.ApprovalMode)
}

func TestStoreMissingSession(t *testing.T) {
	store := NewStore(t.TempDir())
	snap, err := store.LoadSnapshot("sess_none")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStorePreservesCreationTime(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.SaveSnapshot(Snapshot{SessionID: "sess_1", CreatedAtMs: 1000}))
	require.NoError(t, store.SaveSnapshot(Snapshot{SessionID: "sess_1", CreatedAtMs: 0}))

	meta, err := store.LoadMeta("sess_1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(1000), meta.CreatedAtMs)
	assert.Greater(t, meta.UpdatedAtMs, int64(1000))
}

func TestStoreVersionMismatchIgnored(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sess_old"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "sess_old", "snapshot.json"),
		[]byte(`{"version":99,"session_id":"sess_old","messages":[]}`),
		0o644,
	))

	snap, err := store.LoadSnapshot("sess_old")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestStoreList(t *testing.T) {
	store := NewStore(t.TempDir())
	require.NoError(t, store.SaveSnapshot(Snapshot{SessionID: "sess_1"}))
	require.NoError(t, store.SaveSnapshot(Snapshot{SessionID: "sess_2", Title: "newer"}))

	metas, err := store.List()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "sess_2", metas[0].SessionID)
	assert.Equal(t, "sess_1", metas[1].SessionID)

	require.NoError(t, store.Delete("sess_1"))
	metas, err = store.List()
	require.NoError(t, err)
	require.Len(t, metas, 1)
}

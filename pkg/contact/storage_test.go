package contact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndGet(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	id, err := storage.Save(Message{
		Message:     "Interested in your RAG work",
		SenderName:  "Ada",
		SenderEmail: "ada@example.com",
	})
	require.NoError(t, err)
	assert.Len(t, id, 12)

	msg, err := storage.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Interested in your RAG work", msg.Message)
	assert.Equal(t, "Ada", msg.SenderName)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestGetMissing(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	_, err = storage.Get("nope")
	assert.Error(t, err)
}

func TestFilePermissions(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewStorage(dir)
	require.NoError(t, err)

	id, err := storage.Save(Message{Message: "private"})
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "*_"+id+".json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	info, err := os.Stat(matches[0])
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestListRecentNewestFirst(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	storage.now = func() time.Time { return now }
	_, err = storage.Save(Message{Message: "old"})
	require.NoError(t, err)

	storage.now = func() time.Time { return now.Add(48 * time.Hour) }
	_, err = storage.Save(Message{Message: "new"})
	require.NoError(t, err)

	messages, err := storage.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "new", messages[0].Message)

	limited, err := storage.ListRecent(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestCount(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	require.NoError(t, err)

	count, err := storage.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = storage.Save(Message{Message: "one"})
	require.NoError(t, err)
	_, err = storage.Save(Message{Message: "two"})
	require.NoError(t, err)

	count, err = storage.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

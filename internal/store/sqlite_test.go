// ABOUTME: Tests for SQLite store implementation specifics
// ABOUTME: Covers file creation, reopen persistence, migrations, and timestamp ordering

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestNewSQLiteStore_InMemory(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := t.Context()
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.CreateConversation(ctx, directConv("c1", "alice", "bob")))

	convs, err := store.ListConversationsForUser(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "chat.db")
	ctx := t.Context()

	s1, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s1.CreateConversation(ctx, directConv("c1", "alice", "bob")))
	require.NoError(t, s1.SaveMessage(ctx, textMsg("m1", "c1", "alice", baseTime)))
	require.NoError(t, s1.Close())

	// Reopening runs createSchema and runMigrations again; both are idempotent.
	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	msg, err := s2.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.True(t, msg.IsReadBy("alice"))
}

func TestSQLiteStore_SubSecondOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.CreateConversation(ctx, directConv("c1", "alice", "bob")))

	// Fractional seconds must sort correctly as text.
	require.NoError(t, s.SaveMessage(ctx, textMsg("m1", "c1", "alice", baseTime)))
	require.NoError(t, s.SaveMessage(ctx, textMsg("m2", "c1", "bob", baseTime.Add(100*time.Millisecond))))
	require.NoError(t, s.SaveMessage(ctx, textMsg("m3", "c1", "alice", baseTime.Add(time.Second))))

	page, err := s.ListMessages(ctx, "c1", PageRequest{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, messageIDs(page.Messages))
}

func TestSQLiteStore_SameTimestampFallsBackToInsertOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.CreateConversation(ctx, directConv("c1", "alice", "bob")))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveMessage(ctx, textMsg(id, "c1", "alice", baseTime)))
	}

	page, err := s.ListMessages(ctx, "c1", PageRequest{Page: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, messageIDs(page.Messages))
}

func TestFormatTime_FixedWidth(t *testing.T) {
	a := formatTime(baseTime)
	b := formatTime(baseTime.Add(time.Nanosecond))
	assert.Len(t, b, len(a))
	assert.Less(t, a, b)

	parsed, err := parseTime(a)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(baseTime))
}

// newTestStore creates a SQLiteStore in a temp directory for testing.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

// ABOUTME: Tests for the read-receipt tracker
// ABOUTME: Covers idempotence, access checks, broadcast behavior, mark-all counts, and store failures

package receipt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/chaterr"
	"github.com/2389/chat-gateway/internal/realtime"
	"github.com/2389/chat-gateway/internal/realtime/realtimetest"
	"github.com/2389/chat-gateway/internal/room"
	"github.com/2389/chat-gateway/internal/store"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *store.MockStore
	rooms   *room.Broadcaster
	tracker *Tracker
	watcher *realtimetest.Peer // joined to conversation c1
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := t.Context()

	s := store.NewMockStore()
	require.NoError(t, s.CreateConversation(ctx, &store.Conversation{
		ID:           "c1",
		Participants: []string{"alice", "bob", "carol"},
		IsGroup:      true,
		GroupName:    "friends",
		GroupAdmin:   "alice",
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
	}))

	rooms := room.NewBroadcaster(nil)
	watcher := realtimetest.NewPeer("watcher", "carol")
	rooms.Join(watcher, "c1")

	tracker := NewTracker(s, rooms, Config{CacheTTL: time.Minute, CacheSize: 100}, nil)
	tracker.now = func() time.Time { return baseTime.Add(time.Hour) }
	t.Cleanup(tracker.Close)

	return &fixture{store: s, rooms: rooms, tracker: tracker, watcher: watcher}
}

func (f *fixture) send(t *testing.T, id, sender string, offset time.Duration) {
	t.Helper()
	require.NoError(t, f.store.SaveMessage(context.Background(), &store.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		Content:        "message " + id,
		CreatedAt:      baseTime.Add(offset),
	}))
}

func TestMarkRead_AppendsAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.send(t, "m1", "alice", 0)

	msg, err := f.tracker.MarkRead(t.Context(), "m1", "bob")
	require.NoError(t, err)

	assert.True(t, msg.IsReadBy("alice"))
	assert.Equal(t, baseTime.Add(time.Hour), msg.ReadBy["bob"])

	var receipt realtime.MessageReadReceipt
	require.True(t, f.watcher.Last(realtime.EventMessageReadReceipt, &receipt))
	assert.Equal(t, "m1", receipt.MessageID)
	assert.Equal(t, "bob", receipt.UserID)
	assert.True(t, receipt.ReadAt.Equal(baseTime.Add(time.Hour)))

	stored, err := f.store.GetMessage(t.Context(), "m1")
	require.NoError(t, err)
	assert.True(t, stored.IsReadBy("bob"))
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.send(t, "m1", "alice", 0)

	first, err := f.tracker.MarkRead(t.Context(), "m1", "bob")
	require.NoError(t, err)

	// A later clock must not move the original read time.
	f.tracker.now = func() time.Time { return baseTime.Add(2 * time.Hour) }
	second, err := f.tracker.MarkRead(t.Context(), "m1", "bob")
	require.NoError(t, err)

	assert.Equal(t, first.ReadBy, second.ReadBy)
	assert.Equal(t, []string{realtime.EventMessageReadReceipt}, f.watcher.Events(), "one broadcast only")
}

func TestMarkRead_SenderAlreadyRead(t *testing.T) {
	f := newFixture(t)
	f.send(t, "m1", "alice", 0)

	msg, err := f.tracker.MarkRead(t.Context(), "m1", "alice")
	require.NoError(t, err)

	assert.Equal(t, baseTime, msg.ReadBy["alice"])
	assert.Empty(t, f.watcher.Events())
}

func TestMarkRead_NonParticipant(t *testing.T) {
	f := newFixture(t)
	f.send(t, "m1", "alice", 0)

	_, err := f.tracker.MarkRead(t.Context(), "m1", "mallory")

	assert.True(t, errors.Is(err, chaterr.ErrAccess))
	stored, _ := f.store.GetMessage(t.Context(), "m1")
	assert.False(t, stored.IsReadBy("mallory"))
	assert.Empty(t, f.watcher.Events())
}

func TestMarkRead_MissingMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.tracker.MarkRead(t.Context(), "nope", "bob")

	assert.Equal(t, chaterr.KindNotFound, chaterr.KindOf(err))
}

func TestMarkRead_StoreFailureIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.send(t, "m1", "alice", 0)

	f.store.FailWith("AppendReadReceipt", errors.New("database is locked"))
	_, err := f.tracker.MarkRead(t.Context(), "m1", "bob")
	assert.Equal(t, chaterr.KindStore, chaterr.KindOf(err))
	assert.Empty(t, f.watcher.Events(), "failed write is not broadcast")

	f.store.FailWith("AppendReadReceipt", nil)
	msg, err := f.tracker.MarkRead(t.Context(), "m1", "bob")
	require.NoError(t, err)
	assert.True(t, msg.IsReadBy("bob"))
	assert.Len(t, f.watcher.Events(), 1)
}

func TestMarkAllRead_CountsOnlyPreviouslyUnread(t *testing.T) {
	f := newFixture(t)
	f.send(t, "m1", "alice", 0)
	f.send(t, "m2", "bob", time.Second) // bob's own message
	f.send(t, "m3", "carol", 2*time.Second)
	f.send(t, "m4", "alice", 3*time.Second)

	_, err := f.tracker.MarkRead(t.Context(), "m1", "bob")
	require.NoError(t, err)
	f.watcher.Reset()

	count, err := f.tracker.MarkAllRead(t.Context(), "c1", "bob")
	require.NoError(t, err)

	assert.Equal(t, 2, count, "m3 and m4 only")
	assert.Equal(t, []string{realtime.EventMessageReadReceipt, realtime.EventMessageReadReceipt}, f.watcher.Events())

	again, err := f.tracker.MarkAllRead(t.Context(), "c1", "bob")
	require.NoError(t, err)
	assert.Zero(t, again)

	unread, err := f.store.CountUnread(t.Context(), "bob")
	require.NoError(t, err)
	assert.Zero(t, unread)
}

func TestMarkAllRead_Access(t *testing.T) {
	f := newFixture(t)
	f.send(t, "m1", "alice", 0)

	_, err := f.tracker.MarkAllRead(t.Context(), "c1", "mallory")
	assert.True(t, errors.Is(err, chaterr.ErrAccess))

	_, err = f.tracker.MarkAllRead(t.Context(), "missing", "bob")
	assert.True(t, errors.Is(err, chaterr.ErrNotFound))
}

func TestMarkAllRead_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.send(t, "m1", "alice", 0)
	f.store.FailWith("ListUnreadMessageIDs", errors.New("boom"))

	_, err := f.tracker.MarkAllRead(t.Context(), "c1", "bob")

	assert.True(t, errors.Is(err, chaterr.ErrStore))
}

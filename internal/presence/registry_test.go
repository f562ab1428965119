// ABOUTME: Tests for the presence registry
// ABOUTME: Covers multi-device transitions, idempotent teardown, status, and concurrent churn

package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/realtime/realtimetest"
	"github.com/2389/chat-gateway/internal/store"
)

var alice = auth.Identity{UserID: "alice", Username: "Alice"}

func TestRegistry_SingleConnection(t *testing.T) {
	r := NewRegistry(nil)
	conn := realtimetest.NewPeer("c1", "alice")

	assert.False(t, r.IsOnline("alice"))
	assert.True(t, r.Register(alice, conn), "first connection brings identity online")
	assert.True(t, r.IsOnline("alice"))
	assert.Equal(t, []string{"alice"}, r.Snapshot())

	assert.True(t, r.Deregister("alice", conn), "last connection takes identity offline")
	assert.False(t, r.IsOnline("alice"))
	assert.Empty(t, r.Snapshot())
}

func TestRegistry_MultiDevice(t *testing.T) {
	r := NewRegistry(nil)
	phone := realtimetest.NewPeer("phone", "alice")
	laptop := realtimetest.NewPeer("laptop", "alice")

	assert.True(t, r.Register(alice, phone))
	assert.False(t, r.Register(alice, laptop))
	assert.Len(t, r.Connections("alice"), 2)

	assert.False(t, r.Deregister("alice", phone))
	assert.True(t, r.IsOnline("alice"))

	assert.True(t, r.Deregister("alice", laptop))
	assert.False(t, r.IsOnline("alice"))
}

func TestRegistry_DeregisterIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	conn := realtimetest.NewPeer("c1", "alice")

	assert.False(t, r.Deregister("alice", conn), "unknown identity")

	r.Register(alice, conn)
	assert.True(t, r.Deregister("alice", conn))
	assert.False(t, r.Deregister("alice", conn), "second teardown is a no-op")
}

func TestRegistry_LastSeenAndEntry(t *testing.T) {
	r := NewRegistry(nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	conn := realtimetest.NewPeer("c1", "alice")

	_, ok := r.LastSeen("alice")
	assert.False(t, ok)

	r.Register(alice, conn)
	now = now.Add(time.Hour)
	r.Deregister("alice", conn)

	seen, ok := r.LastSeen("alice")
	require.True(t, ok)
	assert.Equal(t, now, seen)

	entry, ok := r.Get("alice")
	require.True(t, ok)
	assert.Equal(t, Entry{
		UserID:   "alice",
		Username: "Alice",
		Status:   store.UserStatusOffline,
		LastSeen: now,
	}, entry)
}

func TestRegistry_SetStatus(t *testing.T) {
	r := NewRegistry(nil)
	conn := realtimetest.NewPeer("c1", "alice")

	assert.ErrorIs(t, r.SetStatus("alice", store.UserStatusAway), ErrNotConnected)

	r.Register(alice, conn)
	require.NoError(t, r.SetStatus("alice", store.UserStatusAway))
	entry, _ := r.Get("alice")
	assert.Equal(t, store.UserStatusAway, entry.Status)

	assert.ErrorIs(t, r.SetStatus("alice", store.UserStatusOffline), ErrInvalidStatus)

	// A reconnect after going fully offline starts online again.
	r.Deregister("alice", conn)
	r.Register(alice, conn)
	entry, _ = r.Get("alice")
	assert.Equal(t, store.UserStatusOnline, entry.Status)
}

func TestRegistry_AllAndCount(t *testing.T) {
	r := NewRegistry(nil)
	bob := auth.Identity{UserID: "bob", Username: "Bob"}

	r.Register(alice, realtimetest.NewPeer("a1", "alice"))
	r.Register(alice, realtimetest.NewPeer("a2", "alice"))
	r.Register(bob, realtimetest.NewPeer("b1", "bob"))

	assert.Len(t, r.All(), 3)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"alice", "bob"}, r.Snapshot())
}

func TestRegistry_ConcurrentChurn(t *testing.T) {
	r := NewRegistry(nil)

	var firsts, lasts sync.Map
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := realtimetest.NewPeer(fmt.Sprintf("c%d", i), "alice")
			if r.Register(alice, conn) {
				firsts.Store(i, true)
			}
			if r.Deregister("alice", conn) {
				lasts.Store(i, true)
			}
		}(i)
	}
	wg.Wait()

	var firstCount, lastCount int
	firsts.Range(func(_, _ any) bool { firstCount++; return true })
	lasts.Range(func(_, _ any) bool { lastCount++; return true })

	assert.False(t, r.IsOnline("alice"))
	assert.Equal(t, firstCount, lastCount, "every online transition is matched by an offline one")
	assert.GreaterOrEqual(t, firstCount, 1)
}

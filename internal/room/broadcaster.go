// ABOUTME: Connection-scoped room membership and non-blocking event fan-out
// ABOUTME: Rooms exist only while they have members; per-room locks order persist-then-broadcast

package room

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/realtime"
)

// Broadcaster tracks which live connections have joined which rooms and
// fans events out to them. Membership belongs to a connection, not an
// identity: two devices of one user join rooms independently.
type Broadcaster struct {
	mu    sync.RWMutex
	rooms map[string]map[string]realtime.Peer // roomID -> peerID -> peer
	peers map[string]map[string]struct{}      // peerID -> joined roomIDs

	seqMu sync.Mutex
	seqs  map[string]*sequencer

	logger *slog.Logger
}

// sequencer serializes work for one room. refs counts holders and waiters
// so the entry can be reaped when idle.
type sequencer struct {
	mu   sync.Mutex
	refs int
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		rooms:  make(map[string]map[string]realtime.Peer),
		peers:  make(map[string]map[string]struct{}),
		seqs:   make(map[string]*sequencer),
		logger: logger.With("component", "rooms"),
	}
}

// Join subscribes peer to roomID, creating the room if needed. Joining a
// room twice is a no-op.
func (b *Broadcaster) Join(peer realtime.Peer, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[roomID]
	if !ok {
		members = make(map[string]realtime.Peer)
		b.rooms[roomID] = members
	}
	members[peer.ID()] = peer

	joined, ok := b.peers[peer.ID()]
	if !ok {
		joined = make(map[string]struct{})
		b.peers[peer.ID()] = joined
	}
	joined[roomID] = struct{}{}

	b.logger.Debug("joined room", "room_id", roomID, "conn_id", peer.ID(), "members", len(members))
}

// Leave unsubscribes peer from roomID. Leaving a room the peer is not in
// is a no-op.
func (b *Broadcaster) Leave(peer realtime.Peer, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(peer.ID(), roomID)
}

// LeaveAll unsubscribes peer from every room and forgets it.
func (b *Broadcaster) LeaveAll(peer realtime.Peer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for roomID := range b.peers[peer.ID()] {
		b.leaveLocked(peer.ID(), roomID)
	}
	delete(b.peers, peer.ID())
}

func (b *Broadcaster) leaveLocked(peerID, roomID string) {
	if members, ok := b.rooms[roomID]; ok {
		delete(members, peerID)
		if len(members) == 0 {
			delete(b.rooms, roomID)
			b.logger.Debug("room reaped", "room_id", roomID)
		}
	}
	if joined, ok := b.peers[peerID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(b.peers, peerID)
		}
	}
}

// EvictUser removes every connection of userID from roomID and returns
// how many were removed. Other rooms, including the user's personal room,
// are untouched.
func (b *Broadcaster) EvictUser(roomID, userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var evicted []string
	for peerID, peer := range b.rooms[roomID] {
		if peer.UserID() == userID {
			evicted = append(evicted, peerID)
		}
	}
	for _, peerID := range evicted {
		b.leaveLocked(peerID, roomID)
	}

	if len(evicted) > 0 {
		b.logger.Debug("evicted user from room", "room_id", roomID, "user_id", userID, "conns", len(evicted))
	}
	return len(evicted)
}

// EvictAll removes every connection from roomID.
func (b *Broadcaster) EvictAll(roomID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	peerIDs := lo.Keys(b.rooms[roomID])
	for _, peerID := range peerIDs {
		b.leaveLocked(peerID, roomID)
	}
	return len(peerIDs)
}

// Broadcast delivers ev to every member of roomID except the peer with ID
// excludePeerID (empty excludes no one). Members are copied under the read
// lock and enqueued without it. Delivery is fire-and-forget: a closed or
// backed-up member simply misses the event. Returns the number of members
// that accepted it.
func (b *Broadcaster) Broadcast(roomID string, ev realtime.Event, excludePeerID string) int {
	b.mu.RLock()
	targets := make([]realtime.Peer, 0, len(b.rooms[roomID]))
	for id, peer := range b.rooms[roomID] {
		if id != excludePeerID {
			targets = append(targets, peer)
		}
	}
	b.mu.RUnlock()

	return b.deliver(roomID, ev, targets)
}

// BroadcastAll delivers ev to every connection that has joined at least
// one room. Every connection joins its personal room on connect, so this
// reaches all live connections.
func (b *Broadcaster) BroadcastAll(ev realtime.Event, excludePeerID string) int {
	b.mu.RLock()
	seen := make(map[string]struct{}, len(b.peers))
	var targets []realtime.Peer
	for _, members := range b.rooms {
		for id, peer := range members {
			if id == excludePeerID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, peer)
		}
	}
	b.mu.RUnlock()

	return b.deliver("*", ev, targets)
}

func (b *Broadcaster) deliver(roomID string, ev realtime.Event, targets []realtime.Peer) int {
	if len(targets) == 0 {
		return 0
	}

	frame, err := realtime.Encode(ev)
	if err != nil {
		b.logger.Error("failed to encode event", "event", ev.EventName(), "error", err)
		return 0
	}

	delivered := 0
	for _, peer := range targets {
		if peer.Enqueue(frame) {
			delivered++
			continue
		}
		b.logger.Debug("dropped event for unavailable connection",
			"room_id", roomID,
			"event", ev.EventName(),
			"conn_id", peer.ID())
	}
	return delivered
}

// Members returns the peer IDs joined to roomID, sorted.
func (b *Broadcaster) Members(roomID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := lo.Keys(b.rooms[roomID])
	sort.Strings(ids)
	return ids
}

// Rooms returns the IDs of rooms that currently have members, sorted.
func (b *Broadcaster) Rooms() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := lo.Keys(b.rooms)
	sort.Strings(ids)
	return ids
}

// RoomsOf returns the rooms peerID has joined, sorted.
func (b *Broadcaster) RoomsOf(peerID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := lo.Keys(b.peers[peerID])
	sort.Strings(ids)
	return ids
}

// IsMember reports whether peerID has joined roomID.
func (b *Broadcaster) IsMember(peerID, roomID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.rooms[roomID][peerID]
	return ok
}

// Sequence runs fn while holding roomID's sequencing lock. Use it to make
// persist-then-broadcast atomic with respect to other work on the same
// room. Other rooms, and membership changes, are never blocked by it.
func (b *Broadcaster) Sequence(roomID string, fn func() error) error {
	b.seqMu.Lock()
	seq, ok := b.seqs[roomID]
	if !ok {
		seq = &sequencer{}
		b.seqs[roomID] = seq
	}
	seq.refs++
	b.seqMu.Unlock()

	seq.mu.Lock()
	defer func() {
		seq.mu.Unlock()

		b.seqMu.Lock()
		seq.refs--
		if seq.refs == 0 {
			delete(b.seqs, roomID)
		}
		b.seqMu.Unlock()
	}()

	return fn()
}

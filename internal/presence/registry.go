// ABOUTME: In-memory presence registry mapping identities to live connections
// ABOUTME: Authoritative for "currently reachable"; the store only mirrors it

package presence

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/realtime"
	"github.com/2389/chat-gateway/internal/store"
)

// ErrNotConnected is returned when changing the status of an identity with
// no live connections.
var ErrNotConnected = errors.New("identity has no live connections")

// ErrInvalidStatus is returned for statuses a client may not set directly.
var ErrInvalidStatus = errors.New("status must be online or away")

type entry struct {
	username string
	status   store.UserStatus
	lastSeen time.Time
	peers    map[string]realtime.Peer // peer ID -> peer
}

// Entry is a point-in-time copy of one identity's presence.
type Entry struct {
	UserID      string
	Username    string
	Status      store.UserStatus
	LastSeen    time.Time
	Connections int
}

// Registry tracks live connections per identity. All operations run under
// a single mutex, so register and deregister are linearizable per identity.
// Entries for identities that went offline are kept for their last-seen
// time until the process exits.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger.With("component", "presence"),
	}
}

// Register adds peer under id. It returns true when this is the identity's
// first live connection, i.e. the identity just came online.
func (r *Registry) Register(id auth.Identity, peer realtime.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id.UserID]
	if !ok {
		e = &entry{peers: make(map[string]realtime.Peer)}
		r.entries[id.UserID] = e
	}

	first := len(e.peers) == 0
	e.username = id.Username
	e.lastSeen = r.now()
	e.peers[peer.ID()] = peer
	if first {
		e.status = store.UserStatusOnline
	}

	r.logger.Debug("registered connection",
		"user_id", id.UserID,
		"conn_id", peer.ID(),
		"connections", len(e.peers))
	return first
}

// Deregister removes peer from userID. It returns true when this was the
// identity's last live connection. Deregistering an unknown peer is a no-op
// that returns false, so teardown can run more than once.
func (r *Registry) Deregister(userID string, peer realtime.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return false
	}
	if _, ok := e.peers[peer.ID()]; !ok {
		return false
	}

	delete(e.peers, peer.ID())
	e.lastSeen = r.now()

	last := len(e.peers) == 0
	if last {
		e.status = store.UserStatusOffline
	}

	r.logger.Debug("deregistered connection",
		"user_id", userID,
		"conn_id", peer.ID(),
		"connections", len(e.peers))
	return last
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	return ok && len(e.peers) > 0
}

// Snapshot returns the online identities, sorted.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	online := lo.Filter(lo.Keys(r.entries), func(userID string, _ int) bool {
		return len(r.entries[userID].peers) > 0
	})
	sort.Strings(online)
	return online
}

// LastSeen returns when userID last connected or disconnected.
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// Get returns a copy of userID's presence entry.
func (r *Registry) Get(userID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return Entry{}, false
	}
	return Entry{
		UserID:      userID,
		Username:    e.username,
		Status:      e.status,
		LastSeen:    e.lastSeen,
		Connections: len(e.peers),
	}, true
}

// Connections returns userID's live peers.
func (r *Registry) Connections(userID string) []realtime.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return nil
	}
	return lo.Values(e.peers)
}

// All returns every live peer across all identities.
func (r *Registry) All() []realtime.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	var peers []realtime.Peer
	for _, e := range r.entries {
		peers = append(peers, lo.Values(e.peers)...)
	}
	return peers
}

// SetStatus switches an online identity between online and away.
func (r *Registry) SetStatus(userID string, status store.UserStatus) error {
	if status != store.UserStatusOnline && status != store.UserStatusAway {
		return ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok || len(e.peers) == 0 {
		return ErrNotConnected
	}
	e.status = status
	return nil
}

// Count returns the number of online identities.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return lo.CountBy(lo.Values(r.entries), func(e *entry) bool {
		return len(e.peers) > 0
	})
}

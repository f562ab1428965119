// ABOUTME: Recording Peer for tests of components that fan out realtime events
// ABOUTME: Captures encoded frames and decodes them back into envelopes on demand

package realtimetest

import (
	"encoding/json"
	"sync"

	"github.com/2389/chat-gateway/internal/realtime"
)

// Peer records every frame enqueued to it. A closed Peer rejects frames.
type Peer struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

// NewPeer returns an open recording peer.
func NewPeer(id, userID string) *Peer {
	return &Peer{id: id, userID: userID}
}

func (p *Peer) ID() string     { return p.id }
func (p *Peer) UserID() string { return p.userID }

// Enqueue records frame unless the peer is closed.
func (p *Peer) Enqueue(frame []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.frames = append(p.frames, frame)
	return true
}

// Close makes subsequent Enqueue calls fail.
func (p *Peer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Envelopes returns every recorded frame, decoded.
func (p *Peer) Envelopes() []realtime.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]realtime.Envelope, 0, len(p.frames))
	for _, f := range p.frames {
		var env realtime.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// Events returns the event names received, in order.
func (p *Peer) Events() []string {
	envs := p.Envelopes()
	names := make([]string, len(envs))
	for i, env := range envs {
		names[i] = env.Event
	}
	return names
}

// Last decodes the payload of the most recent frame named event into dst.
// It reports false if no such frame was received.
func (p *Peer) Last(event string, dst any) bool {
	envs := p.Envelopes()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Event == event {
			return json.Unmarshal(envs[i].Data, dst) == nil
		}
	}
	return false
}

// Reset discards recorded frames.
func (p *Peer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

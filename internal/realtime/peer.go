// ABOUTME: Peer is the shared view of a live connection used by presence and rooms
// ABOUTME: Keeps the registry and broadcaster independent of the websocket transport

package realtime

// Peer is a single live connection. Enqueue must never block: it returns
// false when the connection is closed or its send queue is full.
type Peer interface {
	ID() string
	UserID() string
	Enqueue(frame []byte) bool
}

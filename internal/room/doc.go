// Package room fans realtime events out to the connections subscribed to
// a conversation.
//
// A room is the live counterpart of a conversation: it holds only the
// connections that have explicitly joined since connecting. Rooms are
// created on first join and removed when their last member leaves; nothing
// about them is persisted.
//
// Broadcast never blocks on a slow receiver. Store I/O for a room is
// ordered with Sequence, which locks that room alone.
package room

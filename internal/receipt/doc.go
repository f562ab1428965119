// Package receipt maintains per-message read state.
//
// A read-by entry is written at most once per reader and message. The
// Tracker checks that the reader participates in the conversation, appends
// the entry through the store, and broadcasts message-read-receipt to the
// conversation room so other clients can update optimistically.
package receipt

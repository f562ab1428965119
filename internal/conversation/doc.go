// Package conversation provides the conversation rules behind the chat
// gateway.
//
// # Overview
//
// The Service sits between the websocket/HTTP handlers and the store. It
// decides who may see or change a conversation and makes sure that
// anything broadcast to a room has already been persisted.
//
//	svc := conversation.New(store, rooms, logger)
//
// # Direct and group conversations
//
// A direct conversation has exactly two participants and is unique per
// unordered pair: CreateOrGetDirect returns the existing one when present.
// A group has a name, an admin, and at least two other members at
// creation. Only the admin adds members or deletes the group; members may
// leave on their own. When the admin leaves, the earliest remaining member
// becomes admin, and the last member leaving deletes the group.
//
// # Sending
//
// SendMessage runs under the room's sequencing lock:
//
//  1. Save the message, the sender's read entry, and the conversation's
//     last-message pointer in one store transaction
//  2. Broadcast receive-message to the room, sender included
//  3. Broadcast conversation-updated to each participant's personal room
//
// If step 1 fails nothing is broadcast and the caller gets a store error.
//
// # Errors
//
// All errors are classified with the chaterr sentinels so the gateway can
// report them as typed error events or HTTP statuses.
package conversation

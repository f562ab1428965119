// Package store provides persistence for chat-gateway.
//
// # Overview
//
// The Store interface is the CRUD contract the realtime core consumes:
// conversations with their participant sets, messages with per-reader
// read receipts, and a best-effort mirror of user presence. Two
// implementations exist:
//
//   - SQLiteStore: production storage on modernc.org/sqlite (pure Go)
//   - MockStore: in-memory storage for tests, with per-method failure injection
//
// # Schema
//
//	users                      presence mirror (status, last_seen)
//	conversations              direct or group; direct_key is UNIQUE per pair
//	conversation_participants  (conversation_id, user_id), cascades on delete
//	messages                   cascades on conversation delete
//	message_reads              (message_id, reader_id) primary key, cascades
//
// Timestamps are stored as fixed-width UTC text so ORDER BY on the column
// matches time order.
//
// # Invariants
//
//   - A direct conversation has exactly two distinct participants and no admin.
//   - A group conversation has an admin who is a participant.
//   - SaveMessage records the sender as having read the message and updates
//     the conversation's last message and updated_at atomically.
//   - AppendReadReceipt never overwrites an existing read time.
//   - DeleteMessage repoints last_message_id to the newest remaining message.
//
// # Pagination
//
// ListMessages pages newest-first (page 1 holds the most recent messages)
// and returns each page in chronological order. Totals are computed at query
// time; a page past the end is empty rather than an error.
package store

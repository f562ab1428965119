// ABOUTME: SQLite persistence for messages, history paging, and read receipts
// ABOUTME: Saving a message atomically records the sender's read entry and bumps the conversation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// SaveMessage inserts msg, records the sender as having read it, and updates
// the conversation's last message and updated_at in one transaction.
// Missing ReadBy/Type fields are filled in on msg.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	prepareMessage(msg)

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_message_id = ?, updated_at = ? WHERE id = ?
		`, msg.ID, formatTime(msg.CreatedAt), msg.ConversationID)
		if err != nil {
			return fmt.Errorf("updating conversation: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if rows == 0 {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, sender_id, content, type, file_url, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			msg.ID,
			msg.ConversationID,
			msg.SenderID,
			msg.Content,
			string(msg.Type),
			nullString(msg.FileURL),
			formatTime(msg.CreatedAt),
		); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("inserting message: %w", err)
		}

		for readerID, readAt := range msg.ReadBy {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO message_reads (message_id, reader_id, read_at) VALUES (?, ?, ?)
			`, msg.ID, readerID, formatTime(readAt)); err != nil {
				return fmt.Errorf("inserting read receipt: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("saved message", "id", msg.ID, "conversation_id", msg.ConversationID, "type", msg.Type)
	return nil
}

// prepareMessage defaults the type and guarantees the sender read entry.
func prepareMessage(msg *Message) {
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}
	if msg.ReadBy == nil {
		msg.ReadBy = make(map[string]time.Time)
	}
	if _, ok := msg.ReadBy[msg.SenderID]; !ok {
		msg.ReadBy[msg.SenderID] = msg.CreatedAt
	}
}

const messageColumns = `id, conversation_id, sender_id, content, type, file_url, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var msg Message
	var msgType, createdAt string
	var fileURL sql.NullString

	if err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&msgType,
		&fileURL,
		&createdAt,
	); err != nil {
		return nil, err
	}

	msg.Type = MessageType(msgType)
	msg.FileURL = fileURL.String
	msg.ReadBy = make(map[string]time.Time)

	var err error
	if msg.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &msg, nil
}

// loadReads fills ReadBy for every message in msgs with a single query.
func loadReads(ctx context.Context, q querier, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	byID := lo.KeyBy(msgs, func(m *Message) string { return m.ID })
	ids := lo.Map(msgs, func(m *Message, _ int) string { return m.ID })

	rows, err := q.QueryContext(ctx, `
		SELECT message_id, reader_id, read_at FROM message_reads
		WHERE message_id IN (`+placeholders(len(ids))+`)
	`, lo.ToAnySlice(ids)...)
	if err != nil {
		return fmt.Errorf("querying read receipts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var messageID, readerID, readAt string
		if err := rows.Scan(&messageID, &readerID, &readAt); err != nil {
			return fmt.Errorf("scanning read receipt: %w", err)
		}
		t, err := parseTime(readAt)
		if err != nil {
			return err
		}
		byID[messageID].ReadBy[readerID] = t
	}
	return rows.Err()
}

// GetMessage retrieves a message with its read receipts.
// Returns ErrNotFound if the message doesn't exist.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying message: %w", err)
	}
	if err := loadReads(ctx, s.db, []*Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns one page of a conversation's history. Pages are
// counted from the newest message; the returned slice is chronological.
// A page beyond the end yields an empty slice with accurate totals.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, req PageRequest) (*MessagePage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages WHERE conversation_id = ?
	`, conversationID).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, conversationID, req.Limit, req.Offset())
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	var newestFirst []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	rows.Close()

	if err := loadReads(ctx, s.db, newestFirst); err != nil {
		return nil, err
	}

	return newMessagePage(newestFirst, req, total), nil
}

// DeleteMessage removes a message and repoints the conversation's last
// message to the newest remaining one (or none). Returns the updated
// conversation.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id string) (*Conversation, error) {
	var conversationID string

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT conversation_id FROM messages WHERE id = ?`, id).Scan(&conversationID)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("querying message: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting message: %w", err)
		}

		var latest sql.NullString
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM messages WHERE conversation_id = ?
			ORDER BY created_at DESC, rowid DESC LIMIT 1
		`, conversationID).Scan(&latest)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("querying latest message: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_message_id = ? WHERE id = ?
		`, nullString(latest.String), conversationID); err != nil {
			return fmt.Errorf("repointing last message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("deleted message", "id", id, "conversation_id", conversationID)
	return s.GetConversation(ctx, conversationID)
}

// AppendReadReceipt records that readerID has read messageID. Returns true
// if this call created the entry and false if it already existed; the
// original read time is never overwritten.
func (s *SQLiteStore) AppendReadReceipt(ctx context.Context, messageID, readerID string, readAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, reader_id, read_at) VALUES (?, ?, ?)
	`, messageID, readerID, formatTime(readAt))
	if isForeignKeyViolation(err) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("inserting read receipt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows == 1, nil
}

// ListUnreadMessageIDs returns, oldest first, the messages in a
// conversation that readerID has not read. A sender always has a read entry
// for their own messages, so those are never included.
func (s *SQLiteStore) ListUnreadMessageIDs(ctx context.Context, conversationID, readerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id FROM messages m
		WHERE m.conversation_id = ?
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.reader_id = ?
		  )
		ORDER BY m.created_at ASC, m.rowid ASC
	`, conversationID, readerID)
	if err != nil {
		return nil, fmt.Errorf("querying unread messages: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning message id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountUnread counts messages across all of userID's conversations that
// were sent by someone else and not yet read by userID.
func (s *SQLiteStore) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE m.sender_id != ?
		  AND NOT EXISTS (
			SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.reader_id = ?
		  )
	`, userID, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread messages: %w", err)
	}
	return count, nil
}

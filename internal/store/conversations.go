// ABOUTME: SQLite persistence for conversations and their participant sets
// ABOUTME: Direct conversations are unique per unordered pair via a direct_key column

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// validateConversation enforces the structural invariants shared by every
// Store implementation.
func validateConversation(conv *Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation id is required")
	}
	if len(conv.Participants) == 0 {
		return errors.New("conversation must have participants")
	}
	if len(lo.Uniq(conv.Participants)) != len(conv.Participants) {
		return errors.New("conversation participants must be unique")
	}
	if conv.IsGroup {
		if conv.GroupAdmin == "" {
			return errors.New("group conversation requires an admin")
		}
		if !conv.HasParticipant(conv.GroupAdmin) {
			return errors.New("group admin must be a participant")
		}
		return nil
	}
	if len(conv.Participants) != 2 {
		return fmt.Errorf("direct conversation requires exactly two participants, got %d", len(conv.Participants))
	}
	if conv.GroupAdmin != "" {
		return errors.New("direct conversation cannot have an admin")
	}
	return nil
}

// CreateConversation inserts a conversation and its participants.
// Returns ErrDuplicate if a direct conversation already exists for the pair.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if err := validateConversation(conv); err != nil {
		return err
	}

	var directKey any
	if !conv.IsGroup {
		directKey = DirectKey(conv.Participants[0], conv.Participants[1])
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, is_group, group_name, group_admin, direct_key, last_message_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			conv.ID,
			conv.IsGroup,
			nullString(conv.GroupName),
			nullString(conv.GroupAdmin),
			directKey,
			nullString(conv.LastMessageID),
			formatTime(conv.CreatedAt),
			formatTime(conv.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicate
			}
			return fmt.Errorf("inserting conversation: %w", err)
		}

		for _, userID := range conv.Participants {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
				VALUES (?, ?, ?)
			`, conv.ID, userID, formatTime(conv.CreatedAt)); err != nil {
				return fmt.Errorf("inserting participant: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("created conversation", "id", conv.ID, "group", conv.IsGroup)
	return nil
}

const conversationColumns = `c.id, c.is_group, c.group_name, c.group_admin, c.last_message_id, c.created_at, c.updated_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var conv Conversation
	var groupName, groupAdmin, lastMessageID sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(
		&conv.ID,
		&conv.IsGroup,
		&groupName,
		&groupAdmin,
		&lastMessageID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	conv.GroupName = groupName.String
	conv.GroupAdmin = groupAdmin.String
	conv.LastMessageID = lastMessageID.String

	var err error
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if conv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &conv, nil
}

// loadParticipants fills conv.Participants in join order.
func loadParticipants(ctx context.Context, q querier, conv *Conversation) error {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY rowid ASC
	`, conv.ID)
	if err != nil {
		return fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	conv.Participants = conv.Participants[:0]
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return fmt.Errorf("scanning participant: %w", err)
		}
		conv.Participants = append(conv.Participants, userID)
	}
	return rows.Err()
}

func (s *SQLiteStore) getConversation(ctx context.Context, q querier, where string, arg any) (*Conversation, error) {
	row := q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations c WHERE `+where, arg)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	if err := loadParticipants(ctx, q, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.getConversation(ctx, s.db, "c.id = ?", id)
}

// FindDirectConversation returns the direct conversation between a and b
// regardless of argument order.
func (s *SQLiteStore) FindDirectConversation(ctx context.Context, a, b string) (*Conversation, error) {
	return s.getConversation(ctx, s.db, "c.direct_key = ?", DirectKey(a, b))
}

// ListConversationsForUser returns every conversation userID participates
// in, most recently updated first.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.rowid DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	rows.Close()

	// Participants are loaded after the cursor is released; an in-memory
	// database has a single connection.
	for _, conv := range convs {
		if err := loadParticipants(ctx, s.db, conv); err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// AddParticipant adds userID to a conversation.
// Returns ErrNotFound for an unknown conversation and ErrDuplicate if
// userID is already a member.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, conversationID, userID, formatTime(time.Now()))
	switch {
	case isForeignKeyViolation(err):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrDuplicate
	case err != nil:
		return fmt.Errorf("inserting participant: %w", err)
	}
	return nil
}

// RemoveParticipant removes userID from a conversation in one transaction.
// If userID administered a group, the earliest-joined remaining member
// becomes admin. A group left without members is deleted, and the returned
// conversation is nil. Returns ErrNotFound if userID was not a member.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	var conv *Conversation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := s.getConversation(ctx, tx, "c.id = ?", conversationID)
		if err != nil {
			return err
		}
		if !current.HasParticipant(userID) {
			return ErrNotFound
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM conversation_participants WHERE conversation_id = ? AND user_id = ?
		`, conversationID, userID); err != nil {
			return fmt.Errorf("deleting participant: %w", err)
		}

		remaining := lo.Without(current.Participants, userID)
		if current.IsGroup && len(remaining) == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID); err != nil {
				return fmt.Errorf("deleting empty group: %w", err)
			}
			return nil
		}

		current.Participants = remaining
		if current.IsGroup && current.GroupAdmin == userID {
			current.GroupAdmin = remaining[0]
			if _, err := tx.ExecContext(ctx, `
				UPDATE conversations SET group_admin = ? WHERE id = ?
			`, current.GroupAdmin, conversationID); err != nil {
				return fmt.Errorf("updating group admin: %w", err)
			}
		}
		conv = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("removed participant", "conversation_id", conversationID, "user_id", userID, "emptied", conv == nil)
	return conv, nil
}

// DeleteConversation removes a conversation. Participants, messages and
// read receipts are removed by ON DELETE CASCADE.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// ABOUTME: Store interface and data types for chat-gateway persistence
// ABOUTME: Defines Conversation, Message, User structs and the Store contract consumed by the realtime core

package store

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert collides with an existing row,
// e.g. a second direct conversation for the same pair or an existing member.
var ErrDuplicate = errors.New("already exists")

// UserStatus is the persisted presence mirror. The in-memory presence
// registry is authoritative; this is best-effort.
type UserStatus string

const (
	UserStatusOnline  UserStatus = "online"
	UserStatusOffline UserStatus = "offline"
	UserStatusAway    UserStatus = "away"
)

// User is the persisted presence mirror for an identity.
type User struct {
	ID        string
	Username  string
	Status    UserStatus
	LastSeen  time.Time
	CreatedAt time.Time
}

// MessageType identifies how a message body should be interpreted.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// Conversation is a one-on-one or group chat.
// A direct conversation has exactly two participants and no admin.
// A group conversation always has an admin who is also a participant.
type Conversation struct {
	ID            string
	Participants  []string
	IsGroup       bool
	GroupName     string
	GroupAdmin    string
	LastMessageID string // empty when the conversation has no messages
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports whether userID is a member.
func (c *Conversation) HasParticipant(userID string) bool {
	return lo.Contains(c.Participants, userID)
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Participants = slices.Clone(c.Participants)
	return &cp
}

// Message is a single chat message. ReadBy maps reader id to the time the
// reader first acknowledged it; an entry is written at most once.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Type           MessageType
	FileURL        string
	CreatedAt      time.Time
	ReadBy         map[string]time.Time
}

// IsReadBy reports whether userID has acknowledged the message.
func (m *Message) IsReadBy(userID string) bool {
	_, ok := m.ReadBy[userID]
	return ok
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	cp := *m
	cp.ReadBy = make(map[string]time.Time, len(m.ReadBy))
	for k, v := range m.ReadBy {
		cp.ReadBy[k] = v
	}
	return &cp
}

// DirectKey is the order-independent key identifying the direct
// conversation between a and b.
func DirectKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// Store defines the persistence contract consumed by the realtime core.
type Store interface {
	// Users (presence mirror)
	UpsertUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	SetUserStatus(ctx context.Context, id string, status UserStatus, lastSeen time.Time) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	FindDirectConversation(ctx context.Context, a, b string) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID string) error
	RemoveParticipant(ctx context.Context, conversationID, userID string) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, req PageRequest) (*MessagePage, error)
	DeleteMessage(ctx context.Context, id string) (*Conversation, error)

	// Read receipts
	AppendReadReceipt(ctx context.Context, messageID, readerID string, readAt time.Time) (bool, error)
	ListUnreadMessageIDs(ctx context.Context, conversationID, readerID string) ([]string, error)
	CountUnread(ctx context.Context, userID string) (int, error)

	Close() error
}

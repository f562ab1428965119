// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject failures per method

package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

// MockStore is an in-memory Store implementation for testing.
// It mirrors SQLiteStore semantics and returns copies so callers cannot
// mutate internal state.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User
	conversations map[string]*Conversation // keyed by conversation ID
	directIndex   map[string]string        // DirectKey -> conversation ID
	messages      map[string]*Message      // keyed by message ID
	order         []string                 // message IDs in insertion order
	errs          map[string]error         // method name -> injected error
	closed        bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		conversations: make(map[string]*Conversation),
		directIndex:   make(map[string]string),
		messages:      make(map[string]*Message),
		errs:          make(map[string]error),
	}
}

// FailWith makes every subsequent call to method return err. Pass a nil err
// to clear the injection.
func (m *MockStore) FailWith(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// injected must be called with mu held.
func (m *MockStore) injected(method string) error {
	return m.errs[method]
}

// UpsertUser inserts or refreshes a user.
func (m *MockStore) UpsertUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("UpsertUser"); err != nil {
		return err
	}

	u := *user
	if u.Status == "" {
		u.Status = UserStatusOffline
	}
	if existing, ok := m.users[u.ID]; ok {
		u.CreatedAt = existing.CreatedAt
		if u.LastSeen.IsZero() {
			u.LastSeen = existing.LastSeen
		}
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	m.users[u.ID] = &u
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected("GetUser"); err != nil {
		return nil, err
	}

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// SetUserStatus updates status and last-seen for an existing user.
func (m *MockStore) SetUserStatus(ctx context.Context, id string, status UserStatus, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SetUserStatus"); err != nil {
		return err
	}

	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.LastSeen = lastSeen
	return nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if err := validateConversation(conv); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CreateConversation"); err != nil {
		return err
	}

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicate
	}
	if !conv.IsGroup {
		key := DirectKey(conv.Participants[0], conv.Participants[1])
		if _, exists := m.directIndex[key]; exists {
			return ErrDuplicate
		}
		m.directIndex[key] = conv.ID
	}

	m.conversations[conv.ID] = conv.Clone()
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected("GetConversation"); err != nil {
		return nil, err
	}

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// FindDirectConversation returns the direct conversation between a and b.
func (m *MockStore) FindDirectConversation(ctx context.Context, a, b string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected("FindDirectConversation"); err != nil {
		return nil, err
	}

	id, ok := m.directIndex[DirectKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	return m.conversations[id].Clone(), nil
}

// ListConversationsForUser returns userID's conversations, most recently
// updated first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected("ListConversationsForUser"); err != nil {
		return nil, err
	}

	var result []*Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			result = append(result, c.Clone())
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

// AddParticipant adds userID to a conversation.
func (m *MockStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("AddParticipant"); err != nil {
		return err
	}

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if c.HasParticipant(userID) {
		return ErrDuplicate
	}
	c.Participants = append(c.Participants, userID)
	return nil
}

// RemoveParticipant removes userID, hands group administration to the
// earliest remaining member when needed, and deletes an emptied group.
func (m *MockStore) RemoveParticipant(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("RemoveParticipant"); err != nil {
		return nil, err
	}

	c, ok := m.conversations[conversationID]
	if !ok || !c.HasParticipant(userID) {
		return nil, ErrNotFound
	}

	remaining := lo.Without(c.Participants, userID)
	if c.IsGroup && len(remaining) == 0 {
		m.deleteConversationLocked(c)
		return nil, nil
	}

	c.Participants = remaining
	if c.IsGroup && c.GroupAdmin == userID {
		c.GroupAdmin = remaining[0]
	}
	return c.Clone(), nil
}

// DeleteConversation removes a conversation and cascades to its messages.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DeleteConversation"); err != nil {
		return err
	}

	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	m.deleteConversationLocked(c)
	return nil
}

// deleteConversationLocked must be called with mu held.
func (m *MockStore) deleteConversationLocked(c *Conversation) {
	if !c.IsGroup {
		delete(m.directIndex, DirectKey(c.Participants[0], c.Participants[1]))
	}
	delete(m.conversations, c.ID)

	m.order = slices.DeleteFunc(m.order, func(msgID string) bool {
		if m.messages[msgID].ConversationID != c.ID {
			return false
		}
		delete(m.messages, msgID)
		return true
	})
}

// SaveMessage stores a message, records the sender read entry, and bumps
// the conversation.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SaveMessage"); err != nil {
		return err
	}

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := m.messages[msg.ID]; exists {
		return ErrDuplicate
	}

	prepareMessage(msg)
	m.messages[msg.ID] = msg.Clone()
	m.order = append(m.order, msg.ID)
	c.LastMessageID = msg.ID
	c.UpdatedAt = msg.CreatedAt
	return nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected("GetMessage"); err != nil {
		return nil, err
	}

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

// conversationMessagesLocked returns a conversation's messages newest first.
// Must be called with mu held.
func (m *MockStore) conversationMessagesLocked(conversationID string) []*Message {
	var msgs []*Message
	for i := len(m.order) - 1; i >= 0; i-- {
		msg := m.messages[m.order[i]]
		if msg.ConversationID == conversationID {
			msgs = append(msgs, msg)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
	return msgs
}

// ListMessages returns one page of history in chronological order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, req PageRequest) (*MessagePage, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected("ListMessages"); err != nil {
		return nil, err
	}

	all := m.conversationMessagesLocked(conversationID)
	var window []*Message
	if offset := req.Offset(); offset < len(all) {
		end := min(offset+req.Limit, len(all))
		window = lo.Map(all[offset:end], func(msg *Message, _ int) *Message { return msg.Clone() })
	}
	return newMessagePage(window, req, len(all)), nil
}

// DeleteMessage removes a message and repoints the conversation's last message.
func (m *MockStore) DeleteMessage(ctx context.Context, id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("DeleteMessage"); err != nil {
		return nil, err
	}

	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.messages, id)
	m.order = slices.DeleteFunc(m.order, func(msgID string) bool { return msgID == id })

	c := m.conversations[msg.ConversationID]
	c.LastMessageID = ""
	if remaining := m.conversationMessagesLocked(msg.ConversationID); len(remaining) > 0 {
		c.LastMessageID = remaining[0].ID
	}
	return c.Clone(), nil
}

// AppendReadReceipt records a read entry if none exists for readerID.
func (m *MockStore) AppendReadReceipt(ctx context.Context, messageID, readerID string, readAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("AppendReadReceipt"); err != nil {
		return false, err
	}

	msg, ok := m.messages[messageID]
	if !ok {
		return false, ErrNotFound
	}
	if msg.IsReadBy(readerID) {
		return false, nil
	}
	msg.ReadBy[readerID] = readAt
	return true, nil
}

// ListUnreadMessageIDs returns unread message IDs oldest first.
func (m *MockStore) ListUnreadMessageIDs(ctx context.Context, conversationID, readerID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected("ListUnreadMessageIDs"); err != nil {
		return nil, err
	}

	msgs := m.conversationMessagesLocked(conversationID)
	slices.Reverse(msgs)
	unread := lo.Filter(msgs, func(msg *Message, _ int) bool { return !msg.IsReadBy(readerID) })
	return lo.Map(unread, func(msg *Message, _ int) string { return msg.ID }), nil
}

// CountUnread counts unread messages from others across userID's conversations.
func (m *MockStore) CountUnread(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.injected("CountUnread"); err != nil {
		return 0, err
	}

	return lo.CountBy(lo.Values(m.messages), func(msg *Message) bool {
		c, ok := m.conversations[msg.ConversationID]
		return ok && c.HasParticipant(userID) && msg.SenderID != userID && !msg.IsReadBy(userID)
	}), nil
}

// Ping reports whether the store is open.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.injected("Ping")
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)

// ABOUTME: Conversation service enforcing direct/group rules and persist-then-broadcast sends
// ABOUTME: Every mutation that clients observe live is saved to the store before it is fanned out

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/chaterr"
	"github.com/2389/chat-gateway/internal/realtime"
	"github.com/2389/chat-gateway/internal/store"
)

// minGroupMembers is the number of members besides the admin a new group
// needs.
const minGroupMembers = 2

// Rooms is what the service needs from the room broadcaster.
type Rooms interface {
	Broadcast(roomID string, ev realtime.Event, excludePeerID string) int
	Sequence(roomID string, fn func() error) error
	EvictUser(roomID, userID string) int
	EvictAll(roomID string) int
}

// Service owns the conversation model: who may talk to whom, and how sent
// messages reach the rooms.
type Service struct {
	store  store.Store
	rooms  Rooms
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// New creates a conversation service. Pass nil logger for default.
func New(s store.Store, rooms Rooms, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		rooms:  rooms,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		logger: logger.With("component", "conversation"),
	}
}

// SendRequest is a message submitted by a participant.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Content        string
	Type           store.MessageType
	FileURL        string
}

// CreateOrGetDirect returns the direct conversation between requester and
// other, creating it if none exists. The bool reports whether it was
// created by this call.
func (s *Service) CreateOrGetDirect(ctx context.Context, requester, other string) (*store.Conversation, bool, error) {
	if other == "" {
		return nil, false, chaterr.Validationf("user id is required")
	}
	if requester == other {
		return nil, false, chaterr.Validationf("cannot start a conversation with yourself")
	}

	conv, err := s.store.FindDirectConversation(ctx, requester, other)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, chaterr.Store("finding direct conversation", err)
	}

	now := s.now()
	conv = &store.Conversation{
		ID:           s.newID(),
		Participants: []string{requester, other},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.store.CreateConversation(ctx, conv)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with the other side creating the same pair.
		existing, findErr := s.store.FindDirectConversation(ctx, requester, other)
		if findErr != nil {
			return nil, false, chaterr.Store("finding direct conversation", findErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, chaterr.Store("creating direct conversation", err)
	}

	s.logger.Info("created direct conversation", "conversation_id", conv.ID, "participants", conv.Participants)
	return conv, true, nil
}

// CreateGroup creates a group administered by admin. The admin is always a
// member; other members are de-duplicated.
func (s *Service) CreateGroup(ctx context.Context, admin, name string, members []string) (*store.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, chaterr.Validationf("group name is required")
	}

	others := lo.Uniq(lo.Without(lo.Compact(members), admin))
	if len(others) < minGroupMembers {
		return nil, chaterr.Validationf("a group needs at least %d members besides the admin", minGroupMembers)
	}

	now := s.now()
	conv := &store.Conversation{
		ID:           s.newID(),
		Participants: append([]string{admin}, others...),
		IsGroup:      true,
		GroupName:    name,
		GroupAdmin:   admin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, chaterr.Store("creating group", err)
	}

	s.notifyParticipants(conv)
	s.logger.Info("created group", "conversation_id", conv.ID, "admin", admin, "members", len(conv.Participants))
	return conv, nil
}

// Get returns a conversation the actor participates in.
func (s *Service) Get(ctx context.Context, actor, conversationID string) (*store.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeError("conversation "+conversationID, err)
	}
	if !conv.HasParticipant(actor) {
		return nil, chaterr.Accessf("%s is not a participant of %s", actor, conversationID)
	}
	return conv, nil
}

// ListForUser returns userID's conversations, most recently updated first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*store.Conversation, error) {
	convs, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, chaterr.Store("listing conversations", err)
	}
	return convs, nil
}

// AddParticipant adds userID to a group. Only the admin may add members.
func (s *Service) AddParticipant(ctx context.Context, actor, conversationID, userID string) (*store.Conversation, error) {
	if userID == "" {
		return nil, chaterr.Validationf("user id is required")
	}
	conv, err := s.Get(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, chaterr.Validationf("participants can only be added to a group")
	}
	if conv.GroupAdmin != actor {
		return nil, chaterr.Accessf("only the group admin can add members")
	}
	if conv.HasParticipant(userID) {
		return nil, chaterr.Validationf("%s is already a member", userID)
	}

	if err := s.store.AddParticipant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, chaterr.Validationf("%s is already a member", userID)
		}
		return nil, storeError("adding participant", err)
	}

	conv.Participants = append(conv.Participants, userID)
	s.notifyParticipants(conv)
	s.logger.Info("added participant", "conversation_id", conversationID, "user_id", userID)
	return conv, nil
}

// RemoveParticipant removes userID from a group. The admin may remove
// anyone; other members may only remove themselves. When the admin leaves,
// administration passes to the earliest remaining member, and a group left
// empty is deleted, in which case the returned conversation is nil.
//
// The removed user's connections are evicted from the room, and the
// removed user and the remaining members get conversation-updated.
func (s *Service) RemoveParticipant(ctx context.Context, actor, conversationID, userID string) (*store.Conversation, error) {
	conv, err := s.Get(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, chaterr.Validationf("participants can only be removed from a group")
	}
	if actor != conv.GroupAdmin && actor != userID {
		return nil, chaterr.Accessf("only the group admin can remove other members")
	}
	if !conv.HasParticipant(userID) {
		return nil, chaterr.NotFoundf("%s is not a member of %s", userID, conversationID)
	}

	var updated *store.Conversation
	err = s.rooms.Sequence(conversationID, func() error {
		var err error
		updated, err = s.store.RemoveParticipant(ctx, conversationID, userID)
		if err != nil {
			return storeError("removing participant", err)
		}
		if updated == nil {
			s.rooms.EvictAll(conversationID)
			return nil
		}
		s.rooms.EvictUser(conversationID, userID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rooms.Broadcast(realtime.UserRoom(userID), conversationUpdated(conv), "")
	if updated == nil {
		s.logger.Info("deleted empty group", "conversation_id", conversationID)
		return nil, nil
	}
	s.notifyParticipants(updated)

	if updated.GroupAdmin != conv.GroupAdmin {
		s.logger.Info("transferred group admin", "conversation_id", conversationID, "admin", updated.GroupAdmin)
	}
	s.logger.Info("removed participant", "conversation_id", conversationID, "user_id", userID)
	return updated, nil
}

// Delete removes a conversation and its messages. Any participant may
// delete a direct conversation; a group requires its admin. Every joined
// connection is evicted from the room.
func (s *Service) Delete(ctx context.Context, actor, conversationID string) error {
	conv, err := s.Get(ctx, actor, conversationID)
	if err != nil {
		return err
	}
	if conv.IsGroup && conv.GroupAdmin != actor {
		return chaterr.Accessf("only the group admin can delete the group")
	}

	err = s.rooms.Sequence(conversationID, func() error {
		if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
			return storeError("deleting conversation", err)
		}
		s.rooms.EvictAll(conversationID)
		return nil
	})
	if err != nil {
		return err
	}

	s.notifyParticipants(conv)
	s.logger.Info("deleted conversation", "conversation_id", conversationID, "actor", actor)
	return nil
}

// SendMessage persists a message and then broadcasts receive-message to
// the conversation room, sender included, followed by conversation-updated
// to every participant's personal room. A failed save broadcasts nothing.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (*store.Message, error) {
	if req.Type == "" {
		req.Type = store.MessageTypeText
	}
	switch req.Type {
	case store.MessageTypeText:
		if strings.TrimSpace(req.Content) == "" {
			return nil, chaterr.Validationf("message content is required")
		}
	case store.MessageTypeFile:
		if req.FileURL == "" {
			return nil, chaterr.Validationf("file messages require a file url")
		}
	default:
		return nil, chaterr.Validationf("unknown message type %q", req.Type)
	}

	conv, err := s.Get(ctx, req.SenderID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:             s.newID(),
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		Type:           req.Type,
		FileURL:        req.FileURL,
		CreatedAt:      s.now(),
	}

	err = s.rooms.Sequence(conv.ID, func() error {
		if err := s.store.SaveMessage(ctx, msg); err != nil {
			return storeError("saving message", err)
		}

		s.rooms.Broadcast(conv.ID, realtime.ReceiveMessage{
			Message: realtime.NewMessageView(msg),
			RoomID:  conv.ID,
		}, "")

		conv.LastMessageID = msg.ID
		conv.UpdatedAt = msg.CreatedAt
		s.notifyParticipants(conv)
		return nil
	})
	if err != nil {
		s.logger.Warn("message not sent",
			"conversation_id", conv.ID,
			"sender_id", req.SenderID,
			"error", err)
		return nil, err
	}

	s.logger.Debug("message sent", "conversation_id", conv.ID, "message_id", msg.ID, "type", msg.Type)
	return msg, nil
}

// History returns one page of a conversation's messages in chronological
// order. Pages count back from the newest message.
func (s *Service) History(ctx context.Context, actor, conversationID string, page, limit int) (*store.MessagePage, error) {
	if _, err := s.Get(ctx, actor, conversationID); err != nil {
		return nil, err
	}

	result, err := s.store.ListMessages(ctx, conversationID, store.PageRequest{Page: page, Limit: limit})
	if errors.Is(err, store.ErrInvalidPage) {
		return nil, chaterr.Validationf("%v", err)
	}
	if err != nil {
		return nil, chaterr.Store("listing messages", err)
	}
	return result, nil
}

// DeleteMessage removes a message sent by actor. The conversation's last
// message is repointed, and message-deleted is broadcast to the room.
func (s *Service) DeleteMessage(ctx context.Context, actor, messageID string) (*store.Conversation, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError("message "+messageID, err)
	}
	if msg.SenderID != actor {
		return nil, chaterr.Accessf("only the sender can delete a message")
	}

	var conv *store.Conversation
	err = s.rooms.Sequence(msg.ConversationID, func() error {
		var err error
		conv, err = s.store.DeleteMessage(ctx, messageID)
		if err != nil {
			return storeError("deleting message", err)
		}

		s.rooms.Broadcast(conv.ID, realtime.MessageDeleted{MessageID: messageID, RoomID: conv.ID}, "")
		s.notifyParticipants(conv)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("message deleted", "conversation_id", conv.ID, "message_id", messageID)
	return conv, nil
}

// UnreadCount counts messages from others that userID has not read, across
// all of userID's conversations.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, chaterr.Store("counting unread messages", err)
	}
	return n, nil
}

// notifyParticipants tells each participant's personal room that conv
// changed, so clients not viewing it can refresh their list.
func (s *Service) notifyParticipants(conv *store.Conversation) {
	ev := conversationUpdated(conv)
	for _, userID := range conv.Participants {
		s.rooms.Broadcast(realtime.UserRoom(userID), ev, "")
	}
}

func conversationUpdated(conv *store.Conversation) realtime.ConversationUpdated {
	return realtime.ConversationUpdated{
		RoomID:        conv.ID,
		LastMessageID: conv.LastMessageID,
		UpdatedAt:     conv.UpdatedAt,
	}
}

func storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return chaterr.NotFoundf("%s", op)
	}
	return chaterr.Store(op, err)
}

// ABOUTME: Wire envelope, event names, and payload types for the realtime protocol
// ABOUTME: Inbound payloads carry validator tags; outbound payloads name their own event

package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/chaterr"
	"github.com/2389/chat-gateway/internal/store"
)

// Client to server events.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventMessageRead = "message-read"
	EventViewingChat = "viewing-chat"
	EventMarkAllRead = "mark-all-read"
	EventSetStatus   = "set-status"
)

// Server to client events.
const (
	EventReceiveMessage      = "receive-message"
	EventUserTyping          = "user-typing"
	EventMessageReadReceipt  = "message-read-receipt"
	EventUserViewing         = "user-viewing"
	EventUserOnline          = "user-online"
	EventUserOffline         = "user-offline"
	EventConversationUpdated = "conversation-updated"
	EventMessageDeleted      = "message-deleted"
	EventUserStatus          = "user-status"
	EventError               = "error"
)

// userRoomPrefix namespaces personal rooms so they never collide with
// conversation IDs.
const userRoomPrefix = "user:"

// UserRoom returns the personal room every connection of userID joins.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

var validate = validator.New()

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound payload that knows its wire name.
type Event interface {
	EventName() string
}

// Encode renders ev inside an envelope.
func Encode(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", ev.EventName(), err)
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}

// ParseEnvelope decodes a raw frame. Malformed frames are validation errors.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, chaterr.Validationf("malformed frame: %v", err)
	}
	if env.Event == "" {
		return nil, chaterr.Validationf("frame has no event name")
	}
	return &env, nil
}

// Decode unmarshals the envelope payload into dst and validates it.
func (e *Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return chaterr.Validationf("%s: missing data", e.Event)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return chaterr.Validationf("%s: %v", e.Event, err)
	}
	if err := validate.Struct(dst); err != nil {
		return chaterr.Validationf("%s: %v", e.Event, err)
	}
	return nil
}

// RoomRequest is the payload of join-room, leave-room, viewing-chat and
// mark-all-read.
type RoomRequest struct {
	RoomID string `json:"roomId" validate:"required"`
}

// OutgoingMessage is the message body a client submits.
type OutgoingMessage struct {
	Content     string            `json:"content" validate:"max=10000"`
	MessageType store.MessageType `json:"messageType,omitempty" validate:"omitempty,oneof=text file"`
	FileURL     string            `json:"fileUrl,omitempty" validate:"omitempty,url"`
}

// SendMessageRequest is the send-message payload.
type SendMessageRequest struct {
	RoomID  string          `json:"roomId" validate:"required"`
	Message OutgoingMessage `json:"message"`
}

// TypingRequest is the typing payload.
type TypingRequest struct {
	RoomID   string `json:"roomId" validate:"required"`
	IsTyping bool   `json:"isTyping"`
}

// MessageReadRequest is the message-read payload.
type MessageReadRequest struct {
	RoomID    string `json:"roomId" validate:"required"`
	MessageID string `json:"messageId" validate:"required"`
}

// SetStatusRequest is the set-status payload. Offline is derived from
// connections and cannot be set.
type SetStatusRequest struct {
	Status store.UserStatus `json:"status" validate:"required,oneof=online away"`
}

// ReadEntry is one reader of a message.
type ReadEntry struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// MessageView is the client-facing rendering of a stored message.
type MessageView struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversationId"`
	SenderID       string            `json:"senderId"`
	Content        string            `json:"content"`
	Type           store.MessageType `json:"messageType"`
	FileURL        string            `json:"fileUrl,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	ReadBy         []ReadEntry       `json:"readBy"`
}

// NewMessageView renders msg with its readers ordered by read time.
func NewMessageView(msg *store.Message) MessageView {
	readBy := lo.MapToSlice(msg.ReadBy, func(userID string, at time.Time) ReadEntry {
		return ReadEntry{UserID: userID, ReadAt: at}
	})
	sort.Slice(readBy, func(i, j int) bool {
		if readBy[i].ReadAt.Equal(readBy[j].ReadAt) {
			return readBy[i].UserID < readBy[j].UserID
		}
		return readBy[i].ReadAt.Before(readBy[j].ReadAt)
	})

	return MessageView{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Type:           msg.Type,
		FileURL:        msg.FileURL,
		CreatedAt:      msg.CreatedAt,
		ReadBy:         readBy,
	}
}

// ConversationView is the client-facing rendering of a conversation.
type ConversationView struct {
	ID            string    `json:"id"`
	Participants  []string  `json:"participants"`
	IsGroup       bool      `json:"isGroupChat"`
	GroupName     string    `json:"groupName,omitempty"`
	GroupAdmin    string    `json:"groupAdmin,omitempty"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewConversationView renders conv.
func NewConversationView(conv *store.Conversation) ConversationView {
	return ConversationView{
		ID:            conv.ID,
		Participants:  append([]string{}, conv.Participants...),
		IsGroup:       conv.IsGroup,
		GroupName:     conv.GroupName,
		GroupAdmin:    conv.GroupAdmin,
		LastMessageID: conv.LastMessageID,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
	}
}

type ReceiveMessage struct {
	Message MessageView `json:"message"`
	RoomID  string      `json:"roomId"`
}

func (ReceiveMessage) EventName() string { return EventReceiveMessage }

type UserTyping struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

func (UserTyping) EventName() string { return EventUserTyping }

type MessageReadReceipt struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

func (MessageReadReceipt) EventName() string { return EventMessageReadReceipt }

type UserViewing struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

func (UserViewing) EventName() string { return EventUserViewing }

type UserOnline struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func (UserOnline) EventName() string { return EventUserOnline }

type UserOffline struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	LastSeen time.Time `json:"lastSeen"`
}

func (UserOffline) EventName() string { return EventUserOffline }

// ConversationUpdated tells a participant's personal room that a
// conversation moved, for clients not currently viewing it.
type ConversationUpdated struct {
	RoomID        string    `json:"roomId"`
	LastMessageID string    `json:"lastMessageId,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (ConversationUpdated) EventName() string { return EventConversationUpdated }

type MessageDeleted struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

func (MessageDeleted) EventName() string { return EventMessageDeleted }

type UserStatus struct {
	UserID string           `json:"userId"`
	Status store.UserStatus `json:"status"`
}

func (UserStatus) EventName() string { return EventUserStatus }

// ErrorEvent reports a failure to the originating connection only.
type ErrorEvent struct {
	Kind    chaterr.Kind `json:"kind"`
	Message string       `json:"message"`
	Event   string       `json:"event,omitempty"`
}

func (ErrorEvent) EventName() string { return EventError }

// NewErrorEvent classifies err for the wire. Store failures are reported
// without their underlying cause.
func NewErrorEvent(event string, err error) ErrorEvent {
	kind := chaterr.KindOf(err)
	msg := err.Error()
	if kind == chaterr.KindStore {
		msg = "the operation could not be saved"
	}
	return ErrorEvent{Kind: kind, Message: msg, Event: event}
}

// ABOUTME: Read-receipt tracker that appends read-by entries and broadcasts receipts
// ABOUTME: Idempotent per reader; repeated acknowledgments are absorbed by a dedupe cache

package receipt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/chat-gateway/internal/chaterr"
	"github.com/2389/chat-gateway/internal/dedupe"
	"github.com/2389/chat-gateway/internal/realtime"
	"github.com/2389/chat-gateway/internal/store"
)

// Publisher fans a receipt out to a conversation's room.
type Publisher interface {
	Broadcast(roomID string, ev realtime.Event, excludePeerID string) int
}

// Config bounds the acknowledgment cache.
type Config struct {
	CacheTTL  time.Duration
	CacheSize int
}

type readKey struct {
	messageID string
	readerID  string
}

// Tracker records who has read which message.
type Tracker struct {
	store  store.Store
	rooms  Publisher
	acked  *dedupe.Cache[readKey]
	now    func() time.Time
	logger *slog.Logger
}

// NewTracker creates a tracker. Pass nil logger for default. Call Close to
// release the cache's sweeper.
func NewTracker(s store.Store, rooms Publisher, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  s,
		rooms:  rooms,
		acked:  dedupe.New[readKey](cfg.CacheTTL, cfg.CacheSize),
		now:    time.Now,
		logger: logger.With("component", "receipts"),
	}
}

// Close stops the cache sweeper.
func (t *Tracker) Close() {
	t.acked.Close()
}

// MarkRead records that readerID has read messageID and broadcasts a
// message-read-receipt to the conversation room. Marking an already-read
// message returns it unchanged and broadcasts nothing.
func (t *Tracker) MarkRead(ctx context.Context, messageID, readerID string) (*store.Message, error) {
	msg, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, storeError("loading message "+messageID, err)
	}
	if err := t.authorize(ctx, msg.ConversationID, readerID); err != nil {
		return nil, err
	}
	if msg.IsReadBy(readerID) {
		return msg, nil
	}

	readAt, created, err := t.append(ctx, msg.ID, readerID)
	if err != nil {
		return nil, err
	}
	if !created {
		return msg, nil
	}

	msg.ReadBy[readerID] = readAt
	t.publish(msg.ConversationID, msg.ID, readerID, readAt)
	return msg, nil
}

// MarkAllRead marks every message in the conversation that readerID has not
// read. Each append is independent; the count covers only messages this
// call newly marked.
func (t *Tracker) MarkAllRead(ctx context.Context, conversationID, readerID string) (int, error) {
	if err := t.authorize(ctx, conversationID, readerID); err != nil {
		return 0, err
	}

	unread, err := t.store.ListUnreadMessageIDs(ctx, conversationID, readerID)
	if err != nil {
		return 0, chaterr.Store("listing unread messages", err)
	}

	count := 0
	for _, messageID := range unread {
		readAt, created, err := t.append(ctx, messageID, readerID)
		if errors.Is(err, chaterr.ErrNotFound) {
			// Deleted since the unread scan.
			continue
		}
		if err != nil {
			return count, err
		}
		if created {
			count++
			t.publish(conversationID, messageID, readerID, readAt)
		}
	}

	if count > 0 {
		t.logger.Debug("marked conversation read",
			"conversation_id", conversationID,
			"reader_id", readerID,
			"count", count)
	}
	return count, nil
}

// authorize checks that readerID is a current participant.
func (t *Tracker) authorize(ctx context.Context, conversationID, readerID string) error {
	conv, err := t.store.GetConversation(ctx, conversationID)
	if err != nil {
		return storeError("loading conversation "+conversationID, err)
	}
	if !conv.HasParticipant(readerID) {
		return chaterr.Accessf("%s is not a participant of %s", readerID, conversationID)
	}
	return nil
}

// append writes the read entry unless an acknowledgment for the same key
// is already recorded or in flight. A failed write is forgotten so the
// client can retry.
func (t *Tracker) append(ctx context.Context, messageID, readerID string) (time.Time, bool, error) {
	key := readKey{messageID: messageID, readerID: readerID}
	if t.acked.CheckAndMark(key) {
		return time.Time{}, false, nil
	}

	readAt := t.now()
	created, err := t.store.AppendReadReceipt(ctx, messageID, readerID, readAt)
	if err != nil {
		t.acked.Forget(key)
		return time.Time{}, false, storeError("recording read receipt", err)
	}
	return readAt, created, nil
}

func (t *Tracker) publish(conversationID, messageID, readerID string, readAt time.Time) {
	t.rooms.Broadcast(conversationID, realtime.MessageReadReceipt{
		MessageID: messageID,
		UserID:    readerID,
		ReadAt:    readAt,
	}, "")
}

func storeError(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return chaterr.NotFoundf("%s", op)
	}
	return chaterr.Store(op, err)
}

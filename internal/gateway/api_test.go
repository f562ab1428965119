// ABOUTME: Tests for the JSON HTTP API handlers
// ABOUTME: Exercises auth, conversation lifecycle, history paging, receipts, and presence lookups

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/conversation"
	"github.com/2389/chat-gateway/internal/realtime"
	"github.com/2389/chat-gateway/internal/store"
)

// apiError is the JSON body of every failed API request.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do sends an authenticated API request as userID and decodes a JSON
// response into out when out is non-nil.
func (e *testEnv) do(userID, method, path string, body, out any) int {
	e.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(e.t.Context(), method, e.server.URL+"/api"+path, reader)
	require.NoError(e.t, err)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(userID))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// seedMessages sends n messages from sender into convID.
func (e *testEnv) seedMessages(convID, sender string, n int) []*store.Message {
	e.t.Helper()
	msgs := make([]*store.Message, 0, n)
	for i := range n {
		msg, err := e.gw.conversation.SendMessage(e.t.Context(), conversation.SendRequest{
			ConversationID: convID,
			SenderID:       sender,
			Content:        fmt.Sprintf("message %d", i),
		})
		require.NoError(e.t, err)
		msgs = append(msgs, msg)
	}
	return msgs
}

func TestAPI_RequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	var body apiError
	status := env.do("", http.MethodGet, "/conversations", nil, &body)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "auth_error", body.Error)
}

func TestAPI_CreateDirectIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	var first realtime.ConversationView
	status := env.do("alice", http.MethodPost, "/conversations", CreateDirectRequest{UserID: "bob"}, &first)
	require.Equal(t, http.StatusCreated, status)
	assert.ElementsMatch(t, []string{"alice", "bob"}, first.Participants)
	assert.False(t, first.IsGroup)

	// Either side asking again gets the same conversation.
	var second realtime.ConversationView
	status = env.do("bob", http.MethodPost, "/conversations", CreateDirectRequest{UserID: "alice"}, &second)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first.ID, second.ID)
}

func TestAPI_CreateDirectValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing user", map[string]string{}},
		{"self", CreateDirectRequest{UserID: "alice"}},
		{"not json", "just a string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body apiError
			status := env.do("alice", http.MethodPost, "/conversations", tt.body, &body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "validation_error", body.Error)
		})
	}
}

func TestAPI_GroupLifecycle(t *testing.T) {
	env := newTestEnv(t)

	var group realtime.ConversationView
	status := env.do("alice", http.MethodPost, "/groups", CreateGroupRequest{
		Name:    "  Launch  ",
		Members: []string{"bob", "carol"},
	}, &group)
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, group.IsGroup)
	assert.Equal(t, "Launch", group.GroupName)
	assert.Equal(t, "alice", group.GroupAdmin)
	assert.ElementsMatch(t, []string{"alice", "bob", "carol"}, group.Participants)

	// Only the admin may add.
	var denied apiError
	status = env.do("bob", http.MethodPost, "/conversations/"+group.ID+"/participants", AddParticipantRequest{UserID: "dave"}, &denied)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "access_error", denied.Error)

	var added realtime.ConversationView
	status = env.do("alice", http.MethodPost, "/conversations/"+group.ID+"/participants", AddParticipantRequest{UserID: "dave"}, &added)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, added.Participants, "dave")

	// A member may remove themselves.
	var left realtime.ConversationView
	status = env.do("dave", http.MethodDelete, "/conversations/"+group.ID+"/participants/dave", nil, &left)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, left.Participants, "dave")

	// Non-admins cannot delete the group.
	status = env.do("bob", http.MethodDelete, "/conversations/"+group.ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = env.do("alice", http.MethodDelete, "/conversations/"+group.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status = env.do("alice", http.MethodGet, "/conversations/"+group.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_CreateGroupNeedsTwoOthers(t *testing.T) {
	env := newTestEnv(t)

	var body apiError
	status := env.do("alice", http.MethodPost, "/groups", CreateGroupRequest{
		Name:    "pair",
		Members: []string{"bob", "bob"},
	}, &body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation_error", body.Error)
}

func TestAPI_ListAndGetConversation(t *testing.T) {
	env := newTestEnv(t)
	ab := env.directConversation("alice", "bob")
	env.directConversation("alice", "carol")
	env.directConversation("bob", "carol")

	var list []realtime.ConversationView
	status := env.do("alice", http.MethodGet, "/conversations", nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, list, 2)

	var got realtime.ConversationView
	status = env.do("bob", http.MethodGet, "/conversations/"+ab.ID, nil, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, ab.ID, got.ID)

	status = env.do("carol", http.MethodGet, "/conversations/"+ab.ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestAPI_HistoryPaging(t *testing.T) {
	env := newTestEnv(t)
	conv := env.directConversation("alice", "bob")
	sent := env.seedMessages(conv.ID, "alice", 5)

	var page MessagePageResponse
	status := env.do("bob", http.MethodGet, "/conversations/"+conv.ID+"/messages?page=1&limit=2", nil, &page)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 3, page.Pages)
	require.Len(t, page.Messages, 2)
	// Newest page, oldest first within it.
	assert.Equal(t, sent[3].ID, page.Messages[0].ID)
	assert.Equal(t, sent[4].ID, page.Messages[1].ID)

	status = env.do("bob", http.MethodGet, "/conversations/"+conv.ID+"/messages?page=3&limit=2", nil, &page)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, sent[0].ID, page.Messages[0].ID)

	status = env.do("bob", http.MethodGet, "/conversations/"+conv.ID+"/messages?page=9&limit=2", nil, &page)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, page.Messages)
	assert.Equal(t, 5, page.Total)

	var defaults MessagePageResponse
	status = env.do("bob", http.MethodGet, "/conversations/"+conv.ID+"/messages", nil, &defaults)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, store.DefaultPage, defaults.Page)
	assert.Equal(t, store.DefaultPageLimit, defaults.Limit)
	assert.Len(t, defaults.Messages, 5)

	var large MessagePageResponse
	status = env.do("bob", http.MethodGet, "/conversations/"+conv.ID+"/messages?limit=1000", nil, &large)
	require.Equal(t, http.StatusOK, status, "any positive limit is accepted")
	assert.Equal(t, 1000, large.Limit)
	assert.Equal(t, 1, large.Pages)
	assert.Len(t, large.Messages, 5)
}

func TestAPI_HistoryRejectsBadPaging(t *testing.T) {
	env := newTestEnv(t)
	conv := env.directConversation("alice", "bob")

	for _, q := range []string{"?page=0", "?limit=-1", "?page=abc"} {
		var body apiError
		status := env.do("alice", http.MethodGet, "/conversations/"+conv.ID+"/messages"+q, nil, &body)
		assert.Equal(t, http.StatusBadRequest, status, q)
		assert.Equal(t, "validation_error", body.Error, q)
	}
}

func TestAPI_PostMessageBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	conv := env.directConversation("alice", "bob")
	bob := env.dial("bob")
	bob.send(realtime.EventJoinRoom, realtime.RoomRequest{RoomID: conv.ID})
	env.waitMembers(conv.ID, 1)

	var msg realtime.MessageView
	status := env.do("alice", http.MethodPost, "/conversations/"+conv.ID+"/messages", PostMessageRequest{
		Content:     "see attached",
		MessageType: store.MessageTypeFile,
		FileURL:     "https://files.example.com/report.pdf",
	}, &msg)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, store.MessageTypeFile, msg.Type)

	var got realtime.ReceiveMessage
	bob.expect(realtime.EventReceiveMessage, &got)
	assert.Equal(t, msg.ID, got.Message.ID)
	assert.Equal(t, "https://files.example.com/report.pdf", got.Message.FileURL)
}

func TestAPI_ReadReceiptsAndUnread(t *testing.T) {
	env := newTestEnv(t)
	conv := env.directConversation("alice", "bob")
	sent := env.seedMessages(conv.ID, "alice", 3)

	var unread CountResponse
	require.Equal(t, http.StatusOK, env.do("bob", http.MethodGet, "/unread", nil, &unread))
	assert.Equal(t, 3, unread.Count)

	var read realtime.MessageView
	status := env.do("bob", http.MethodPost, "/messages/"+sent[0].ID+"/read", nil, &read)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, read.ReadBy, 2)

	var marked CountResponse
	require.Equal(t, http.StatusOK, env.do("bob", http.MethodPost, "/conversations/"+conv.ID+"/read", nil, &marked))
	assert.Equal(t, 2, marked.Count)

	require.Equal(t, http.StatusOK, env.do("bob", http.MethodGet, "/unread", nil, &unread))
	assert.Zero(t, unread.Count)

	// Strangers cannot mark messages read.
	status = env.do("mallory", http.MethodPost, "/messages/"+sent[1].ID+"/read", nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = env.do("bob", http.MethodPost, "/messages/missing/read", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_DeleteMessage(t *testing.T) {
	env := newTestEnv(t)
	conv := env.directConversation("alice", "bob")
	sent := env.seedMessages(conv.ID, "alice", 2)

	status := env.do("bob", http.MethodDelete, "/messages/"+sent[1].ID, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	var updated realtime.ConversationView
	status = env.do("alice", http.MethodDelete, "/messages/"+sent[1].ID, nil, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, sent[0].ID, updated.LastMessageID)
}

func TestAPI_Presence(t *testing.T) {
	env := newTestEnv(t)
	env.dial("bob")
	carol := env.dial("carol")

	var online PresenceResponse
	require.Equal(t, http.StatusOK, env.do("alice", http.MethodGet, "/presence", nil, &online))
	assert.Equal(t, []string{"bob", "carol"}, online.Online)

	var bob UserPresenceResponse
	require.Equal(t, http.StatusOK, env.do("alice", http.MethodGet, "/users/bob", nil, &bob))
	assert.True(t, bob.Online)
	assert.Equal(t, store.UserStatusOnline, bob.Status)
	assert.Equal(t, 1, bob.Connections)
	assert.Nil(t, bob.LastSeen)

	carol.close()
	env.waitConnected("carol", 0)
	require.Eventually(t, func() bool { return !env.gw.presence.IsOnline("carol") }, eventTimeout, 5*time.Millisecond)

	var carolView UserPresenceResponse
	require.Equal(t, http.StatusOK, env.do("alice", http.MethodGet, "/users/carol", nil, &carolView))
	assert.False(t, carolView.Online)
	assert.Equal(t, store.UserStatusOffline, carolView.Status)
	require.NotNil(t, carolView.LastSeen)

	status := env.do("alice", http.MethodGet, "/users/nobody", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_UserPresenceFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, env.store.UpsertUser(t.Context(), &store.User{
		ID:       "dana",
		Username: "Dana",
		Status:   store.UserStatusOnline,
		LastSeen: seen,
	}))

	var dana UserPresenceResponse
	require.Equal(t, http.StatusOK, env.do("alice", http.MethodGet, "/users/dana", nil, &dana))
	assert.Equal(t, "Dana", dana.Username)
	assert.False(t, dana.Online)
	assert.Equal(t, store.UserStatusOffline, dana.Status)
	require.NotNil(t, dana.LastSeen)
	assert.True(t, seen.Equal(*dana.LastSeen))
}

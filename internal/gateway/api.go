// ABOUTME: JSON HTTP API for conversations, history, receipts, and presence
// ABOUTME: Thin handlers over the same services the websocket protocol uses

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/chaterr"
	"github.com/2389/chat-gateway/internal/conversation"
	"github.com/2389/chat-gateway/internal/realtime"
	"github.com/2389/chat-gateway/internal/store"
)

// maxRequestBody caps JSON request bodies.
const maxRequestBody = 1 << 20

var validate = validator.New()

// CreateDirectRequest is the JSON body for POST /api/conversations.
type CreateDirectRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// CreateGroupRequest is the JSON body for POST /api/groups.
type CreateGroupRequest struct {
	Name    string   `json:"name" validate:"required"`
	Members []string `json:"members" validate:"required,min=2,dive,required"`
}

// AddParticipantRequest is the JSON body for POST /api/conversations/{id}/participants.
type AddParticipantRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// PostMessageRequest is the JSON body for POST /api/conversations/{id}/messages.
type PostMessageRequest struct {
	Content     string            `json:"content" validate:"max=10000"`
	MessageType store.MessageType `json:"messageType,omitempty" validate:"omitempty,oneof=text file"`
	FileURL     string            `json:"fileUrl,omitempty" validate:"omitempty,url"`
}

// MessagePageResponse is the JSON response for history queries.
type MessagePageResponse struct {
	Messages []realtime.MessageView `json:"messages"`
	Page     int                    `json:"page"`
	Limit    int                    `json:"limit"`
	Total    int                    `json:"total"`
	Pages    int                    `json:"pages"`
}

// CountResponse wraps a single count.
type CountResponse struct {
	Count int `json:"count"`
}

// PresenceResponse is the JSON response for GET /api/presence.
type PresenceResponse struct {
	Online []string `json:"online"`
}

// UserPresenceResponse is the JSON response for GET /api/users/{id}.
type UserPresenceResponse struct {
	UserID      string           `json:"userId"`
	Username    string           `json:"username"`
	Status      store.UserStatus `json:"status"`
	Online      bool             `json:"online"`
	LastSeen    *time.Time       `json:"lastSeen,omitempty"`
	Connections int              `json:"connections"`
}

// registerAPIRoutes mounts the API on r. Every route runs behind the auth
// middleware.
func (g *Gateway) registerAPIRoutes(r chi.Router) {
	r.Post("/conversations", g.handleCreateDirect)
	r.Get("/conversations", g.handleListConversations)
	r.Post("/groups", g.handleCreateGroup)

	r.Route("/conversations/{id}", func(r chi.Router) {
		r.Get("/", g.handleGetConversation)
		r.Delete("/", g.handleDeleteConversation)
		r.Post("/participants", g.handleAddParticipant)
		r.Delete("/participants/{userID}", g.handleRemoveParticipant)
		r.Get("/messages", g.handleHistory)
		r.Post("/messages", g.handlePostMessage)
		r.Post("/read", g.handleMarkConversationRead)
	})

	r.Delete("/messages/{id}", g.handleDeleteMessage)
	r.Post("/messages/{id}/read", g.handleMarkMessageRead)

	r.Get("/unread", g.handleUnread)
	r.Get("/presence", g.handlePresence)
	r.Get("/users/{id}", g.handleUserPresence)
}

// handleCreateDirect handles POST /api/conversations. Returns 201 when the
// conversation is new and 200 when it already existed.
func (g *Gateway) handleCreateDirect(w http.ResponseWriter, r *http.Request) {
	var req CreateDirectRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	id := auth.MustFromContext(r.Context())
	conv, created, err := g.conversation.CreateOrGetDirect(r.Context(), id.UserID, req.UserID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	g.sendJSON(w, status, realtime.NewConversationView(conv))
}

// handleCreateGroup handles POST /api/groups.
func (g *Gateway) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	id := auth.MustFromContext(r.Context())
	conv, err := g.conversation.CreateGroup(r.Context(), id.UserID, req.Name, req.Members)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, realtime.NewConversationView(conv))
}

// handleListConversations handles GET /api/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	convs, err := g.conversation.ListForUser(r.Context(), id.UserID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, lo.Map(convs, func(c *store.Conversation, _ int) realtime.ConversationView {
		return realtime.NewConversationView(c)
	}))
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	conv, err := g.conversation.Get(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, realtime.NewConversationView(conv))
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	if err := g.conversation.Delete(r.Context(), id.UserID, chi.URLParam(r, "id")); err != nil {
		g.sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddParticipant handles POST /api/conversations/{id}/participants.
func (g *Gateway) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req AddParticipantRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	id := auth.MustFromContext(r.Context())
	conv, err := g.conversation.AddParticipant(r.Context(), id.UserID, chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, realtime.NewConversationView(conv))
}

// handleRemoveParticipant handles DELETE /api/conversations/{id}/participants/{userID}.
// Returns 204 when the removal emptied and deleted the group.
func (g *Gateway) handleRemoveParticipant(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	conv, err := g.conversation.RemoveParticipant(r.Context(), id.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "userID"))
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	if conv == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	g.sendJSON(w, http.StatusOK, realtime.NewConversationView(conv))
}

// handleHistory handles GET /api/conversations/{id}/messages?page=N&limit=M.
func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", store.DefaultPage)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", store.DefaultPageLimit)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	id := auth.MustFromContext(r.Context())
	result, err := g.conversation.History(r.Context(), id.UserID, chi.URLParam(r, "id"), page, limit)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}

	g.sendJSON(w, http.StatusOK, MessagePageResponse{
		Messages: lo.Map(result.Messages, func(m *store.Message, _ int) realtime.MessageView {
			return realtime.NewMessageView(m)
		}),
		Page:  result.Page,
		Limit: result.Limit,
		Total: result.Total,
		Pages: result.Pages,
	})
}

// handlePostMessage handles POST /api/conversations/{id}/messages. The
// message is broadcast exactly as if it were sent over the websocket.
func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !g.decodeJSON(w, r, &req) {
		return
	}

	id := auth.MustFromContext(r.Context())
	msg, err := g.conversation.SendMessage(r.Context(), conversation.SendRequest{
		ConversationID: chi.URLParam(r, "id"),
		SenderID:       id.UserID,
		Content:        req.Content,
		Type:           req.MessageType,
		FileURL:        req.FileURL,
	})
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, realtime.NewMessageView(msg))
}

// handleMarkConversationRead handles POST /api/conversations/{id}/read.
func (g *Gateway) handleMarkConversationRead(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	n, err := g.receipts.MarkAllRead(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, CountResponse{Count: n})
}

// handleDeleteMessage handles DELETE /api/messages/{id}.
func (g *Gateway) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	conv, err := g.conversation.DeleteMessage(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, realtime.NewConversationView(conv))
}

// handleMarkMessageRead handles POST /api/messages/{id}/read.
func (g *Gateway) handleMarkMessageRead(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	msg, err := g.receipts.MarkRead(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, realtime.NewMessageView(msg))
}

// handleUnread handles GET /api/unread.
func (g *Gateway) handleUnread(w http.ResponseWriter, r *http.Request) {
	id := auth.MustFromContext(r.Context())
	n, err := g.conversation.UnreadCount(r.Context(), id.UserID)
	if err != nil {
		g.sendServiceError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, CountResponse{Count: n})
}

// handlePresence handles GET /api/presence.
func (g *Gateway) handlePresence(w http.ResponseWriter, r *http.Request) {
	g.sendJSON(w, http.StatusOK, PresenceResponse{Online: g.presence.Snapshot()})
}

// handleUserPresence handles GET /api/users/{id}. The live registry wins;
// the store's mirror answers for users not seen since the process started.
func (g *Gateway) handleUserPresence(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	if entry, ok := g.presence.Get(userID); ok {
		resp := UserPresenceResponse{
			UserID:      entry.UserID,
			Username:    entry.Username,
			Status:      entry.Status,
			Online:      entry.Connections > 0,
			Connections: entry.Connections,
		}
		if !resp.Online {
			resp.LastSeen = lo.ToPtr(entry.LastSeen)
		}
		g.sendJSON(w, http.StatusOK, resp)
		return
	}

	user, err := g.store.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendServiceError(w, chaterr.NotFoundf("user %s", userID))
		return
	}
	if err != nil {
		g.sendServiceError(w, chaterr.Store("loading user", err))
		return
	}

	resp := UserPresenceResponse{
		UserID:   user.ID,
		Username: user.Username,
		// Not connected to this process, whatever the mirror last recorded.
		Status: store.UserStatusOffline,
	}
	if !user.LastSeen.IsZero() {
		resp.LastSeen = lo.ToPtr(user.LastSeen)
	}
	g.sendJSON(w, http.StatusOK, resp)
}

// decodeJSON reads and validates a request body into dst. On failure it
// writes a 400 and returns false.
func (g *Gateway) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, chaterr.KindValidation, "failed to read body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, chaterr.KindValidation, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, chaterr.KindValidation, err.Error())
		return false
	}
	return true
}

// queryInt parses a positive-or-absent integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, chaterr.Validationf("%s must be an integer", name)
	}
	return n, nil
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, kind chaterr.Kind, message string) {
	g.sendJSON(w, status, map[string]string{"error": string(kind), "message": message})
}

// sendServiceError classifies err and writes it. Store failures are logged
// and reported without their cause.
func (g *Gateway) sendServiceError(w http.ResponseWriter, err error) {
	ev := realtime.NewErrorEvent("", err)
	if ev.Kind == chaterr.KindStore {
		g.logger.Error("request failed", "error", err)
	}
	g.sendJSONError(w, chaterr.HTTPStatus(err), ev.Kind, ev.Message)
}

// ABOUTME: Tests for HTTP authentication middleware and credential extraction
// ABOUTME: Covers header and query tokens, rejection paths, and context propagation

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/chaterr"
)

func TestRequestToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		query   string
		want    string
		wantErr bool
	}{
		{name: "bearer header", header: "Bearer abc", want: "abc"},
		{name: "query param", query: "token=xyz", want: "xyz"},
		{name: "header wins over query", header: "Bearer abc", query: "token=xyz", want: "abc"},
		{name: "wrong scheme", header: "Basic abc", wantErr: true},
		{name: "empty bearer", header: "Bearer ", wantErr: true},
		{name: "nothing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			got, err := RequestToken(req)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, chaterr.ErrAuth)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	token, err := verifier.Generate("user-123", "alice", time.Hour)
	require.NoError(t, err)

	var got *Identity
	handler := HTTPAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "user-123", got.UserID)
	assert.Equal(t, "alice", got.Username)
}

func TestHTTPAuthMiddleware_Rejects(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)
	expired, err := verifier.Generate("user-123", "alice", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"invalid token", "Bearer garbage"},
		{"expired token", "Bearer " + expired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := HTTPAuthMiddleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called, "handler must not run")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, "auth_error", body["error"])
		})
	}
}

func TestContext_RoundTrip(t *testing.T) {
	ctx := t.Context()
	assert.Nil(t, FromContext(ctx))
	assert.Panics(t, func() { MustFromContext(ctx) })

	id := &Identity{UserID: "u1", Username: "bob"}
	ctx = WithIdentity(ctx, id)
	assert.Same(t, id, FromContext(ctx))
	assert.Same(t, id, MustFromContext(ctx))
}

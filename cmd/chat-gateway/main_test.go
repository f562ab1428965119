// ABOUTME: Tests for CLI helpers: config paths, generated config, token issuing, logging, and the online table
// ABOUTME: Commands run against temp dirs and httptest servers, never a real install

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chat-gateway/internal/auth"
	"github.com/2389/chat-gateway/internal/config"
	"github.com/2389/chat-gateway/internal/gateway"
	"github.com/2389/chat-gateway/internal/store"
)

func TestGetConfigPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("CHAT_CONFIG", "/etc/chat/custom.yaml")
		assert.Equal(t, "/etc/chat/custom.yaml", getConfigPath())
	})

	t.Run("xdg", func(t *testing.T) {
		t.Setenv("CHAT_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg")
		assert.Equal(t, filepath.Join("/xdg", "chat", "gateway.yaml"), getConfigPath())
	})
}

// writeGeneratedConfig renders a config like init does and points
// CHAT_CONFIG at it.
func writeGeneratedConfig(t *testing.T) (string, string) {
	t.Helper()

	secret, err := generateSecret()
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	content := renderConfig(initAnswers{
		HTTPAddr:  "127.0.0.1:8080",
		WSPath:    "/ws",
		DBPath:    filepath.Join(dir, "chat.db"),
		JWTSecret: secret,
		LogLevel:  "debug",
		LogFormat: "json",
	})
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	t.Setenv("CHAT_CONFIG", path)
	return path, secret
}

func TestRenderConfig_Loads(t *testing.T) {
	path, secret := writeGeneratedConfig(t)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, secret, cfg.Auth.JWTSecret)
	assert.Equal(t, config.DefaultPongWait, cfg.Realtime.PongWait)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestRunToken(t *testing.T) {
	path, secret := writeGeneratedConfig(t)

	require.NoError(t, runToken([]string{"--user", "alice", "--name", "Alice", "--save"}))

	saved, err := os.ReadFile(tokenPath(path))
	require.NoError(t, err)

	id, err := auth.NewJWTVerifier([]byte(secret)).Verify(string(saved))
	require.NoError(t, err)
	assert.Equal(t, "alice", id.UserID)
	assert.Equal(t, "Alice", id.Username)

	t.Setenv("CHAT_TOKEN", "")
	loaded, err := loadToken(path)
	require.NoError(t, err)
	assert.Equal(t, string(saved), loaded)
}

func TestRunToken_Errors(t *testing.T) {
	writeGeneratedConfig(t)

	assert.ErrorContains(t, runToken(nil), "--user is required")
	assert.ErrorContains(t, runToken([]string{"--user", "a", "--ttl", "-1h"}), "--ttl must be positive")
	assert.Error(t, runToken([]string{"--bogus"}))
}

func TestLoadToken_PrefersEnv(t *testing.T) {
	t.Setenv("CHAT_TOKEN", "from-env")
	tok, err := loadToken(filepath.Join(t.TempDir(), "gateway.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok)
}

func TestLoadToken_Missing(t *testing.T) {
	t.Setenv("CHAT_TOKEN", "")
	_, err := loadToken(filepath.Join(t.TempDir(), "gateway.yaml"))
	assert.ErrorContains(t, err, "no token")
}

func TestNewLogger(t *testing.T) {
	t.Run("json respects level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

		logger.Info("hidden")
		logger.Warn("shown", "user_id", "alice")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "shown", rec["msg"])
		assert.Equal(t, "alice", rec["user_id"])
	})

	t.Run("text includes inherited attrs", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

		logger.With("component", "presence").Debug("registered connection", "conn_id", "c1")

		out := buf.String()
		assert.Contains(t, out, "registered connection")
		assert.Contains(t, out, "presence")
		assert.Contains(t, out, "c1")
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}

func TestFetchAndRenderOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "auth_error", "message": "bad token"})
			return
		}
		switch r.URL.Path {
		case "/api/presence":
			_ = json.NewEncoder(w).Encode(gateway.PresenceResponse{Online: []string{"alice", "bob"}})
		case "/api/users/alice":
			_ = json.NewEncoder(w).Encode(gateway.UserPresenceResponse{
				UserID: "alice", Username: "Alice", Status: store.UserStatusOnline, Online: true, Connections: 2,
			})
		case "/api/users/bob":
			_ = json.NewEncoder(w).Encode(gateway.UserPresenceResponse{
				UserID: "bob", Username: "Bob", Status: store.UserStatusAway, Online: true, Connections: 1,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := &apiClient{baseURL: srv.URL, token: "tok", http: srv.Client()}
	users, err := fetchOnline(context.Background(), client)
	require.NoError(t, err)
	require.Len(t, users, 2)

	var buf bytes.Buffer
	renderOnline(&buf, users)
	out := buf.String()
	assert.Contains(t, out, "USER")
	assert.Contains(t, out, "Alice")
	assert.Contains(t, out, "away")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3)

	bad := &apiClient{baseURL: srv.URL, token: "nope", http: srv.Client()}
	_, err = fetchOnline(context.Background(), bad)
	assert.ErrorContains(t, err, "bad token")
}

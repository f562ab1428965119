// Package auth verifies caller identity for chat-gateway.
//
// # Tokens
//
// Clients authenticate with HS256 JWTs signed with the configured
// jwt_secret. The "sub" claim carries the user id and the optional
// "username" claim the display name:
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	token, err := verifier.Generate("user-123", "alice", 24*time.Hour)
//	id, err := verifier.Verify(token)
//
// Issuing tokens to end users is the job of an external identity service;
// Generate exists for tooling and tests.
//
// # Presenting Credentials
//
// HTTP API calls send "Authorization: Bearer <token>". Websocket handshakes
// may send the same header or, for browsers, a "token" query parameter.
// RequestToken and Authenticate implement both paths and wrap every failure
// in chaterr.ErrAuth.
//
// # Context
//
// HTTPAuthMiddleware attaches the verified Identity to the request context;
// handlers read it back with FromContext or MustFromContext.
package auth

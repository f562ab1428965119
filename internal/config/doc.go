// Package config handles configuration loading for chat-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chat-gateway/config.yaml
//  3. ~/.config/chat-gateway/config.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  ws_path: "/ws"
//	  allowed_origins: ["https://chat.example.com"]
//
//	database:
//	  path: "/var/lib/chat-gateway/chat.db"
//
//	auth:
//	  jwt_secret: "${CHAT_JWT_SECRET}"   # at least 32 bytes
//
//	realtime:
//	  send_buffer: 256
//	  max_message_size: 8192
//	  write_wait: "10s"
//	  pong_wait: "60s"
//	  receipt_cache_ttl: "5m"
//	  receipt_cache_size: 100000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config

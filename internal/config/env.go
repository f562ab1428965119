// ABOUTME: CHAT_* environment overrides applied on top of the loaded config file
// ABOUTME: Lets deployments set secrets and addresses without editing the file

package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every override variable, e.g. CHAT_DB_PATH.
const EnvPrefix = "chat"

// envOverrides lists the settings that may come from the environment.
// Unset variables leave the file's value alone.
type envOverrides struct {
	HTTPAddr  string `split_words:"true"`
	DBPath    string `split_words:"true"`
	JWTSecret string `split_words:"true"`
	LogLevel  string `split_words:"true"`
	LogFormat string `split_words:"true"`
}

// applyEnv overlays CHAT_HTTP_ADDR, CHAT_DB_PATH, CHAT_JWT_SECRET,
// CHAT_LOG_LEVEL and CHAT_LOG_FORMAT onto cfg.
func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}

	overlay(&cfg.Server.HTTPAddr, o.HTTPAddr)
	overlay(&cfg.Database.Path, o.DBPath)
	overlay(&cfg.Auth.JWTSecret, o.JWTSecret)
	overlay(&cfg.Logging.Level, o.LogLevel)
	overlay(&cfg.Logging.Format, o.LogFormat)
	return nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

package config

import (
	"strings"
)

const (
	EnvTelegramToken  = "SLOTBOT_TELEGRAM_TOKEN"
	EnvUpstreamTokens = "SLOTBOT_UPSTREAM_TOKENS"
)

// ApplyEnv overrides secrets from the environment when the variables are set.
// SLOTBOT_UPSTREAM_TOKENS is comma separated.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvUpstreamTokens)); v != "" {
		var toks []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				toks = append(toks, t)
			}
		}
		if len(toks) > 0 {
			cfg.Upstream.Credentials = toks
		}
	}
}

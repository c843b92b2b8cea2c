package app

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"slotbot/internal/transport"
)

// Option overrides a dependency New would otherwise build from config.
type Option func(*options)

type options struct {
	sender     transport.Sender
	httpClient *http.Client
	getenv     func(string) string
}

// WithSender replaces the Telegram adapter (tests, dry runs).
func WithSender(s transport.Sender) Option { return func(o *options) { o.sender = s } }

// WithUpstreamHTTPClient replaces the HTTP client used for the supplies API.
func WithUpstreamHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithEnv replaces the environment lookup used for secret overrides.
func WithEnv(getenv func(string) string) Option { return func(o *options) { o.getenv = getenv } }

func defaultOptions() options {
	return options{getenv: os.Getenv}
}

// parseGroupLog parses "chat_id" or "chat_id:thread_id".
func parseGroupLog(raw string) (chatID int64, threadID int, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, false
	}
	chatPart, threadPart, hasThread := strings.Cut(raw, ":")
	id, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil || id == 0 {
		return 0, 0, false
	}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil || tid < 0 {
			return 0, 0, false
		}
		threadID = tid
	}
	return id, threadID, true
}

func ownerTargets(ids []int64) []transport.ChatTarget {
	out := make([]transport.ChatTarget, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, transport.ChatTarget{ChatID: id})
	}
	return out
}

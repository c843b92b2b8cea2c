package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"slotbot/internal/transport"
)

const (
	chatMessageLimit = 3500
	chatSendTimeout  = 10 * time.Second
	// repeatWindow collapses identical lines (same level, component and message).
	repeatWindow = time.Minute
)

// redactedKeys are field names whose values never reach the chat.
var redactedKeys = []string{"token", "secret", "password", "authorization"}

// chatSink is a zerolog.LevelWriter that forwards lines to an operator chat.
// Writes never block: lines are queued and dropped when the queue is full.
type chatSink struct {
	sender transport.Sender
	window time.Duration
	recent *cache.Cache // fingerprint -> *repeats

	mu       sync.Mutex
	target   transport.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue     chan chatItem
	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type chatItem struct {
	to  transport.ChatTarget
	msg string
}

type repeats struct {
	head string
	n    atomic.Int64
}

func newChatSink(sender transport.Sender, window time.Duration) *chatSink {
	c := &chatSink{
		sender:   sender,
		window:   window,
		recent:   cache.New(window, 0),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
		queue:    make(chan chatItem, 256),
	}
	c.recent.OnEvicted(c.flushRepeats)
	return c
}

func (c *chatSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.ThreadID != 0 {
		c.target.ThreadID = cfg.ThreadID
	}
}

func (c *chatSink) setTarget(chatID int64, threadID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target.ChatID = chatID
	if threadID != 0 {
		c.target.ThreadID = threadID
	}
}

func (c *chatSink) hasTarget() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target.ChatID != 0
}

func (c *chatSink) start() {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.done = make(chan struct{})
		c.mu.Unlock()
		go c.run(ctx, c.done)
	})
}

func (c *chatSink) stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *chatSink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-c.queue:
			sctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
			_, _ = c.sender.SendText(sctx, it.to, it.msg, &transport.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (c *chatSink) Write(p []byte) (int, error) {
	return c.WriteLevel(zerolog.InfoLevel, p)
}

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	to, minLevel, lim := c.target, c.minLevel, c.limiter
	c.mu.Unlock()
	if to.ChatID == 0 || level < minLevel {
		return len(p), nil
	}

	line := parseChatLine(p)
	c.recent.DeleteExpired() // flushes repeat summaries of closed windows
	r := &repeats{head: line.head()}
	if err := c.recent.Add(line.fingerprint(), r, cache.DefaultExpiration); err != nil {
		if v, ok := c.recent.Get(line.fingerprint()); ok {
			v.(*repeats).n.Add(1)
		}
		return len(p), nil
	}
	if lim.Allow() {
		c.enqueue(to, line.render())
	}
	return len(p), nil
}

func (c *chatSink) flushRepeats(_ string, v any) {
	r, ok := v.(*repeats)
	if !ok || r.n.Load() == 0 {
		return
	}
	c.mu.Lock()
	to := c.target
	c.mu.Unlock()
	if to.ChatID == 0 {
		return
	}
	c.enqueue(to, fmt.Sprintf("%s (repeated %d more times in %s)", r.head, r.n.Load(), c.window))
}

func (c *chatSink) enqueue(to transport.ChatTarget, msg string) {
	select {
	case c.queue <- chatItem{to: to, msg: msg}:
	default:
	}
}

// chatLine is one decoded zerolog JSON line.
type chatLine struct {
	level string
	msg   string
	comp  string
	attrs []string // sorted "key=value"
	stack string
	raw   string // set when the line is not JSON
}

func parseChatLine(p []byte) chatLine {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(p), &m); err != nil {
		return chatLine{raw: strings.TrimSpace(string(p))}
	}
	l := chatLine{}
	l.level, _ = m["level"].(string)
	l.msg, _ = m["message"].(string)
	l.comp, _ = m["comp"].(string)
	l.stack, _ = m["stack"].(string)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "comp", "stack":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if redacted(k) {
			v = "***"
		}
		l.attrs = append(l.attrs, k+"="+truncate(v, 600))
	}
	return l
}

func redacted(key string) bool {
	k := strings.ToLower(key)
	for _, r := range redactedKeys {
		if strings.Contains(k, r) {
			return true
		}
	}
	return false
}

func (l chatLine) fingerprint() string {
	if l.raw != "" {
		return l.raw
	}
	return l.level + "|" + l.comp + "|" + l.msg
}

// head renders "[LEVEL] comp: message".
func (l chatLine) head() string {
	if l.raw != "" {
		return truncate(l.raw, 200)
	}
	var b strings.Builder
	if l.level != "" {
		b.WriteString("[" + strings.ToUpper(l.level) + "] ")
	}
	if l.comp != "" {
		b.WriteString(l.comp + ": ")
	}
	b.WriteString(l.msg)
	return b.String()
}

func (l chatLine) render() string {
	if l.raw != "" {
		return truncate(l.raw, chatMessageLimit)
	}
	var b strings.Builder
	b.WriteString(l.head())
	for _, a := range l.attrs {
		b.WriteString("\n- " + a)
	}
	if l.stack != "" {
		b.WriteString("\n- stack=\n" + truncate(l.stack, 900))
	}
	return truncate(b.String(), chatMessageLimit)
}

func truncate(s string, n int) string {
	switch {
	case n <= 0 || len(s) <= n:
		return s
	case n < 10:
		return s[:n]
	}
	return s[:n-3] + "..."
}

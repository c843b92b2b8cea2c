package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"slotbot/internal/transport"
)

const defaultLogPath = "./slotbot.log"

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Service owns the process log outputs and swaps them on Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File
	chat *chatSink // nil without a sender

	root atomic.Pointer[zerolog.Logger]
}

// New creates the logging service, applies cfg and returns the root Logger.
// sender may be nil when the chat sink is never enabled.
func New(cfg Config, sender transport.Sender) (*Service, Logger) {
	s := &Service{}
	if sender != nil {
		s.chat = newChatSink(sender, repeatWindow)
	}
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetChatTarget sets the operator chat that receives forwarded warnings.
// chatID 0 disables forwarding.
func (s *Service) SetChatTarget(chatID int64, threadID int) {
	if s.chat != nil {
		s.chat.setTarget(chatID, threadID)
	}
}

// Apply swaps outputs and levels at runtime. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, consoleWriter(stdout))
	}

	// The old file stays open until the new root is published.
	old := s.file
	s.file = nil
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(stderr, "logx: %v\n", err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}

	if s.chat != nil {
		s.chat.configure(cfg.Telegram)
		if cfg.Telegram.Enabled {
			s.chat.start()
			writers = append(writers, s.chat)
			if !s.chat.hasTarget() {
				fmt.Fprintln(stderr, "logx: telegram logging enabled but telegram.group_log is not set")
			}
		}
	}

	if len(writers) == 0 {
		writers = append(writers, consoleWriter(stdout))
	}
	zl := newRoot(zerolog.MultiLevelWriter(writers...), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&zl)
	if old != nil {
		_ = old.Close()
	}
}

// Close stops the chat sink and closes the log file. Loggers keep working on
// the remaining outputs.
func (s *Service) Close() error {
	if s.chat != nil {
		s.chat.stop()
	}
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir for %q: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return f, nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}

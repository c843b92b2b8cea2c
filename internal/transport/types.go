package transport

import (
	"context"
	"errors"
	"time"
)

// ErrRecipientGone marks sends that can never succeed for this chat
// (bot blocked, chat deleted, user deactivated). Callers should not retry.
var ErrRecipientGone = errors.New("recipient unavailable")

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// LinkButton is an inline button that opens URL.
type LinkButton struct {
	Text string
	URL  string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Buttons are attached to the first message chunk, one per row.
	Buttons []LinkButton
}

// RetryAfterError is returned when the messaging platform asks the caller to slow down.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return "retry after " + e.After.String() + ": " + e.Err.Error()
}
func (e *RetryAfterError) Unwrap() error { return e.Err }

// Sender delivers text messages to a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

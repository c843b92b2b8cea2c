package notifier

import (
	"errors"
	"time"
)

var (
	// ErrDelivery wraps every failed dispatch.
	ErrDelivery = errors.New("delivery failed")
	// ErrBlocked marks recipients that can no longer be reached.
	ErrBlocked = errors.New("recipient unreachable")
)

const (
	DefaultBookingURL  = "https://seller.wildberries.ru/supplies-management/all-supplies"
	DefaultBookingText = "🚀 Перейти к бронированию"
)

// Config controls pacing and retries of outgoing alerts.
type Config struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	BookingURL    string
	BookingText   string
}

// Result describes one dispatch.
type Result struct {
	SubscriptionID string
	SubscriberID   int64
	Sent           bool
	// Deactivated is set when a one-shot subscription was retired after sending.
	Deactivated bool
	Attempts    int
	Err         error
}

// DispatchEvent is published on the event bus for dispatch outcomes.
type DispatchEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	SubscriberID   int64     `json:"subscriber_id"`
	LocationID     int64     `json:"location_id"`
	Category       int       `json:"category"`
	Coefficient    float64   `json:"coefficient"`
	Date           time.Time `json:"date"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
}

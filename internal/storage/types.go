package storage

import (
	"context"
	"errors"
	"time"

	"slotbot/internal/slot"
)

var (
	// ErrUnavailable marks failures of the backing store itself.
	ErrUnavailable = errors.New("store unavailable")
	// ErrMalformed marks a persisted record that no longer validates.
	ErrMalformed = errors.New("malformed record")
	ErrNotFound  = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc, pure Go)
//   - "memory": process-local maps, dedup markers in a TTL cache
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// DedupCleanup is the memory driver's expired-marker sweep interval.
	DedupCleanup time.Duration
}

// Subscriptions is the part of the store the polling engine reads and mutates.
type Subscriptions interface {
	ListActive(ctx context.Context) ([]slot.Subscription, error)
	Deactivate(ctx context.Context, id string) error
}

// Locations resolves location ids to display names.
type Locations interface {
	LocationName(ctx context.Context, id int64) (name string, ok bool, err error)
}

// Dedup stores suppression markers keyed by digest.
type Dedup interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Store is the full persistence API.
type Store interface {
	Subscriptions
	Locations
	Dedup

	// CreateSubscription validates p, assigns an id when p.ID is empty and persists it as active.
	CreateSubscription(ctx context.Context, p slot.Params) (slot.Subscription, error)
	// PutLocations upserts location names.
	PutLocations(ctx context.Context, names map[int64]string) error
	// ExpireWindows deactivates active subscriptions whose window closed before now.
	ExpireWindows(ctx context.Context, now time.Time) (int, error)
	Close() error
}

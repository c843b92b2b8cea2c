// Package dedup decides whether a subscriber was already told about an offer.
//
// Markers are keyed by a SHA-256 digest of the subscriber and the offer's
// identifying fields and expire after a TTL, so a slot that disappears and
// comes back later is reported again.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync/atomic"
	"time"

	"slotbot/internal/slot"
	"slotbot/internal/storage"
	logx "slotbot/pkg/logx"
)

const (
	DefaultTTL = 24 * time.Hour
	// FulfilledTTL bounds how long a one-shot fulfilment marker outlives a
	// store that keeps refusing to deactivate the subscription.
	FulfilledTTL = 30 * 24 * time.Hour
)

// Gate is safe for concurrent use.
type Gate struct {
	store storage.Dedup
	ttl   atomic.Int64
	log   logx.Logger
	now   func() time.Time
}

func New(store storage.Dedup, ttl time.Duration, log logx.Logger) *Gate {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gate{store: store, log: log, now: time.Now}
	g.SetTTL(ttl)
	return g
}

// SetTTL changes the retention of markers written from now on.
func (g *Gate) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	g.ttl.Store(int64(ttl))
}

func (g *Gate) TTL() time.Duration { return time.Duration(g.ttl.Load()) }

// Digest is the marker key for (subscriber, offer).
func Digest(subscriberID int64, o slot.Offer) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(subscriberID, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatInt(o.LocationID, 10)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.Itoa(int(o.Category))))
	h.Write([]byte{'|'})
	h.Write([]byte(o.Date.UTC().Format(time.RFC3339)))
	h.Write([]byte{'|'})
	h.Write([]byte(strconv.FormatFloat(o.Coefficient, 'f', -1, 64)))
	return hex.EncodeToString(h.Sum(nil))
}

// ShouldSend is false only when an unexpired marker exists.
// Store failures are logged and treated as "not sent".
func (g *Gate) ShouldSend(ctx context.Context, subscriberID int64, o slot.Offer) bool {
	key := Digest(subscriberID, o)
	until, ok, err := g.store.GetDedup(ctx, key)
	if err != nil {
		recordCheck("error")
		g.log.Warn("dedup lookup failed, sending anyway",
			logx.Int64("subscriber_id", subscriberID),
			logx.Int64("location_id", o.LocationID),
			logx.Err(err),
		)
		return true
	}
	if ok && g.now().Before(until) {
		recordCheck("suppressed")
		return false
	}
	recordCheck("send")
	return true
}

// MarkSent stores the marker until now+TTL.
func (g *Gate) MarkSent(ctx context.Context, subscriberID int64, o slot.Offer) error {
	return g.store.PutDedup(ctx, Digest(subscriberID, o), g.now().Add(g.TTL()))
}

func fulfilledKey(subscriptionID string) string { return "oneshot:" + subscriptionID }

// MarkFulfilled records that a one-shot subscription already got its alert.
// It backs up Deactivate when the subscription store refuses the update.
func (g *Gate) MarkFulfilled(ctx context.Context, subscriptionID string) error {
	return g.store.PutDedup(ctx, fulfilledKey(subscriptionID), g.now().Add(FulfilledTTL))
}

// Fulfilled reports whether MarkFulfilled was called for subscriptionID.
// Store failures count as "not fulfilled".
func (g *Gate) Fulfilled(ctx context.Context, subscriptionID string) bool {
	until, ok, err := g.store.GetDedup(ctx, fulfilledKey(subscriptionID))
	if err != nil {
		g.log.Warn("fulfilment lookup failed", logx.String("subscription_id", subscriptionID), logx.Err(err))
		return false
	}
	return ok && g.now().Before(until)
}

package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"slotbot/internal/eventbus"
	"slotbot/internal/slot"
	"slotbot/internal/storage"
	"slotbot/internal/transport"
	logx "slotbot/pkg/logx"
)

// Marker records successful deliveries for deduplication.
type Marker interface {
	MarkSent(ctx context.Context, subscriberID int64, o slot.Offer) error
	// MarkFulfilled is the fallback when a one-shot subscription cannot be deactivated.
	MarkFulfilled(ctx context.Context, subscriptionID string) error
}

// Store is the subset of storage the dispatcher needs.
type Store interface {
	storage.Subscriptions
	storage.Locations
}

// Dispatcher is safe for concurrent use by group workers.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender transport.Sender
	marker Marker
	store  Store
	bus    eventbus.Bus
	log    logx.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, sender transport.Sender, marker Marker, store Store, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		sender: sender,
		marker: marker,
		store:  store,
		bus:    bus,
		log:    log,
		sleep:  sleepCtx,
	}
	d.applyLocked(cfg)
	return d
}

func (d *Dispatcher) Apply(cfg Config) {
	d.mu.Lock()
	d.applyLocked(cfg)
	d.mu.Unlock()
}

func (d *Dispatcher) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.BookingURL == "" {
		cfg.BookingURL = DefaultBookingURL
	}
	if cfg.BookingText == "" {
		cfg.BookingText = DefaultBookingText
	}
	d.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (d *Dispatcher) snapshot() (Config, *rate.Limiter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg, d.limiter
}

// Dispatch delivers one alert for (sub, offer).
//
// On success the dedup marker is written first, then a one-shot subscription
// is deactivated. Deactivation is tried twice; if both fail a fulfilment
// marker is stored instead so later cycles skip the subscription. Marker and
// deactivation failures are logged; the alert still counts as sent.
func (d *Dispatcher) Dispatch(ctx context.Context, sub slot.Subscription, o slot.Offer) Result {
	cfg, _ := d.snapshot()
	res := Result{SubscriptionID: sub.ID, SubscriberID: sub.SubscriberID}
	log := d.log.With(
		logx.String("subscription_id", sub.ID),
		logx.Int64("subscriber_id", sub.SubscriberID),
		logx.Int64("location_id", o.LocationID),
	)

	text := RenderAlert(o, locationName(ctx, d.store, o))
	opts := &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		Buttons:        []transport.LinkButton{{Text: cfg.BookingText, URL: cfg.BookingURL}},
	}

	start := time.Now()
	attempts, err := d.sendWithRetry(ctx, transport.ChatTarget{ChatID: sub.SubscriberID}, text, opts)
	res.Attempts = attempts
	if err != nil {
		status := "failed"
		if errors.Is(err, transport.ErrRecipientGone) {
			status = "blocked"
			res.Err = fmt.Errorf("%w: %w: %w", ErrDelivery, ErrBlocked, err)
		} else {
			res.Err = fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		recordDispatch(status, time.Since(start))
		log.Warn("alert not delivered", logx.Int("attempts", attempts), logx.Err(err))
		eventbus.Emit(d.bus, eventbus.TypeDeliveryFailed, dispatchEvent(sub, o, attempts, res.Err))
		return res
	}
	res.Sent = true
	recordDispatch("sent", time.Since(start))
	eventbus.Emit(d.bus, eventbus.TypeDispatched, dispatchEvent(sub, o, attempts, nil))

	if d.marker != nil {
		if err := d.marker.MarkSent(ctx, sub.SubscriberID, o); err != nil {
			log.Warn("dedup marker not stored", logx.Err(err))
		}
	}

	if sub.Mode == slot.ModeOneShot && d.store != nil {
		if err := d.deactivate(ctx, sub.ID, cfg.RetryBase); err != nil {
			log.Error("one-shot subscription not deactivated", logx.Err(err))
			if d.marker != nil {
				if err := d.marker.MarkFulfilled(ctx, sub.ID); err != nil {
					log.Error("one-shot fulfilment not recorded", logx.Err(err))
				}
			}
		} else {
			res.Deactivated = true
			deactivations.Inc()
			eventbus.Emit(d.bus, eventbus.TypeDeactivated, dispatchEvent(sub, o, attempts, nil))
			log.Info("one-shot subscription fulfilled")
		}
	}
	return res
}

// deactivate retries once after wait unless the subscription is gone.
func (d *Dispatcher) deactivate(ctx context.Context, id string, wait time.Duration) error {
	err := d.store.Deactivate(ctx, id)
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return err
	}
	d.log.Warn("deactivate failed, retrying", logx.String("subscription_id", id), logx.Err(err))
	if serr := d.sleep(ctx, wait); serr != nil {
		return err
	}
	return d.store.Deactivate(ctx, id)
}

// Announce sends a plain HTML message to each target, best-effort.
// It returns how many targets received it.
func (d *Dispatcher) Announce(ctx context.Context, targets []transport.ChatTarget, text string) int {
	ok := 0
	for _, t := range targets {
		if _, err := d.sendWithRetry(ctx, t, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
			d.log.Warn("announce failed", logx.Int64("chat_id", t.ChatID), logx.Err(err))
			continue
		}
		ok++
	}
	return ok
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, to transport.ChatTarget, text string, opts *transport.SendOptions) (int, error) {
	if d.sender == nil {
		return 0, errors.New("no sender configured")
	}
	cfg, lim := d.snapshot()
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return attempt - 1, err
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := d.sender.SendText(callCtx, to, text, opts)
		cancel()
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		d.log.Debug("send failed", logx.Int64("chat_id", to.ChatID), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))

		if errors.Is(err, transport.ErrRecipientGone) || ctx.Err() != nil {
			return attempt, err
		}
		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		var ra *transport.RetryAfterError
		if errors.As(err, &ra) && ra.After > delay {
			delay = ra.After
		}
		if err := d.sleep(ctx, delay); err != nil {
			return attempt, lastErr
		}
	}
	return maxAttempts, lastErr
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	maxD := cfg.RetryMaxDelay
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	return min(d, maxD)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func dispatchEvent(sub slot.Subscription, o slot.Offer, attempts int, err error) DispatchEvent {
	ev := DispatchEvent{
		SubscriptionID: sub.ID,
		SubscriberID:   sub.SubscriberID,
		LocationID:     o.LocationID,
		Category:       int(o.Category),
		Coefficient:    o.Coefficient,
		Date:           o.Date,
		Attempts:       attempts,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

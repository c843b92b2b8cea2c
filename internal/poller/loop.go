package poller

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"slotbot/internal/eventbus"
	"slotbot/internal/matcher"
	"slotbot/internal/notifier"
	"slotbot/internal/slot"
	"slotbot/internal/storage"
	logx "slotbot/pkg/logx"
)

// Fetcher returns the current offers for a set of locations.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, locationIDs []int64) ([]slot.Offer, error)
}

// Gate reports whether a subscriber still needs to hear about an offer.
type Gate interface {
	ShouldSend(ctx context.Context, subscriberID int64, o slot.Offer) bool
	// Fulfilled reports one-shot subscriptions served in an earlier cycle
	// whose deactivation did not stick.
	Fulfilled(ctx context.Context, subscriptionID string) bool
}

// Dispatcher delivers one alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub slot.Subscription, o slot.Offer) notifier.Result
}

type Config struct {
	MaxConcurrentGroups int
	// CycleTimeout bounds a whole cycle; 0 disables the bound.
	CycleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentGroups <= 0 {
		c.MaxConcurrentGroups = 2
	}
	if c.CycleTimeout < 0 {
		c.CycleTimeout = 0
	}
	return c
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Started          time.Time     `json:"started"`
	Duration         time.Duration `json:"duration"`
	Subscriptions    int           `json:"subscriptions"`
	Groups           int           `json:"groups"`
	FailedGroups     int           `json:"failed_groups"`
	Matches          int           `json:"matches"`
	Dispatched       int           `json:"dispatched"`
	Deduped          int           `json:"deduped"`
	DeliveryFailures int           `json:"delivery_failures"`
	// Skipped counts matches of one-shot subscriptions already fulfilled, in this cycle or an earlier one.
	Skipped     int   `json:"skipped"`
	Deactivated int   `json:"deactivated"`
	Err         error `json:"-"`
}

// GroupEvent is published when a group fails.
type GroupEvent struct {
	Key         string  `json:"key"`
	LocationIDs []int64 `json:"location_ids"`
	Members     int     `json:"members"`
	Error       string  `json:"error"`
}

// Loop is the polling engine. Its state machine is Idle -> Running -> Idle.
type Loop struct {
	store      storage.Subscriptions
	fetcher    Fetcher
	gate       Gate
	dispatcher Dispatcher
	bus        eventbus.Bus
	log        logx.Logger

	mu  sync.Mutex
	cfg Config

	running atomic.Bool
	cycles  atomic.Uint64
	skipped atomic.Uint64
	last    atomic.Pointer[CycleReport]
}

func New(cfg Config, store storage.Subscriptions, fetcher Fetcher, gate Gate, dispatcher Dispatcher, bus eventbus.Bus, log logx.Logger) *Loop {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{
		store:      store,
		fetcher:    fetcher,
		gate:       gate,
		dispatcher: dispatcher,
		bus:        bus,
		log:        log,
		cfg:        cfg.withDefaults(),
	}
}

// Apply swaps the config; it takes effect from the next cycle.
func (l *Loop) Apply(cfg Config) {
	l.mu.Lock()
	l.cfg = cfg.withDefaults()
	l.mu.Unlock()
}

func (l *Loop) config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Running reports whether a cycle is in flight.
func (l *Loop) Running() bool { return l.running.Load() }

// Stats returns the number of completed cycles and skipped ticks.
func (l *Loop) Stats() (cycles, skipped uint64) { return l.cycles.Load(), l.skipped.Load() }

// LastReport returns the report of the most recent finished cycle.
func (l *Loop) LastReport() (CycleReport, bool) {
	r := l.last.Load()
	if r == nil {
		return CycleReport{}, false
	}
	return *r, true
}

// Tick starts a cycle unless one is already running. It returns false for a
// skipped tick. The cycle runs on the caller's goroutine.
func (l *Loop) Tick(ctx context.Context) bool {
	_, ok := l.tick(ctx)
	return ok
}

// RunOnce is Tick for schedulers: it returns the cycle's abort error, if any.
func (l *Loop) RunOnce(ctx context.Context) error {
	r, ok := l.tick(ctx)
	if !ok {
		return nil
	}
	return r.Err
}

func (l *Loop) tick(ctx context.Context) (CycleReport, bool) {
	if !l.running.CompareAndSwap(false, true) {
		n := l.skipped.Add(1)
		recordSkippedTick()
		l.log.Debug("tick skipped, cycle still running", logx.Uint64("skipped_total", n))
		eventbus.Emit(l.bus, eventbus.TypeCycleSkipped, n)
		return CycleReport{}, false
	}
	defer l.running.Store(false)

	r := l.runCycle(ctx)
	l.cycles.Add(1)
	l.last.Store(&r)
	return r, true
}

// cycleState is shared by the group workers of one cycle.
type cycleState struct {
	failedGroups     atomic.Int64
	matches          atomic.Int64
	dispatched       atomic.Int64
	deduped          atomic.Int64
	deliveryFailures atomic.Int64
	skipped          atomic.Int64
	deactivated      atomic.Int64

	// fulfilled holds one-shot subscriptions already served in this cycle.
	mu        sync.Mutex
	fulfilled map[string]struct{}
}

func (c *cycleState) isFulfilled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.fulfilled[id]
	return ok
}

func (c *cycleState) fulfill(id string) {
	c.mu.Lock()
	c.fulfilled[id] = struct{}{}
	c.mu.Unlock()
}

func (l *Loop) runCycle(ctx context.Context) CycleReport {
	cfg := l.config()
	if cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CycleTimeout)
		defer cancel()
	}

	start := time.Now()
	report := CycleReport{Started: start}
	eventbus.Emit(l.bus, eventbus.TypeCycleStarted, start)

	finish := func() CycleReport {
		report.Duration = time.Since(start)
		recordCycle(report)
		eventbus.Emit(l.bus, eventbus.TypeCycleFinished, report)
		return report
	}

	subs, err := l.store.ListActive(ctx)
	if err != nil {
		report.Err = fmt.Errorf("load subscriptions: %w", err)
		l.log.Error("cycle aborted", logx.Err(report.Err))
		return finish()
	}
	report.Subscriptions = len(subs)
	if len(subs) == 0 {
		l.log.Debug("no active subscriptions")
		return finish()
	}

	groups := matcher.GroupSubscriptions(subs)
	report.Groups = len(groups)

	st := &cycleState{fulfilled: map[string]struct{}{}}
	var eg errgroup.Group
	eg.SetLimit(cfg.MaxConcurrentGroups)
	for _, g := range groups {
		eg.Go(func() error {
			l.processGroup(ctx, g, st)
			return nil
		})
	}
	_ = eg.Wait()

	report.FailedGroups = int(st.failedGroups.Load())
	report.Matches = int(st.matches.Load())
	report.Dispatched = int(st.dispatched.Load())
	report.Deduped = int(st.deduped.Load())
	report.DeliveryFailures = int(st.deliveryFailures.Load())
	report.Skipped = int(st.skipped.Load())
	report.Deactivated = int(st.deactivated.Load())

	r := finish()
	lvl := l.log.Debug
	if r.Dispatched > 0 || r.FailedGroups > 0 || r.DeliveryFailures > 0 {
		lvl = l.log.Info
	}
	lvl("cycle finished",
		logx.Duration("took", r.Duration),
		logx.Int("subscriptions", r.Subscriptions),
		logx.Int("groups", r.Groups),
		logx.Int("failed_groups", r.FailedGroups),
		logx.Int("matches", r.Matches),
		logx.Int("dispatched", r.Dispatched),
		logx.Int("deduped", r.Deduped),
		logx.Int("delivery_failures", r.DeliveryFailures),
	)
	return r
}

// processGroup contains every failure of one group, including panics.
func (l *Loop) processGroup(ctx context.Context, g matcher.Group, st *cycleState) {
	log := l.log.With(logx.String("group", g.Key), logx.Int("members", len(g.Subscriptions)))
	defer func() {
		if r := recover(); r != nil {
			st.failedGroups.Add(1)
			log.Error("group panicked", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			eventbus.Emit(l.bus, eventbus.TypeGroupFailed, groupEvent(g, fmt.Errorf("panic: %v", r)))
		}
	}()

	if ctx.Err() != nil {
		st.failedGroups.Add(1)
		return
	}

	offers, err := l.fetcher.FetchSnapshot(ctx, g.LocationIDs)
	if err != nil {
		st.failedGroups.Add(1)
		log.Warn("snapshot fetch failed", logx.Err(err))
		eventbus.Emit(l.bus, eventbus.TypeGroupFailed, groupEvent(g, err))
		return
	}

	matches := matcher.MatchGroup(g, offers)
	st.matches.Add(int64(len(matches)))
	for _, m := range matches {
		if ctx.Err() != nil {
			log.Warn("cycle deadline reached, remaining matches left for next cycle")
			return
		}
		sub := m.Subscription
		if sub.Mode == slot.ModeOneShot && st.isFulfilled(sub.ID) {
			st.skipped.Add(1)
			continue
		}
		if sub.Mode == slot.ModeOneShot && l.gate.Fulfilled(ctx, sub.ID) {
			st.fulfill(sub.ID)
			st.skipped.Add(1)
			l.retire(ctx, sub, log)
			continue
		}
		if !l.gate.ShouldSend(ctx, sub.SubscriberID, m.Offer) {
			st.deduped.Add(1)
			eventbus.Emit(l.bus, eventbus.TypeDeduped, m)
			continue
		}

		res := l.dispatcher.Dispatch(ctx, sub, m.Offer)
		if !res.Sent {
			st.deliveryFailures.Add(1)
			continue
		}
		st.dispatched.Add(1)
		if sub.Mode == slot.ModeOneShot {
			// Even if the store update failed, don't serve it twice in this cycle.
			st.fulfill(sub.ID)
			if res.Deactivated {
				st.deactivated.Add(1)
			}
		}
	}
}

// retire deactivates a one-shot subscription that was served in an earlier cycle.
func (l *Loop) retire(ctx context.Context, sub slot.Subscription, log logx.Logger) {
	if err := l.store.Deactivate(ctx, sub.ID); err != nil {
		log.Warn("fulfilled one-shot subscription still not deactivated", logx.String("subscription_id", sub.ID), logx.Err(err))
		return
	}
	log.Info("fulfilled one-shot subscription deactivated", logx.String("subscription_id", sub.ID))
}

func groupEvent(g matcher.Group, err error) GroupEvent {
	return GroupEvent{Key: g.Key, LocationIDs: g.LocationIDs, Members: len(g.Subscriptions), Error: err.Error()}
}

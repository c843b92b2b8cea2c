package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"slotbot/internal/slot"
	logx "slotbot/pkg/logx"
)

// Memory is a process-local Store. Dedup markers live in a go-cache instance
// so expired entries are evicted by its janitor.
type Memory struct {
	mu        sync.RWMutex
	subs      map[string]slot.Subscription
	locations map[int64]string
	dedup     *gocache.Cache
	log       logx.Logger
}

var _ Store = (*Memory)(nil)

func NewMemory(cfg Config, log logx.Logger) *Memory {
	cleanup := cfg.DedupCleanup
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Memory{
		subs:      map[string]slot.Subscription{},
		locations: map[int64]string{},
		dedup:     gocache.New(gocache.NoExpiration, cleanup),
		log:       log,
	}
}

func (m *Memory) ListActive(ctx context.Context) ([]slot.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	m.mu.RLock()
	out := make([]slot.Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		if s.Active {
			out = append(out, cloneSubscription(s))
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	s.Active = false
	m.subs[id] = s
	return nil
}

func (m *Memory) CreateSubscription(ctx context.Context, p slot.Params) (slot.Subscription, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	s, err := slot.NewSubscription(p)
	if err != nil {
		return slot.Subscription{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.subs[s.ID]; exists {
		return slot.Subscription{}, fmt.Errorf("subscription %s already exists", s.ID)
	}
	m.subs[s.ID] = cloneSubscription(s)
	return s, nil
}

// Get returns a stored subscription regardless of its state.
func (m *Memory) Get(id string) (slot.Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	return cloneSubscription(s), ok
}

func (m *Memory) LocationName(ctx context.Context, id int64) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.locations[id]
	return n, ok, nil
}

func (m *Memory) PutLocations(ctx context.Context, names map[int64]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range names {
		m.locations[id] = n
	}
	return nil
}

func (m *Memory) ExpireWindows(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.subs {
		if s.Active && s.Window.Expired(now) {
			s.Active = false
			m.subs[id] = s
			n++
		}
	}
	return n, nil
}

func (m *Memory) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		m.dedup.Delete(key)
		return nil
	}
	m.dedup.Set(key, until, ttl)
	return nil
}

func (m *Memory) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	v, ok := m.dedup.Get(key)
	if !ok {
		return time.Time{}, false, nil
	}
	until, ok := v.(time.Time)
	return until, ok, nil
}

func (m *Memory) Close() error {
	m.dedup.Flush()
	return nil
}

func cloneSubscription(s slot.Subscription) slot.Subscription {
	s.LocationIDs = append([]int64(nil), s.LocationIDs...)
	s.Categories = append([]slot.Category(nil), s.Categories...)
	return s
}

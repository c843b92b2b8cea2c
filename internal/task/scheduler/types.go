package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"slotbot/internal/eventbus"
	logx "slotbot/pkg/logx"
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Moscow"
}

// runState outlives re-registration of the same name, so the skip guard and
// counters hold across hot reloads.
type runState struct {
	running  atomic.Bool
	runs     atomic.Uint64
	skipped  atomic.Uint64
	failures atomic.Uint64
}

type scheduleDef struct {
	name    string
	spec    string        // cron expression, or "@every <d>" for intervals
	every   time.Duration // >0 for interval schedules
	timeout time.Duration
	job     func(ctx context.Context) error
	state   *runState

	// guarded by Service.mu
	entryID cron.EntryID
	spread  time.Duration // first-run offset of an interval schedule
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus

	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*scheduleDef

	// base is the parent context of every run; cancelled by Stop.
	base   context.Context
	cancel context.CancelFunc

	skipMu       sync.Mutex
	lastSkipWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Timeout  time.Duration `json:"timeout,omitempty"`
	Next     time.Time     `json:"next,omitzero"`
	Prev     time.Time     `json:"prev,omitzero"`
	Running  bool          `json:"running"`
	Runs     uint64        `json:"runs"`
	Skipped  uint64        `json:"skipped"`
	Failures uint64        `json:"failures"`
}

type Snapshot struct {
	Timezone  string
	Schedules []ScheduleInfo
}

// RunEvent is published when a scheduled run finishes or is skipped.
type RunEvent struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
}

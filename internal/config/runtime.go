package config

import (
	"strings"
	"time"

	"slotbot/internal/notifier"
	"slotbot/internal/poller"
	"slotbot/internal/storage"
	"slotbot/internal/upstream"
	logx "slotbot/pkg/logx"
)

const (
	DefaultPollInterval     = 10 * time.Second
	DefaultCycleTimeout     = 2 * time.Minute
	DefaultDedupTTL         = 24 * time.Hour
	DefaultExpireWindows    = "1m"
	DefaultRefreshLocations = "6h"
	DefaultTimezone         = "Europe/Moscow"
	DefaultOpsAddr          = "127.0.0.1:9090"
	DefaultStoragePath      = "./data/slotbot.db"
)

// Runtime is the parsed, defaulted view of a Config, shaped for the packages that consume it.
type Runtime struct {
	Logging  logx.Config
	Upstream upstream.Config
	Poller   poller.Config
	Notifier notifier.Config
	Storage  storage.Config
	Ops      Ops

	PollInterval     time.Duration
	DedupTTL         time.Duration
	ExpireWindows    string
	RefreshLocations string
	Timezone         string
}

type Ops struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

// Runtime parses durations and fills defaults. It never mutates c.
func (c *Config) Runtime() (Runtime, error) {
	var d durations
	rt := Runtime{
		Logging: logx.Config{
			Level:   c.Logging.Level,
			Console: c.Logging.Console,
			File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
			Telegram: logx.TelegramConfig{
				Enabled:    c.Logging.Telegram.Enabled,
				ThreadID:   c.Logging.Telegram.ThreadID,
				MinLevel:   c.Logging.Telegram.MinLevel,
				RatePerSec: c.Logging.Telegram.RatePerSec,
			},
		},
		Upstream: upstream.Config{
			BaseURL:              strings.TrimSpace(c.Upstream.BaseURL),
			RetriesPerCredential: c.Upstream.RetriesPerCredential,
			BackoffBase:          d.or("upstream.backoff_base", c.Upstream.BackoffBase, 5*time.Second),
			BackoffMax:           d.or("upstream.backoff_max", c.Upstream.BackoffMax, time.Minute),
			RequestTimeout:       d.or("upstream.request_timeout", c.Upstream.RequestTimeout, 10*time.Second),
			MinRequestInterval:   d.or("upstream.min_request_interval", c.Upstream.MinRequestInterval, 1100*time.Millisecond),
		},
		Poller: poller.Config{
			MaxConcurrentGroups: c.Poller.MaxConcurrentGroups,
			CycleTimeout:        d.or("poller.cycle_timeout", c.Poller.CycleTimeout, DefaultCycleTimeout),
		},
		Notifier: notifier.Config{
			RatePerSec:    c.Notifier.RatePerSec,
			RetryMax:      c.Notifier.RetryMax,
			RetryBase:     d.or("notifier.retry_base", c.Notifier.RetryBase, 500*time.Millisecond),
			RetryMaxDelay: d.or("notifier.retry_max_delay", c.Notifier.RetryMaxDelay, 5*time.Second),
			SendTimeout:   d.or("notifier.send_timeout", c.Notifier.SendTimeout, 10*time.Second),
			BookingURL:    strings.TrimSpace(c.Notifier.BookingURL),
			BookingText:   strings.TrimSpace(c.Notifier.BookingText),
		},
		Storage: storage.Config{
			Driver:       strings.ToLower(strings.TrimSpace(c.Storage.Driver)),
			Path:         strings.TrimSpace(c.Storage.Path),
			BusyTimeout:  d.or("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second),
			DedupCleanup: d.or("dedup.cleanup_interval", c.Dedup.CleanupInterval, 10*time.Minute),
		},
		Ops: Ops{
			Enabled:              c.Ops.Enabled,
			Addr:                 opsAddr(c.Ops),
			Token:                strings.TrimSpace(c.Ops.Token),
			AllowInsecure:        c.Ops.AllowInsecure,
			Pprof:                c.Ops.Pprof,
			ReadTimeout:          d.or("ops.read_timeout", c.Ops.ReadTimeout, 5*time.Second),
			WriteTimeout:         d.or("ops.write_timeout", c.Ops.WriteTimeout, 60*time.Second),
			IdleTimeout:          d.or("ops.idle_timeout", c.Ops.IdleTimeout, 60*time.Second),
			MutexProfileFraction: c.Ops.MutexProfileFraction,
			BlockProfileRate:     c.Ops.BlockProfileRate,
		},
		PollInterval:     d.or("poller.interval", c.Poller.Interval, DefaultPollInterval),
		DedupTTL:         d.or("dedup.ttl", c.Dedup.TTL, DefaultDedupTTL),
		ExpireWindows:    orDefault(c.Schedules.ExpireWindows, DefaultExpireWindows),
		RefreshLocations: orDefault(c.Schedules.RefreshLocations, DefaultRefreshLocations),
		Timezone:         orDefault(c.Schedules.Timezone, DefaultTimezone),
	}
	if d.err != nil {
		return Runtime{}, d.err
	}
	if rt.Storage.Driver == "" {
		rt.Storage.Driver = "sqlite"
	}
	if rt.Storage.Path == "" && rt.Storage.Driver != "memory" {
		rt.Storage.Path = DefaultStoragePath
	}
	return rt, nil
}

// Credentials returns the trimmed upstream tokens.
func (c *Config) Credentials() []string {
	out := make([]string, 0, len(c.Upstream.Credentials))
	for _, t := range c.Upstream.Credentials {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func opsAddr(o OpsConfig) string {
	return orDefault(o.Addr, DefaultOpsAddr)
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

package scheduler

import (
	"testing"
	"time"
)

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw    string
		kind   SpecKind
		source string
		cron   string
		every  time.Duration
	}{
		{raw: "*/5 * * * *", kind: SpecCron, source: "cron", cron: "*/5 * * * *"},
		{raw: "@every 10s", kind: SpecCron, source: "cron", cron: "@every 10s"},
		{raw: "CRON: 0 3 * * *", kind: SpecCron, source: "cron", cron: "0 3 * * *"},
		{raw: " 10s ", kind: SpecInterval, source: "duration", every: 10 * time.Second},
		{raw: "interval:45s", kind: SpecInterval, source: "duration", every: 45 * time.Second},
		{raw: "Every: 6h", kind: SpecInterval, source: "duration", every: 6 * time.Hour},
		{raw: "00:10", kind: SpecInterval, source: "hhmm", every: 10 * time.Minute},
		{raw: "every:120:05", kind: SpecInterval, source: "hhmm", every: 120*time.Hour + 5*time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.source {
				t.Fatalf("got kind=%v source=%s, want kind=%v source=%s", got.Kind, got.Source, tt.kind, tt.source)
			}
			if got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
			if got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseSchedule_Invalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "soon", "0s", "interval:-1m", "00:00", "1:75", "1:5", "cron:", "every:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestSpreadInterval(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sched, offset := spreadInterval(time.Hour, now, "poll")
	if offset < 0 || offset >= maxStartupSpread {
		t.Fatalf("offset %v outside [0, %v)", offset, maxStartupSpread)
	}
	first := sched.Next(now)
	if want := now.Add(offset); !first.Equal(want) {
		t.Fatalf("first run = %v, want %v", first, want)
	}
	// cron.Every drops sub-second precision.
	if second := sched.Next(first); second.Sub(first.Truncate(time.Second)) != time.Hour {
		t.Fatalf("second run %v after first, want 1h", second.Sub(first.Truncate(time.Second)))
	}

	_, again := spreadInterval(time.Hour, now, "poll")
	if again != offset {
		t.Fatalf("offset for the same name changed: %v vs %v", again, offset)
	}

	_, short := spreadInterval(5*time.Second, now, "sweep")
	if short >= 5*time.Second {
		t.Fatalf("offset %v must stay below the interval", short)
	}
}

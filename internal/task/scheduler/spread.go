package scheduler

import (
	"hash/fnv"
	"time"

	"github.com/robfig/cron/v3"
)

const maxStartupSpread = 30 * time.Second

// processSalt varies the spread between restarts while keeping it stable per name within one process.
var processSalt = uint64(time.Now().UnixNano())

// firstRunSchedule fires once at first, then follows base.
type firstRunSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *firstRunSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// spreadInterval schedules an interval job whose first run lands somewhere in
// [now, now+min(every, 30s)). Jobs registered together no longer fire in lockstep,
// and a long interval does not delay the first run by a whole period.
func spreadInterval(every time.Duration, now time.Time, name string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	window := min(every, maxStartupSpread)
	if window <= 0 {
		return base, 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	offset := time.Duration((h.Sum64() ^ processSalt) % uint64(window))
	return &firstRunSchedule{base: base, first: now.Add(offset)}, offset
}

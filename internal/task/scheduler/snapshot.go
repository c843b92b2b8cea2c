package scheduler

import (
	"slices"
	"strings"
	"time"
)

// Snapshot reports every schedule sorted by name.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	tz := s.cfg.Timezone
	if tz == "" {
		tz = time.Local.String()
		if s.loc != nil {
			tz = s.loc.String()
		}
	}

	items := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:     d.name,
			Spec:     d.spec,
			Timeout:  d.timeout,
			Running:  d.state.running.Load(),
			Runs:     d.state.runs.Load(),
			Skipped:  d.state.skipped.Load(),
			Failures: d.state.failures.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b ScheduleInfo) int { return strings.Compare(a.Name, b.Name) })
	return Snapshot{Timezone: tz, Schedules: items}
}

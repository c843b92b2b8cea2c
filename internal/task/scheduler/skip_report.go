package scheduler

import (
	"time"

	logx "slotbot/pkg/logx"
)

const skipWarnThrottle = time.Minute

// reportSkip logs overlapping triggers: debug always, warn at most once per throttle window.
func (s *Service) reportSkip(name string) {
	s.log.Debug("schedule trigger skipped", logx.String("schedule", name))

	now := time.Now()
	s.skipMu.Lock()
	last := s.lastSkipWarn[name]
	if !last.IsZero() && now.Sub(last) < skipWarnThrottle {
		s.skipMu.Unlock()
		return
	}
	s.lastSkipWarn[name] = now
	s.skipMu.Unlock()

	s.log.Warn("schedule still running, trigger skipped", logx.String("schedule", name))
}

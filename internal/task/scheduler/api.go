package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"slotbot/internal/eventbus"
	logx "slotbot/pkg/logx"
)

var (
	ErrUnknownSchedule = errors.New("unknown schedule")
	// ErrSkipped is returned by RunNow when the schedule is already running.
	ErrSkipped = errors.New("schedule already running")
)

// AddSchedule registers name with any format ParseSchedule accepts.
// Registering an existing name replaces it.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", fmt.Errorf("schedule %s: %w", name, err)
	}
	if ps.Kind == SpecInterval {
		return s.AddInterval(name, ps.Every, timeout, job)
	}
	return s.AddCron(name, ps.Cron, timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("schedule %s: %w", name, err)
	}
	return s.register(&scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
}

func (s *Service) AddInterval(name string, every time.Duration, timeout time.Duration, job func(ctx context.Context) error) (string, error) {
	if every <= 0 {
		return "", fmt.Errorf("schedule %s: %w", name, errIntervalNotPositive)
	}
	return s.register(&scheduleDef{name: name, spec: "@every " + every.String(), every: every, timeout: timeout, job: job})
}

func (s *Service) register(d *scheduleDef) (string, error) {
	d.name = strings.TrimSpace(d.name)
	switch {
	case d.name == "":
		return "", errors.New("schedule name required")
	case d.job == nil:
		return "", fmt.Errorf("schedule %s: job required", d.name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	d.state = &runState{}
	if old, ok := s.defs[d.name]; ok {
		d.state = old.state
		s.unscheduleLocked(old)
	}
	s.defs[d.name] = d
	if s.c == nil {
		return d.name, nil // picked up by Start
	}
	if err := s.scheduleLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return d.name, err
	}
	s.log.Debug("schedule registered",
		logx.String("name", d.name),
		logx.String("spec", d.spec),
		logx.Duration("timeout", d.timeout),
		logx.Duration("first_run_in", s.firstRunInLocked(d)),
	)
	return d.name, nil
}

// Remove unschedules name. It returns true if something was removed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	d, ok := s.defs[name]
	if ok {
		s.unscheduleLocked(d)
		delete(s.defs, name)
	}
	s.mu.Unlock()
	if ok {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return ok
}

// RunNow runs a registered schedule synchronously, honoring the skip-if-running guard.
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.defs[strings.TrimSpace(name)]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchedule, name)
	}
	return s.run(ctx, d)
}

func (s *Service) unscheduleLocked(d *scheduleDef) {
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	d.entryID = 0
}

// scheduleLocked adds d to the running cron. Interval schedules get a
// name-derived first-run offset so they do not all fire at once after start.
func (s *Service) scheduleLocked(d *scheduleDef) error {
	base := s.base
	job := cron.FuncJob(func() {
		if base != nil {
			_ = s.run(base, d)
		}
	})

	if d.every > 0 {
		sched, spread := spreadInterval(d.every, time.Now().In(s.loc), d.name)
		d.spread = spread
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}
	d.spread = 0
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) firstRunInLocked(d *scheduleDef) time.Duration {
	if d.every > 0 {
		return d.spread
	}
	sched, err := s.parser.Parse(d.spec)
	if err != nil {
		return 0
	}
	now := time.Now().In(s.loc)
	return sched.Next(now).Sub(now).Round(time.Second)
}

// run executes one trigger of d unless a previous run is still in flight.
func (s *Service) run(ctx context.Context, d *scheduleDef) error {
	st := d.state
	if !st.running.CompareAndSwap(false, true) {
		st.skipped.Add(1)
		recordRun(d.name, resultSkipped, 0)
		s.reportSkip(d.name)
		eventbus.Emit(s.bus, eventbus.TypeScheduleSkipped, RunEvent{Name: d.name, Skipped: true})
		return ErrSkipped
	}
	defer st.running.Store(false)
	st.runs.Add(1)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	began := time.Now()
	err := d.job(ctx)
	ev := RunEvent{Name: d.name, Duration: time.Since(began)}
	if err != nil {
		st.failures.Add(1)
		ev.Error = err.Error()
		recordRun(d.name, resultError, ev.Duration)
		s.log.Warn("scheduled run failed", logx.String("schedule", d.name), logx.Duration("took", ev.Duration), logx.Err(err))
	} else {
		recordRun(d.name, resultOK, ev.Duration)
		s.log.Debug("scheduled run finished", logx.String("schedule", d.name), logx.Duration("took", ev.Duration))
	}
	eventbus.Emit(s.bus, eventbus.TypeScheduleRun, ev)
	return err
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotbot/internal/eventbus"
	logx "slotbot/pkg/logx"
)

func TestRunNow_SkipsWhileRunning(t *testing.T) {
	s := New(Config{}, logx.Nop(), eventbus.New())

	release := make(chan struct{})
	started := make(chan struct{})
	_, err := s.AddInterval("poll", time.Hour, 0, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background(), "poll") }()
	<-started

	assert.ErrorIs(t, s.RunNow(context.Background(), "poll"), ErrSkipped)
	close(release)
	require.NoError(t, <-done)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, uint64(1), snap.Schedules[0].Runs)
	assert.Equal(t, uint64(1), snap.Schedules[0].Skipped)
	assert.False(t, snap.Schedules[0].Running)
}

func TestRunNow_TimeoutAndFailures(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	_, err := s.AddSchedule("slow", "1m", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	err = s.RunNow(context.Background(), "slow")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, uint64(1), s.Snapshot().Schedules[0].Failures)

	assert.ErrorIs(t, s.RunNow(context.Background(), "missing"), ErrUnknownSchedule)
}

func TestAdd_UpsertAndRemove(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	job := func(context.Context) error { return nil }

	_, err := s.AddSchedule("sweep", "*/5 * * * *", 0, job)
	require.NoError(t, err)
	_, err = s.AddSchedule("sweep", "2m", 0, job)
	require.NoError(t, err)

	snap := s.Snapshot()
	require.Len(t, snap.Schedules, 1)
	assert.Equal(t, "@every 2m0s", snap.Schedules[0].Spec)

	_, err = s.AddCron("bad", "not cron at all", 0, job)
	assert.Error(t, err)
	_, err = s.AddInterval("", time.Minute, 0, job)
	assert.Error(t, err)

	assert.True(t, s.Remove("sweep"))
	assert.False(t, s.Remove("sweep"))
	assert.Empty(t, s.Snapshot().Schedules)
}

func TestStartStop_TriggersInterval(t *testing.T) {
	s := New(Config{Timezone: "Europe/Moscow"}, logx.Nop(), nil)
	var runs atomic.Int32
	_, err := s.AddInterval("tick", 20*time.Millisecond, time.Second, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	after := runs.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no triggers after Stop")
	assert.Equal(t, "Europe/Moscow", s.Snapshot().Timezone)
}

func TestStop_CancelsInFlightRun(t *testing.T) {
	s := New(Config{}, logx.Nop(), nil)
	entered := make(chan struct{}, 1)
	_, err := s.AddInterval("long", 10*time.Millisecond, 0, func(ctx context.Context) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	s.Start(context.Background())
	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.NoError(t, ctx.Err(), "stop returned before its deadline")
}

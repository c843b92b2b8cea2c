package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGo_FirstErrorCancelsSiblings(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))

	s.Go0("sibling", func(ctx context.Context) { <-ctx.Done() })
	s.Go("failing", func(ctx context.Context) error { return errors.New("store down") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: store down")
	assert.Error(t, s.Context().Err())
	assert.Equal(t, uint64(2), s.Counters().Started)
	assert.Zero(t, s.Counters().Active)
}

func TestGo_PanicIsRecovered(t *testing.T) {
	s := New(context.Background())

	s.Go("panicky", func(ctx context.Context) error { panic("nil map") })
	s.Go("fine", func(ctx context.Context) error { return nil })

	err := s.Stop(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in panicky")
	assert.Equal(t, uint64(1), s.Counters().Panics)
}

func TestGo_CanceledIsNotAnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s.Stop(waitCtx(t)))
}

func TestGoRestart_RetriesUntilClean(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	require.Eventually(t, func() bool { return s.Counters().Active == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), runs.Load())
	assert.NoError(t, s.Stop(waitCtx(t)), "restart errors are not published by default")
}

func TestGoRestart_MaxRestartsAndPublish(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		panic("always")
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithMaxRestarts(2),
		WithPublishFirstError(true),
	)

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, int32(3), runs.Load(), "initial run plus two restarts")
	assert.Equal(t, uint64(3), s.Counters().Panics)
	s.Cancel()
}

func TestWait_HonorsDeadline(t *testing.T) {
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(ctx context.Context) { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, s.Stop(waitCtx(t)))
}

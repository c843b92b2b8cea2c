package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanoutAndDrop(t *testing.T) {
	t.Parallel()

	b := New()
	fast, unsubFast := b.Subscribe(4)
	defer unsubFast()
	slow, unsubSlow := b.Subscribe(1)
	defer unsubSlow()

	for i := 0; i < 3; i++ {
		b.Publish(Event{Type: TypeDispatched, Data: i})
	}

	require.Len(t, fast, 3)
	require.Len(t, slow, 1)
	e := <-slow
	assert.Equal(t, 0, e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	// Publishing after unsubscribe must not panic.
	Emit(b, TypeCycleStarted, nil)
	Emit(nil, TypeCycleStarted, nil)
}

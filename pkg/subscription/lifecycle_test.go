package subscription

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLifecycle_InitTimeoutFires(t *testing.T) {
	l := newLifecycle()
	fired := make(chan struct{})
	l.awaitInit(20*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("init timeout did not fire")
	}
	assert.False(t, l.settle(), "settle after timeout")
	l.stop()
}

func TestLifecycle_SettleCancelsTimeout(t *testing.T) {
	l := newLifecycle()
	var fired atomic.Bool
	l.awaitInit(30*time.Millisecond, func() { fired.Store(true) })

	assert.True(t, l.settle())
	time.Sleep(60 * time.Millisecond)
	assert.False(t, fired.Load())
	l.stop()
}

func TestLifecycle_KeepAliveTicksUntilStop(t *testing.T) {
	l := newLifecycle()
	assert.True(t, l.settle())

	var ticks atomic.Int32
	l.keepAlive(10*time.Millisecond, func() { ticks.Add(1) })

	assert.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, 5*time.Millisecond)
	l.stop()
	l.stop()

	after := ticks.Load()
	time.Sleep(40 * time.Millisecond)
	assert.LessOrEqual(t, ticks.Load(), after+1)
}

func TestLifecycle_Disabled(t *testing.T) {
	l := newLifecycle()
	var calls atomic.Int32
	l.awaitInit(0, func() { calls.Add(1) })
	l.keepAlive(0, func() { calls.Add(1) })

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())
	assert.True(t, l.settle())
	l.stop()
}

func TestLifecycle_StopBeforeTimeout(t *testing.T) {
	l := newLifecycle()
	var fired atomic.Bool
	l.awaitInit(20*time.Millisecond, func() { fired.Store(true) })
	l.stop()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.False(t, l.settle())
}

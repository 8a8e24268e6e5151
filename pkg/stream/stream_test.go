package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T any](t *testing.T, s *Stream[T]) []T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var out []T
	for v := range s.All(ctx) {
		out = append(out, v)
	}
	require.NoError(t, ctx.Err(), "stream did not end in time")
	return out
}

func TestStream_YieldThenFinish(t *testing.T) {
	s := New[int](nil)
	assert.True(t, s.Yield(1))
	assert.True(t, s.Yield(2))
	s.Finish(nil)

	assert.False(t, s.Yield(3), "yield after finish must be rejected")
	assert.Equal(t, []int{1, 2}, collect(t, s))
	assert.True(t, s.Ended())
	assert.NoError(t, s.Err())
}

func TestStream_TerminationHookFiresOnce(t *testing.T) {
	tests := []struct {
		name   string
		end    func(s *Stream[int])
		reason Reason
	}{
		{
			name:   "finished",
			end:    func(s *Stream[int]) { s.Finish(nil) },
			reason: ReasonFinished,
		},
		{
			name:   "failed",
			end:    func(s *Stream[int]) { s.Finish(errors.New("boom")) },
			reason: ReasonFailed,
		},
		{
			name:   "cancelled",
			end:    func(s *Stream[int]) { s.Terminate() },
			reason: ReasonCancelled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New[int](nil)
			var calls atomic.Int32
			var got Termination
			s.OnTermination(func(term Termination) {
				calls.Add(1)
				got = term
			})

			tt.end(s)
			// Every other ending path afterwards must be a no-op for hooks.
			s.Finish(nil)
			s.Finish(errors.New("late"))
			s.Terminate()
			s.Terminate()

			assert.Equal(t, int32(1), calls.Load())
			assert.Equal(t, tt.reason, got.Reason)
		})
	}
}

func TestStream_OnTerminationAfterEndRunsImmediately(t *testing.T) {
	s := New[string](nil)
	s.Terminate()

	var got Termination
	s.OnTermination(func(term Termination) { got = term })
	assert.Equal(t, ReasonCancelled, got.Reason)
}

func TestStream_TerminateWakesWaitingConsumer(t *testing.T) {
	s := New[int](nil)

	done := make(chan bool)
	go func() {
		_, ok := s.Next(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	s.Terminate()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Terminate")
	}
}

func TestStream_TerminateDropsBuffer(t *testing.T) {
	s := New[int](nil)
	s.Yield(1)
	s.Yield(2)
	assert.Equal(t, 2, s.Buffered())

	s.Terminate()
	assert.Equal(t, 0, s.Buffered())
	_, ok := s.Next(context.Background())
	assert.False(t, ok)
}

func TestStream_NextHonoursContext(t *testing.T) {
	s := New[int](nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := s.Next(ctx)
	assert.False(t, ok)
	assert.False(t, s.Ended(), "a consumer giving up does not end the stream")
}

func TestGo_TerminateCancelsProducer(t *testing.T) {
	stopped := make(chan struct{})
	s := Go(context.Background(), func(ctx context.Context, yield func(int) bool) error {
		defer close(stopped)
		for i := 0; ; i++ {
			if !yield(i) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
			}
		}
	})

	v, ok := s.Next(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, v)

	s.Terminate()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("producer kept running after Terminate")
	}
	assert.NoError(t, s.Err(), "cancellation is not a failure")
}

func TestGo_ProducerError(t *testing.T) {
	want := errors.New("upstream failed")
	s := Go(context.Background(), func(ctx context.Context, yield func(string) bool) error {
		yield("a")
		return want
	})

	var reason Reason
	var wg sync.WaitGroup
	wg.Add(1)
	s.OnTermination(func(term Termination) {
		reason = term.Reason
		wg.Done()
	})

	assert.Equal(t, []string{"a"}, collect(t, s))
	wg.Wait()
	assert.Equal(t, ReasonFailed, reason)
	assert.ErrorIs(t, s.Err(), want)
}

func TestGo_ProducerPanicFailsStream(t *testing.T) {
	s := Go(context.Background(), func(ctx context.Context, yield func(int) bool) error {
		panic("kaboom")
	})

	assert.Empty(t, collect(t, s))
	require.Error(t, s.Err())
	assert.Contains(t, s.Err().Error(), "kaboom")
}

func TestFromChannel(t *testing.T) {
	ch := make(chan int)
	s := FromChannel(context.Background(), ch)

	go func() {
		for i := 1; i <= 3; i++ {
			ch <- i
		}
		close(ch)
	}()

	assert.Equal(t, []int{1, 2, 3}, collect(t, s))
	assert.NoError(t, s.Err())
}

func TestFromChannel_ContextEndFailsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := FromChannel(ctx, make(chan int))
	cancel()

	assert.Empty(t, collect(t, s))
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestAll_BreakTerminates(t *testing.T) {
	s := New[int](nil)
	for i := 0; i < 5; i++ {
		s.Yield(i)
	}

	for v := range s.All(context.Background()) {
		if v == 1 {
			break
		}
	}
	assert.True(t, s.Ended())
	assert.Equal(t, 0, s.Buffered())
}

func TestReason_String(t *testing.T) {
	assert.Equal(t, "finished", ReasonFinished.String())
	assert.Equal(t, "cancelled", ReasonCancelled.String())
	assert.Equal(t, "failed", ReasonFailed.String())
	assert.Equal(t, "reason(9)", Reason(9).String())
}

package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
)

// errCancelled is returned by a producer whose upstream was terminated; the
// stream it feeds is terminated rather than finished.
var errCancelled = errors.New("stream cancelled")

// Reason describes how a stream ended.
type Reason int

const (
	// ReasonFinished means the producer completed normally.
	ReasonFinished Reason = iota
	// ReasonCancelled means Terminate was called before the producer completed.
	ReasonCancelled
	// ReasonFailed means the producer completed with an error.
	ReasonFailed
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonFinished:
		return "finished"
	case ReasonCancelled:
		return "cancelled"
	case ReasonFailed:
		return "failed"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Termination is passed to termination hooks.
type Termination struct {
	Reason Reason
	// Err is set when Reason is ReasonFailed.
	Err error
}

// Producer produces values by calling yield until it has nothing more to send
// or yield returns false. The context is cancelled when the stream is
// terminated.
type Producer[T any] func(ctx context.Context, yield func(T) bool) error

// Stream is an unbounded, cancellable queue of values fed by one producer.
// All methods are safe for concurrent use.
type Stream[T any] struct {
	mu         sync.Mutex
	buf        []T
	changed    chan struct{}
	finished   bool
	terminated bool
	fired      bool
	end        Termination
	hooks      []func(Termination)
	cancel     context.CancelFunc
}

// New creates a stream that is fed by calling Yield and Finish directly.
// cancel, if non-nil, is called when the stream is terminated.
func New[T any](cancel context.CancelFunc) *Stream[T] {
	return &Stream[T]{
		changed: make(chan struct{}),
		cancel:  cancel,
	}
}

// Go starts produce on its own goroutine and returns the stream it feeds.
// The producer's context is derived from ctx and cancelled on Terminate.
// A panicking producer fails the stream instead of crashing the process.
func Go[T any](ctx context.Context, produce Producer[T]) *Stream[T] {
	pctx, cancel := context.WithCancel(ctx)
	s := New[T](cancel)

	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.Finish(fmt.Errorf("stream producer panicked: %v", r))
			}
		}()
		err := produce(pctx, s.Yield)
		if errors.Is(err, errCancelled) {
			s.Terminate()
			return
		}
		s.Finish(err)
	}()

	return s
}

// FromChannel adapts a native channel into a stream. The stream finishes when
// ch is closed, and fails with the context error if ctx ends first.
func FromChannel[T any](ctx context.Context, ch <-chan T) *Stream[T] {
	return Go(ctx, func(ctx context.Context, yield func(T) bool) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case v, ok := <-ch:
				if !ok {
					return nil
				}
				if !yield(v) {
					return nil
				}
			}
		}
	})
}

// Yield appends v to the stream. It returns false once the stream has ended,
// telling the producer to stop.
func (s *Stream[T]) Yield(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.terminated {
		return false
	}
	s.buf = append(s.buf, v)
	s.broadcast()
	return true
}

// Finish marks the producer as done. A nil err ends the stream normally;
// anything else fails it. Values already buffered remain readable.
// Finish after the stream has ended is a no-op.
func (s *Stream[T]) Finish(err error) {
	s.mu.Lock()
	if s.finished || s.terminated {
		s.mu.Unlock()
		return
	}
	s.finished = true
	end := Termination{Reason: ReasonFinished}
	if err != nil {
		end = Termination{Reason: ReasonFailed, Err: err}
	}
	s.broadcast()
	hooks := s.fire(end)
	s.mu.Unlock()

	runHooks(hooks, end)
}

// Terminate ends the stream from the consumer side. Buffered values are
// dropped, pending Next calls return, and the producer context is cancelled.
// Terminate is idempotent.
func (s *Stream[T]) Terminate() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.buf = nil
	s.broadcast()
	end := Termination{Reason: ReasonCancelled}
	var hooks []func(Termination)
	if !s.finished {
		hooks = s.fire(end)
	}
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	runHooks(hooks, end)
}

// OnTermination registers fn to run once the stream ends. If it has already
// ended, fn runs immediately on the calling goroutine.
func (s *Stream[T]) OnTermination(fn func(Termination)) {
	s.mu.Lock()
	if s.fired {
		end := s.end
		s.mu.Unlock()
		fn(end)
		return
	}
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Next returns the next value, waiting for one if necessary. It returns false
// when the stream has ended and its buffer is drained, when the stream is
// terminated, or when ctx is done.
func (s *Stream[T]) Next(ctx context.Context) (T, bool) {
	var zero T
	for {
		s.mu.Lock()
		if s.terminated {
			s.mu.Unlock()
			return zero, false
		}
		if len(s.buf) > 0 {
			v := s.buf[0]
			s.buf[0] = zero
			s.buf = s.buf[1:]
			s.mu.Unlock()
			return v, true
		}
		if s.finished {
			s.mu.Unlock()
			return zero, false
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return zero, false
		}
	}
}

// All returns an iterator over the stream's values. Breaking out of the loop
// terminates the stream.
func (s *Stream[T]) All(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			v, ok := s.Next(ctx)
			if !ok {
				return
			}
			if !yield(v) {
				s.Terminate()
				return
			}
		}
	}
}

// Err returns the producer error once the stream has failed, or nil.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end.Err
}

// Ended reports whether the stream has finished, failed or been terminated.
func (s *Stream[T]) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished || s.terminated
}

// cancelled reports whether the stream was terminated before it finished.
func (s *Stream[T]) cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated && !s.finished
}

// Buffered returns the number of values waiting to be consumed.
func (s *Stream[T]) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// broadcast wakes every goroutine waiting in Next. Callers hold s.mu.
func (s *Stream[T]) broadcast() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// fire records the end of the stream and hands back the hooks to run.
// Callers hold s.mu and run the hooks after unlocking.
func (s *Stream[T]) fire(end Termination) []func(Termination) {
	if s.fired {
		return nil
	}
	s.fired = true
	s.end = end
	hooks := s.hooks
	s.hooks = nil
	return hooks
}

func runHooks(hooks []func(Termination), end Termination) {
	for _, fn := range hooks {
		fn(end)
	}
}

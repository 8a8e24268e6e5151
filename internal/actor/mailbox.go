// Package actor provides a single-writer mailbox: a goroutine that runs posted
// closures one at a time, in the order they were posted.
//
// State owned by a mailbox must only be touched from closures running on it.
// Posting never blocks, so closures may post further work (to the same or another
// mailbox) without risk of deadlock. Call must not be used from inside a closure
// running on the same mailbox.
package actor

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned when work is submitted to a stopped mailbox.
var ErrStopped = errors.New("mailbox stopped")

// Mailbox serializes closures onto a single goroutine.
type Mailbox struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

// New creates a mailbox and starts its goroutine.
func New() *Mailbox {
	m := &Mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go m.run()
	return m
}

// Post enqueues fn. It returns false if the mailbox has been stopped, in which
// case fn is never run.
func (m *Mailbox) Post(fn func()) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the mailbox and waits for it to return.
func (m *Mailbox) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !m.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-m.done:
		// The loop drains the queue before exiting, so fn has run.
		<-finished
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops accepting work. Closures already queued still run. Stop is
// idempotent and does not wait; use Done to wait for the goroutine to exit.
func (m *Mailbox) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Done is closed once the mailbox goroutine has exited.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

func (m *Mailbox) run() {
	defer close(m.done)
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		stopped := m.stopped
		m.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		if len(batch) > 0 {
			continue
		}
		if stopped {
			return
		}
		<-m.wake
	}
}

package subscription

import (
	"sync"
	"time"
)

// lifecycle runs the connection-level timers of one socket: the
// connection_init deadline before initialisation and the keep-alive ticker
// after it. At most one of them is active.
type lifecycle struct {
	mu          sync.Mutex
	initTimer   *time.Timer
	settled     bool
	timedOut    bool
	stopped     bool
	stopTicking chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{}
}

// awaitInit calls onTimeout if settle is not called within timeout.
// A non-positive timeout disables the deadline.
func (l *lifecycle) awaitInit(timeout time.Duration, onTimeout func()) {
	if timeout <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.initTimer = time.AfterFunc(timeout, func() {
		l.mu.Lock()
		if l.settled || l.stopped {
			l.mu.Unlock()
			return
		}
		l.timedOut = true
		l.mu.Unlock()
		onTimeout()
	})
}

// settle cancels the init deadline. It returns false if the deadline already
// fired or the lifecycle was stopped.
func (l *lifecycle) settle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.timedOut || l.stopped {
		return false
	}
	l.settled = true
	if l.initTimer != nil {
		l.initTimer.Stop()
		l.initTimer = nil
	}
	return true
}

// keepAlive calls tick every interval until stop. A non-positive interval
// disables keep-alive.
func (l *lifecycle) keepAlive(interval time.Duration, tick func()) {
	if interval <= 0 {
		return
	}
	l.mu.Lock()
	if l.stopped || l.stopTicking != nil {
		l.mu.Unlock()
		return
	}
	done := make(chan struct{})
	l.stopTicking = done
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tick()
			case <-done:
				return
			}
		}
	}()
}

// stop cancels both timers. It is idempotent.
func (l *lifecycle) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	l.stopped = true
	if l.initTimer != nil {
		l.initTimer.Stop()
		l.initTimer = nil
	}
	if l.stopTicking != nil {
		close(l.stopTicking)
	}
}

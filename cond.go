package timermanager

import (
	"sync"
	"time"
)

// waitSignal is a deadline-aware substitute for sync.Cond: sync.Cond.Wait
// has no way to wake on an absolute deadline, and the wait protocol needs
// exactly that -- a worker sleeps until whichever comes first: the next
// timer deadline, or a Signal/Broadcast. Callers must hold the associated
// mutex around every call, exactly as with sync.Cond.
//
// Internally it keeps one ticket channel per parked waiter, mirroring the
// notify-list sync.Cond itself keeps internally, rather than sending on a
// single shared channel. That matters here: Signal/Broadcast are always
// issued while still holding the lock, so registering (and removing) a
// waiter's ticket under that same lock means a signal can never race
// ahead of a waiter that registered but hasn't reached its select yet.
type waitSignal struct {
	waiters []chan struct{}
}

// Signal wakes at most one waiter. A no-op if nobody is currently parked,
// matching POSIX condition-variable semantics.
func (w *waitSignal) Signal() {
	if len(w.waiters) == 0 {
		return
	}
	ch := w.waiters[0]
	w.waiters = w.waiters[1:]
	close(ch)
}

// Broadcast wakes every currently parked waiter.
func (w *waitSignal) Broadcast() {
	for _, ch := range w.waiters {
		close(ch)
	}
	w.waiters = nil
}

// Wait must be called with mu held. It parks the calling goroutine until
// Signal, Broadcast, or the given absolute deadline elapses, whichever
// comes first (a zero deadline means wait forever), then re-acquires mu
// before returning.
func (w *waitSignal) Wait(mu *sync.Mutex, deadline time.Time) {
	ch := make(chan struct{})
	w.waiters = append(w.waiters, ch)

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d < 0 {
			d = 0
		}
		timer = time.NewTimer(d)
		timeoutCh = timer.C
	}

	mu.Unlock()
	select {
	case <-ch:
	case <-timeoutCh:
	}
	if timer != nil {
		stopAndDrainTimer(timer)
	}
	mu.Lock()

	select {
	case <-ch:
		// Already closed by Signal/Broadcast; nothing to deregister.
	default:
		// Woke on the deadline instead: remove our ticket so a later
		// Signal doesn't try to close an abandoned channel.
		for i, c := range w.waiters {
			if c == ch {
				w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
				break
			}
		}
	}
}

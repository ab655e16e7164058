package timermanager

import "time"

// runWorker is the entrypoint for every timer worker goroutine: it owns
// one ExecContext for its whole lifetime (matching the original's "this
// thread's exec_ctx: we try to run things through to completion here
// since it's easy to spin up new threads"), runs the main loop, then
// performs cleanup and releases its exit token.
func (m *Manager) runWorker(handle *workerHandle) {
	ec := m.newExecCtx()
	m.workerLoop(ec)
	m.workerCleanup(handle)
	close(handle.done)
}

// workerLoop is the per-worker state machine (spec §4.2): probe the
// engine, either run expired timers or sleep until the next deadline or a
// kick.
func (m *Manager) workerLoop(ec ExecContext) {
	for {
		var next time.Time
		ec.InvalidateNow()

		switch m.engine.CheckTimers(ec, &next) {
		case CheckResultFired:
			m.runSomeTimers(ec)
			continue

		case CheckResultNotChecked:
			// Only happens under contention: another worker just
			// checked timers concurrently. That worker will either
			// become the timed waiter itself or signal one, so it's
			// safe to sleep indefinitely here and save a wakeup.
			m.tracef("timers not checked: expect another worker to")
			next = time.Time{}
			fallthrough

		case CheckResultCheckedAndEmpty:
			if !m.waitUntil(next) {
				return
			}
		}
	}
}

// runSomeTimers handles a CheckResultFired outcome (spec §4.3). The
// calling worker is currently counted in waiterCount; it steps out of
// that role to run callbacks and steps back in once done.
func (m *Manager) runSomeTimers(ec ExecContext) {
	m.mu.Lock()
	m.waiterCount--
	if m.waiterCount == 0 && m.threaded {
		// The pool only grows here; a burst of simultaneous expiries may
		// transiently spawn many workers, but it never shrinks except at
		// stop. A replacement is needed even when the timed waiter
		// itself is the one running timers.
		m.spawnWorkerLocked() // unlocks
	} else {
		if !m.hasTimedWaiter {
			m.tracef("kick untimed waiter")
			m.cvWait.Signal()
		}
		m.mu.Unlock()
	}

	m.tracef("flush exec_ctx")
	ec.Flush()

	m.mu.Lock()
	m.gcCompletedLocked()
	m.waiterCount++
	m.mu.Unlock()
}

// waitUntil is the wait protocol (spec §4.4). next is the candidate
// deadline from the last CheckTimers call (the zero time.Time for "no
// deadline"). It returns true if the worker should continue looping,
// false if it should exit.
func (m *Manager) waitUntil(next time.Time) bool {
	m.mu.Lock()
	if !m.threaded {
		m.mu.Unlock()
		return false
	}

	// If kicked is already true, a kick arrived before we got here, and
	// next may be stale (an earlier deadline may now exist). Skip the
	// sleep entirely and go straight to re-checking kicked below.
	if !m.kicked {
		// Initialize to a value that cannot equal timedWaiterGeneration,
		// so that "was this thread the timed waiter?" defaults to false.
		// Unsigned wraparound at generation 0 is intentional and
		// harmless at any realistic wakeup rate.
		myGeneration := m.timedWaiterGeneration - 1

		if !next.IsZero() {
			if !m.hasTimedWaiter || next.Before(m.timedWaiterDeadline) {
				// Strictly earlier deadlines win; equal deadlines do
				// not displace the incumbent, avoiding election churn.
				m.timedWaiterGeneration++
				myGeneration = m.timedWaiterGeneration
				m.hasTimedWaiter = true
				m.timedWaiterDeadline = next
				if m.Trace {
					m.tracef("sleep for %s", time.Until(next))
				}
			} else {
				// Another worker already holds an earlier-or-equal
				// deadline: wait forever instead.
				next = time.Time{}
			}
		}
		if m.Trace && next.IsZero() {
			m.tracef("sleep until kicked")
		}

		m.cvWait.Wait(&m.mu, next)

		wasTimed := myGeneration == m.timedWaiterGeneration
		m.tracef("wait ended: was_timed=%v kicked=%v", wasTimed, m.kicked)

		// If this was the timed waiter, it must release the role before
		// anything else happens: clear hasTimedWaiter and push the
		// deadline back out to infinity.
		if wasTimed {
			m.wakeups++
			m.hasTimedWaiter = false
			m.timedWaiterDeadline = time.Time{}
		}
	}

	// If this was a kick, consume it (and don't stop this worker yet).
	if m.kicked {
		m.engine.ConsumeKick()
		m.kicked = false
	}

	m.mu.Unlock()
	return true
}

// workerCleanup is the per-worker exit path (spec §4.5): drop out of
// waiterCount and threadCount, signal shutdown if this was the last
// worker, then deposit this worker's exit token for a future gc pass.
func (m *Manager) workerCleanup(handle *workerHandle) {
	m.mu.Lock()
	m.waiterCount--
	m.threadCount--
	if m.threadCount == 0 {
		m.cvShutdown.Signal()
	}
	m.completedThreads = append(m.completedThreads, handle)
	m.mu.Unlock()
	m.tracef("end timer worker")
}

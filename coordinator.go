package timermanager

import "time"

// workerHandle is a worker goroutine's exit token. A goroutine cannot join
// itself, so each worker deposits its handle into completedThreads on its
// way out; done is closed only once the goroutine has fully returned, and
// a later gcCompletedLocked call reaps it from a different goroutine.
type workerHandle struct {
	done chan struct{}
}

// start is the Coordinator's start operation: if threaded is already
// true, it's a no-op; otherwise it flips threaded and spawns the first
// worker.
func (m *Manager) start() {
	m.mu.Lock()
	if m.threaded {
		m.mu.Unlock()
		return
	}
	m.threaded = true
	m.spawnWorkerLocked() // unlocks
}

// spawnWorkerLocked must be called with m.mu held. It increments
// waiterCount and threadCount, releases m.mu, and starts a new worker
// goroutine. The pool only grows here -- it never shrinks except at stop
// -- and growth is intentionally unbounded: a burst of simultaneous
// expiries may transiently spawn many workers.
func (m *Manager) spawnWorkerLocked() {
	m.waiterCount++
	m.threadCount++
	m.mu.Unlock()

	m.tracef("spawn timer worker")
	handle := &workerHandle{done: make(chan struct{})}
	go m.runWorker(handle)
}

// stop is the Coordinator's stop operation: if threaded is already false,
// it's a no-op. Otherwise it clears threaded, broadcasts the wait signal
// so every sleeping worker re-evaluates, then blocks until every worker
// has drained and been joined. wakeups is reset once stop returns, since
// it is defined per threaded session.
func (m *Manager) stop() {
	m.mu.Lock()
	if !m.threaded {
		m.mu.Unlock()
		return
	}
	m.threaded = false
	m.tracef("stop timer workers: thread_count=%d", m.threadCount)
	m.cvWait.Broadcast()

	for m.threadCount > 0 {
		m.cvShutdown.Wait(&m.mu, time.Time{})
		m.tracef("thread_count=%d", m.threadCount)
		m.gcCompletedLocked()
	}
	m.wakeups = 0
	m.mu.Unlock()
}

// Kick notifies the manager that an externally registered timer has a
// deadline earlier than any previously known one. It invalidates any
// current timed waiter's deadline (by bumping the generation and clearing
// hasTimedWaiter) and releases exactly one waiter to re-probe the engine.
// TimerEngine implementations call this whenever Register (or its
// equivalent) produces an earlier deadline.
func (m *Manager) Kick() {
	m.mu.Lock()
	m.kicked = true
	m.hasTimedWaiter = false
	m.timedWaiterDeadline = time.Time{}
	m.timedWaiterGeneration++
	m.cvWait.Signal()
	m.mu.Unlock()
}

// gcCompletedLocked must be called with m.mu held. It detaches the
// completed-worker list, joins each handle outside the lock, then
// re-acquires the lock before returning. Joining while holding the lock
// would deadlock against a worker that still needs the lock to append
// itself to the list on its way out.
func (m *Manager) gcCompletedLocked() {
	if len(m.completedThreads) == 0 {
		return
	}
	toJoin := m.completedThreads
	m.completedThreads = nil

	m.mu.Unlock()
	for _, h := range toJoin {
		<-h.done
	}
	m.mu.Lock()
}

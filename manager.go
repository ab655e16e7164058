// Package timermanager implements the thread-pool/waiter coordination
// protocol that sits beside a timer engine: a small pool of worker
// goroutines collectively drive the engine, arranging for exactly one
// waiter to sleep until the next deadline while the rest stand by to
// absorb a burst of expiries without blocking that waiter.
//
// The timer engine itself (heap storage, bucketing, clock source) and the
// execution of timer callbacks are external collaborators, reached
// through the TimerEngine and ExecContext interfaces.
package timermanager

import (
	"log"
	"sync"
	"time"
)

// Manager is the coordinator described in the package doc: a
// mutex-protected record of flags and counters plus the worker pool it
// drives. It is an explicit, caller-owned object -- there is no
// package-level singleton or other ambient state.
type Manager struct {
	mu sync.Mutex

	engine     TimerEngine
	newExecCtx func() ExecContext

	logger *log.Logger
	// Trace enables the same category of diagnostic logging the original
	// gates behind a trace flag: spawns, kicks, sleep durations, wake
	// reasons. Off by default; never used on the steady-state hot path.
	Trace bool

	threaded      bool
	startThreaded bool

	threadCount int
	waiterCount int

	hasTimedWaiter bool
	// timedWaiterDeadline is only meaningful while hasTimedWaiter is true,
	// in which case it always holds a real, finite deadline; the zero
	// time.Time is used elsewhere (coordinator.go, worker.go) as a sentinel
	// meaning "no deadline, wait for a signal/broadcast instead."
	timedWaiterDeadline   time.Time
	timedWaiterGeneration uint64

	kicked bool

	completedThreads []*workerHandle

	wakeups uint64

	cvWait     waitSignal
	cvShutdown waitSignal
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithLogger overrides the logger used for trace output.
// Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTrace enables or disables diagnostic tracing at construction time.
// Equivalent to setting Manager.Trace directly afterwards.
func WithTrace(enabled bool) Option {
	return func(m *Manager) { m.Trace = enabled }
}

// WithStartThreaded controls whether New spawns the first worker
// immediately. It sets the same field as SetStartThreaded, but before New
// makes its spawn decision, which is the only place that field is read.
func WithStartThreaded(enabled bool) Option {
	return func(m *Manager) { m.startThreaded = enabled }
}

// New constructs a Manager bound to the given timer engine and
// ExecContext factory. Unless WithStartThreaded(false) is given, it
// spawns the first worker before returning.
func New(engine TimerEngine, newExecCtx func() ExecContext, opts ...Option) *Manager {
	m := &Manager{
		engine:        engine,
		newExecCtx:    newExecCtx,
		logger:        log.Default(),
		startThreaded: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.startThreaded {
		m.start()
	}
	return m
}

// Shutdown stops every worker and joins them. The Manager stays usable: a
// later SetThreading(true) starts a new pool. Shutdown is the same
// operation as SetThreading(false), so calling it when no pool is running
// is a no-op; a second Shutdown is not detected or asserted against.
func (m *Manager) Shutdown() {
	m.stop()
}

// SetThreading starts or stops the worker pool. Starting when already
// threaded, or stopping when not, is a no-op -- both operations are
// idempotent.
func (m *Manager) SetThreading(enabled bool) {
	if enabled {
		m.start()
	} else {
		m.stop()
	}
}

// SetStartThreaded records the start-threaded setting on this Manager.
// New reads that setting only while constructing the Manager, so a call
// made afterwards changes no threading state, and it does not affect any
// other Manager's construction.
func (m *Manager) SetStartThreaded(enabled bool) {
	m.mu.Lock()
	m.startThreaded = enabled
	m.mu.Unlock()
}

// Tick is a standalone, single-shot drive of the timer engine: construct
// a fresh ExecContext, check timers once, flush whatever fired, and
// return. It works whether or not a worker pool is currently running --
// both merely call into the (assumed thread-safe) timer engine.
func (m *Manager) Tick() {
	ec := m.newExecCtx()
	ec.InvalidateNow()
	var next time.Time
	m.engine.CheckTimers(ec, &next)
	ec.Flush()
}

// WakeupsTestOnly returns the number of times a timed waiter has woken up
// due to its own deadline elapsing, since the last SetThreading(false)
// (or since construction, if threading has never been stopped).
func (m *Manager) WakeupsTestOnly() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wakeups
}

func (m *Manager) tracef(format string, args ...any) {
	if !m.Trace {
		return
	}
	m.logger.Printf("timermanager: "+format, args...)
}

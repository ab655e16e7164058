package timermanager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aradilov/ringbuffer"
)

// scheduledEvent is a single test-injected timer registration.
type scheduledEvent struct {
	deadline time.Time
	cb       func()
}

// mockEngine is the scriptable engine behind the end-to-end scenarios in
// manager_test.go. Test goroutines register timers concurrently with
// workers calling CheckTimers; registration goes through a bounded,
// CAS-based MPMC queue (the same structure the teacher used for its idle-
// and free-worker registries) rather than a second mutex, and CheckTimers
// drains it before evaluating what's pending.
type mockEngine struct {
	mu      sync.Mutex
	pending []*scheduledEvent
	inbox   *ringbuffer.MPMC[*scheduledEvent]

	kickFn func()
	kicks  atomic.Int64

	forceNotChecked atomic.Bool
	checks          atomic.Int64
	consumedKicks   atomic.Int64
}

// mockEngineInboxCapacity bounds the number of registrations a scenario can
// have in flight (not yet drained by a CheckTimers call) at once. 1024 is
// comfortably above every scenario in this package (the largest,
// TestScenario_SimultaneousExpiries, enqueues 100); schedule panics rather
// than blocking or silently dropping if a future scenario needs more, so
// raise this constant instead of letting that panic surprise someone.
const mockEngineInboxCapacity = 1024

func newMockEngine() *mockEngine {
	return &mockEngine{inbox: ringbuffer.NewMPMC[*scheduledEvent](mockEngineInboxCapacity)}
}

func (e *mockEngine) bind(kick func()) { e.kickFn = kick }

// schedule injects a timer registration, safe to call from any goroutine.
// It panics if more than mockEngineInboxCapacity registrations are in
// flight at once -- a scenario that needs more should raise that constant
// rather than rely on this panicking silently turning into a flaky test
// failure.
func (e *mockEngine) schedule(deadline time.Time, cb func()) {
	if !e.inbox.Enqueue(&scheduledEvent{deadline: deadline, cb: cb}) {
		panic("mockEngine: inbox full (> mockEngineInboxCapacity registrations in flight)")
	}
}

// scheduleAndKick injects a registration and then kicks the manager,
// mirroring a TimerEngine that notices its new deadline is earlier than
// anything previously known.
func (e *mockEngine) scheduleAndKick(deadline time.Time, cb func()) {
	e.schedule(deadline, cb)
	e.kickNow()
}

func (e *mockEngine) kickNow() {
	e.kicks.Add(1)
	if e.kickFn != nil {
		e.kickFn()
	}
}

// forceOneNotChecked makes the next CheckTimers call return
// CheckResultNotChecked instead of consulting real state, to exercise the
// contention path deterministically.
func (e *mockEngine) forceOneNotChecked() {
	e.forceNotChecked.Store(true)
}

func (e *mockEngine) CheckTimers(ec ExecContext, next *time.Time) CheckResult {
	e.checks.Add(1)

	if e.forceNotChecked.CompareAndSwap(true, false) {
		return CheckResultNotChecked
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		ev, ok := e.inbox.Dequeue()
		if !ok {
			break
		}
		e.pending = append(e.pending, ev)
	}

	now := time.Now()
	var remaining []*scheduledEvent
	fired := false
	sink := ec.(*mockExecContext)
	for _, ev := range e.pending {
		if !ev.deadline.After(now) {
			sink.enqueue(ev.cb)
			fired = true
		} else {
			remaining = append(remaining, ev)
		}
	}
	e.pending = remaining

	if fired {
		return CheckResultFired
	}

	var earliest time.Time
	for _, ev := range e.pending {
		if earliest.IsZero() || ev.deadline.Before(earliest) {
			earliest = ev.deadline
		}
	}
	*next = earliest
	return CheckResultCheckedAndEmpty
}

func (e *mockEngine) ConsumeKick() {
	e.consumedKicks.Add(1)
}

// mockExecContext is the ExecContext companion to mockEngine.
type mockExecContext struct {
	mu      sync.Mutex
	pending []func()
	flushes atomic.Int64
}

func newMockExecContext() ExecContext {
	return &mockExecContext{}
}

func (c *mockExecContext) enqueue(cb func()) {
	c.mu.Lock()
	c.pending = append(c.pending, cb)
	c.mu.Unlock()
}

func (c *mockExecContext) Flush() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.flushes.Add(1)
	for _, cb := range pending {
		cb()
	}
}

func (c *mockExecContext) InvalidateNow() {}

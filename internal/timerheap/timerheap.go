// Package timerheap is a minimal, container/heap-ordered implementation
// of the timermanager.TimerEngine / timermanager.ExecContext contracts.
// It exists to give the manager a working default engine for integration
// tests and standalone use; its internals (heap storage, bucketing) are
// deliberately outside the scope of the coordination protocol itself.
package timerheap

import (
	"container/heap"
	"sync"
	"time"

	"github.com/aradilov/timermanager"
)

type entry struct {
	deadline time.Time
	cb       func()
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Engine is a heap-ordered TimerEngine. It is safe for concurrent use.
type Engine struct {
	mu   sync.Mutex
	heap entryHeap
	kick func()
}

// New constructs an empty Engine.
func New() *Engine {
	return &Engine{}
}

// Bind wires the engine to a manager's Kick method, so that registering a
// timer earlier than any pending one wakes the manager's current timed
// waiter. It must be called once, before Register is used concurrently.
func (e *Engine) Bind(kick func()) {
	e.mu.Lock()
	e.kick = kick
	e.mu.Unlock()
}

// Register schedules cb to run at deadline and returns a function that
// cancels it (a no-op if it has already fired or been cancelled).
func (e *Engine) Register(deadline time.Time, cb func()) (cancel func()) {
	e.mu.Lock()
	en := &entry{deadline: deadline, cb: cb}
	heap.Push(&e.heap, en)
	earliest := e.heap[0] == en
	kick := e.kick
	e.mu.Unlock()

	if earliest && kick != nil {
		kick()
	}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if en.index >= 0 && en.index < len(e.heap) && e.heap[en.index] == en {
			heap.Remove(&e.heap, en.index)
		}
	}
}

// CheckTimers implements timermanager.TimerEngine.
func (e *Engine) CheckTimers(ec timermanager.ExecContext, next *time.Time) timermanager.CheckResult {
	if !e.mu.TryLock() {
		return timermanager.CheckResultNotChecked
	}
	defer e.mu.Unlock()

	sink, ok := ec.(*ExecContext)
	if !ok {
		panic("timerheap: CheckTimers called with a foreign ExecContext")
	}

	now := time.Now()
	fired := false
	for len(e.heap) > 0 && !e.heap[0].deadline.After(now) {
		en := heap.Pop(&e.heap).(*entry)
		sink.enqueue(en.cb)
		fired = true
	}
	if fired {
		return timermanager.CheckResultFired
	}

	if len(e.heap) > 0 {
		*next = e.heap[0].deadline
	} else {
		*next = time.Time{}
	}
	return timermanager.CheckResultCheckedAndEmpty
}

// ConsumeKick implements timermanager.TimerEngine. The heap engine has no
// state of its own to reconcile on kick acknowledgement.
func (e *Engine) ConsumeKick() {}

// ExecContext implements timermanager.ExecContext, buffering callbacks
// enqueued by Engine.CheckTimers until Flush runs them.
type ExecContext struct {
	mu      sync.Mutex
	pending []func()
}

// NewExecContext constructs an empty ExecContext. Its signature matches
// the func() timermanager.ExecContext factory timermanager.New expects once
// wrapped, e.g. func() timermanager.ExecContext { return timerheap.NewExecContext() }.
func NewExecContext() *ExecContext {
	return &ExecContext{}
}

func (c *ExecContext) enqueue(cb func()) {
	c.mu.Lock()
	c.pending = append(c.pending, cb)
	c.mu.Unlock()
}

// Flush implements timermanager.ExecContext.
func (c *ExecContext) Flush() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, cb := range pending {
		cb()
	}
}

// InvalidateNow implements timermanager.ExecContext. The heap engine reads
// time.Now() fresh on every CheckTimers call, so there is no cached value
// to invalidate.
func (c *ExecContext) InvalidateNow() {}

// Package ksync is spec component H: the five blocking synchronization
// primitives every other subsystem (virtio completion, the block
// front-end's sync Read, producer/consumer work queues) is built on.
// All five share one shape, ported directly from
// original_source/src/kernel/scheduler.c's SchSemaphore*/SchMutex*/
// SchEvent*/SchQueue*/SchSpinlock* families: under IRQ-off, either the
// operation completes immediately, or the calling task is handed to
// sched.Suspend and woken later by WakeOne/WakeAll/WakeOneAndSwitch.
package ksync

import (
	"unsafe"

	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/kpanic"
	"github.com/dajoh/futura/internal/sched"
)

// Scheduler is the narrow slice of *sched.Scheduler every primitive
// here needs — kept as an interface so this package doesn't force an
// import of internal/sched's concrete type into tests that only want
// to fake the suspend/wake behavior.
type Scheduler interface {
	Current() *sched.Task
	Suspend(list *sched.WaitList, timeoutMs uint32) bool
	WakeOne(list *sched.WaitList) *sched.Task
	WakeAll(list *sched.WaitList)
	WakeOneAndSwitch(list *sched.WaitList)
}

// Semaphore is a counting semaphore bounded at max (spec.md §4.H).
type Semaphore struct {
	ops     cpu.Ops
	sink    kpanic.Sink
	sch     Scheduler
	waiters sched.WaitList
	count   int
	max     int
}

// NewSemaphore builds a Semaphore with the given initial count and
// upper bound.
func NewSemaphore(ops cpu.Ops, sink kpanic.Sink, sch Scheduler, initial, max int) *Semaphore {
	return &Semaphore{ops: ops, sink: sink, sch: sch, count: initial, max: max}
}

// Destroy asserts no task is still waiting, per spec.md §4.H's
// destruction invariant.
func (s *Semaphore) Destroy() {
	kpanic.Assert(s.ops, s.sink, s.waiters.Empty(), "ksync.Semaphore.Destroy: waiters still attached")
}

// Wait blocks until count can be decremented.
func (s *Semaphore) Wait() { s.TryWait(sched.Infinite) }

// TryWait decrements count; if the result went negative, the caller
// blocks (honoring timeoutMs — 0 means fail immediately instead of
// blocking). Returns false on an immediate failure or a timeout.
func (s *Semaphore) TryWait(timeoutMs uint32) bool {
	wasEnabled := cpu.SaveFlagsAndDisable(s.ops)

	s.count--
	if s.count < 0 {
		if timeoutMs == 0 {
			s.count++
			cpu.RestoreFlags(s.ops, wasEnabled)
			return false
		}
		ok := s.sch.Suspend(&s.waiters, timeoutMs)
		return ok
	}
	cpu.RestoreFlags(s.ops, wasEnabled)
	return true
}

// Signal increments count by up to n, waking one blocked waiter per
// increment that crossed zero from below.
func (s *Semaphore) Signal(n int) {
	wasEnabled := cpu.SaveFlagsAndDisable(s.ops)
	defer cpu.RestoreFlags(s.ops, wasEnabled)

	for n > 0 && s.count != s.max {
		wasNegative := s.count < 0
		s.count++
		n--
		if wasNegative {
			s.sch.WakeOne(&s.waiters)
		}
	}
}

// Mutex is a non-recursive lock (spec.md §4.H).
type Mutex struct {
	ops     cpu.Ops
	sink    kpanic.Sink
	sch     Scheduler
	waiters sched.WaitList
	held    bool
}

// NewMutex builds an unheld Mutex.
func NewMutex(ops cpu.Ops, sink kpanic.Sink, sch Scheduler) *Mutex {
	return &Mutex{ops: ops, sink: sink, sch: sch}
}

// Destroy asserts no task is still waiting.
func (m *Mutex) Destroy() {
	kpanic.Assert(m.ops, m.sink, m.waiters.Empty(), "ksync.Mutex.Destroy: waiters still attached")
}

// Lock blocks until the mutex can be acquired.
func (m *Mutex) Lock() { m.TryLock(sched.Infinite) }

// TryLock acquires the mutex, blocking (subject to timeoutMs) while
// held.
func (m *Mutex) TryLock(timeoutMs uint32) bool {
	wasEnabled := cpu.SaveFlagsAndDisable(m.ops)

	if m.held {
		if timeoutMs == 0 {
			cpu.RestoreFlags(m.ops, wasEnabled)
			return false
		}
		return m.sch.Suspend(&m.waiters, timeoutMs)
	}
	m.held = true
	cpu.RestoreFlags(m.ops, wasEnabled)
	return true
}

// Unlock releases the mutex. If a task is waiting, ownership transfers
// directly to it (held stays true) and execution switches straight to
// the waiter, mirroring SchMutexUnlock; otherwise held is cleared.
// Unlocking a mutex that isn't held is fatal (spec.md §4.H).
func (m *Mutex) Unlock() {
	wasEnabled := cpu.SaveFlagsAndDisable(m.ops)
	defer cpu.RestoreFlags(m.ops, wasEnabled)

	kpanic.Assert(m.ops, m.sink, m.held, "ksync.Mutex.Unlock: not held")

	if !m.waiters.Empty() {
		m.sch.WakeOneAndSwitch(&m.waiters)
		return
	}
	m.held = false
}

// Event is a level-triggered, sticky, broadcast wake primitive
// (spec.md §4.H) with no reset primitive exposed.
type Event struct {
	ops      cpu.Ops
	sink     kpanic.Sink
	sch      Scheduler
	waiters  sched.WaitList
	signaled bool
}

// NewEvent builds an unsignaled Event.
func NewEvent(ops cpu.Ops, sink kpanic.Sink, sch Scheduler) *Event {
	return &Event{ops: ops, sink: sink, sch: sch}
}

// Destroy asserts no task is still waiting.
func (e *Event) Destroy() {
	kpanic.Assert(e.ops, e.sink, e.waiters.Empty(), "ksync.Event.Destroy: waiters still attached")
}

// Wait blocks until the event is signaled.
func (e *Event) Wait() { e.TryWait(sched.Infinite) }

// TryWait blocks (subject to timeoutMs) while unsignaled.
func (e *Event) TryWait(timeoutMs uint32) bool {
	wasEnabled := cpu.SaveFlagsAndDisable(e.ops)

	if !e.signaled {
		if timeoutMs == 0 {
			cpu.RestoreFlags(e.ops, wasEnabled)
			return false
		}
		return e.sch.Suspend(&e.waiters, timeoutMs)
	}
	cpu.RestoreFlags(e.ops, wasEnabled)
	return true
}

// Signal sets signaled and wakes every current waiter. There is no
// unsignal/reset — spec.md §4.H is explicit that none is exposed.
func (e *Event) Signal() {
	wasEnabled := cpu.SaveFlagsAndDisable(e.ops)
	defer cpu.RestoreFlags(e.ops, wasEnabled)

	e.signaled = true
	e.sch.WakeAll(&e.waiters)
}

// Queue is a blocking producer/consumer queue of opaque entries
// (spec.md §4.H); entries are void* payloads, matching the C API.
type Queue struct {
	ops     cpu.Ops
	sink    kpanic.Sink
	sch     Scheduler
	waiters sched.WaitList
	entries []unsafe.Pointer
}

// NewQueue builds an empty Queue.
func NewQueue(ops cpu.Ops, sink kpanic.Sink, sch Scheduler) *Queue {
	return &Queue{ops: ops, sink: sink, sch: sch}
}

// Destroy asserts the queue is empty and no task is still waiting.
func (q *Queue) Destroy() {
	kpanic.Assert(q.ops, q.sink, len(q.entries) == 0, "ksync.Queue.Destroy: entries still queued")
	kpanic.Assert(q.ops, q.sink, q.waiters.Empty(), "ksync.Queue.Destroy: waiters still attached")
}

// Push appends entry to the queue, or, if a task is already waiting,
// hands entry directly to the oldest waiter and wakes it — entries
// bypass the backing list entirely when a waiter is ready (spec.md
// §4.H).
func (q *Queue) Push(entry unsafe.Pointer) {
	wasEnabled := cpu.SaveFlagsAndDisable(q.ops)
	defer cpu.RestoreFlags(q.ops, wasEnabled)

	if q.waiters.Empty() {
		q.entries = append(q.entries, entry)
		return
	}
	waiter := q.sch.WakeOne(&q.waiters)
	waiter.SetWaitReturn(entry)
}

// Pop returns the oldest entry, blocking until one is available.
func (q *Queue) Pop() unsafe.Pointer {
	v, _ := q.TryPop(sched.Infinite)
	return v
}

// TryPop returns the oldest entry if one is queued, otherwise blocks
// (subject to timeoutMs); the bool is false on timeout.
func (q *Queue) TryPop(timeoutMs uint32) (unsafe.Pointer, bool) {
	wasEnabled := cpu.SaveFlagsAndDisable(q.ops)

	if len(q.entries) > 0 {
		entry := q.entries[0]
		q.entries = q.entries[1:]
		cpu.RestoreFlags(q.ops, wasEnabled)
		return entry, true
	}
	if timeoutMs == 0 {
		cpu.RestoreFlags(q.ops, wasEnabled)
		return nil, false
	}
	current := q.sch.Current()
	ok := q.sch.Suspend(&q.waiters, timeoutMs)
	if !ok {
		return nil, false
	}
	return current.WaitReturn(), true
}

// Spinlock is a simple busy-wait lock that never suspends (spec.md
// §4.H); intended for critical sections too short to justify a context
// switch, or for code that runs before the scheduler exists.
type Spinlock struct {
	ops  cpu.Ops
	sink kpanic.Sink
	held bool
}

// NewSpinlock builds an unheld Spinlock.
func NewSpinlock(ops cpu.Ops, sink kpanic.Sink) *Spinlock {
	return &Spinlock{ops: ops, sink: sink}
}

// Destroy asserts the lock isn't held.
func (sp *Spinlock) Destroy() {
	kpanic.Assert(sp.ops, sp.sink, !sp.held, "ksync.Spinlock.Destroy: held")
}

// Lock busy-waits until the lock is free, then takes it.
func (sp *Spinlock) Lock() {
	for sp.held {
		sp.ops.Nop()
	}
	sp.held = true
}

// Unlock releases the lock. Unlocking when not held is fatal.
func (sp *Spinlock) Unlock() {
	kpanic.Assert(sp.ops, sp.sink, sp.held, "ksync.Spinlock.Unlock: not held")
	sp.held = false
}

// Package sched is the cooperative scheduler (spec component G): a
// circular run list, a sorted sleep list, and the FIFO wait lists the
// internal/ksync primitives suspend onto. Grounded directly on
// original_source/src/kernel/scheduler.c — SchRunListInsert/Remove,
// SchSleepListInsert/Remove/Pop, SchWaitListAppend/Remove/Pop,
// SchYield, SchSleep, SchCreateTask's stack-fill block, and the
// SchTaskFnWrapper exit path — translated into Go method receivers on
// a single Scheduler instead of the original's file-scope globals.
package sched

import (
	"unsafe"

	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/klog"
	"github.com/dajoh/futura/internal/kpanic"
)

const pageSize = 4096

// defaultStackSize is SchCreateTask's "stackSize == 0" fallback: 1MiB.
const defaultStackSize = 1 << 20

// Infinite is SCH_INFINITE: a timeout that never expires.
const Infinite = 0xFFFFFFFF

// ticksPerSecond is the APIC timer rate spec.md §4.G fixes at 100 Hz;
// Sleep/Suspend timeouts are expressed in that tick's units.
const ticksPerSecond = 100

// Status is a Task's scheduling state.
type Status int

const (
	StatusRunning Status = iota
	StatusSleeping
	StatusWaiting
	StatusDead
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSleeping:
		return "sleeping"
	case StatusWaiting:
		return "waiting"
	case StatusDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Fn is a task's entry point, mirroring the C API's uint32_t(*)(void*).
type Fn func(ctx unsafe.Pointer) uint32

// Task is one schedulable unit of execution: its own kernel stack plus
// the run/sleep/wait/dead list linkage SchTask packs into one struct.
type Task struct {
	ID     uint32
	Name   string
	status Status
	esp    uintptr

	next *Task // run list (circular, threaded through Scheduler.kernel)

	sleepNext  *Task
	sleepUntil uint64

	waitNext     *Task
	waitList     *WaitList
	waitTimedOut bool
	waitReturn   unsafe.Pointer // Queue's handoff slot (spec.md §4.H)

	deadNext *Task

	stackVirt  uintptr
	stackPages uint32

	fn  Fn
	ctx unsafe.Pointer
}

// Status reports the task's current scheduling state.
func (t *Task) Status() Status { return t.status }

// WaitReturn is the payload a Queue hands a waiter directly (spec.md
// §4.H "entries bypass the list when a waiter is ready").
func (t *Task) WaitReturn() unsafe.Pointer { return t.waitReturn }

// SetWaitReturn sets the payload WaitReturn will report; internal/ksync's
// Queue.Push calls this right before waking the waiter.
func (t *Task) SetWaitReturn(v unsafe.Pointer) { t.waitReturn = v }

// WaitList is a FIFO list of tasks blocked on one synchronization
// primitive; internal/ksync embeds one per primitive and only ever
// touches it through Scheduler.Suspend/WakeOne/WakeAll.
type WaitList struct{ first *Task }

// Empty reports whether any task is waiting — the invariant every
// ksync Destroy asserts before freeing its primitive.
func (l *WaitList) Empty() bool { return l.first == nil }

func (l *WaitList) append(t *Task) {
	t.waitList = l
	pp := &l.first
	for *pp != nil {
		pp = &(*pp).waitNext
	}
	*pp = t
}

func (l *WaitList) remove(t *Task, timedOut bool) {
	pp := &l.first
	for *pp != nil {
		if *pp == t {
			*pp = t.waitNext
			break
		}
		pp = &(*pp).waitNext
	}
	t.waitNext = nil
	t.waitList = nil
	t.waitTimedOut = timedOut
}

func (l *WaitList) pop(timedOut bool) *Task {
	t := l.first
	l.first = t.waitNext
	t.waitNext = nil
	t.waitList = nil
	t.waitTimedOut = timedOut
	return t
}

// StackAllocator provides and reclaims the backing memory for task
// stacks, and lets CreateTask seed a fresh stack's InitialFrame;
// production wires this to a pmm+vmm pair (alloc physical frames, map
// them, write through the mapping), tests use a fake that hands
// out real Go-heap buffers.
type StackAllocator interface {
	AllocStack(pages uint32) uintptr
	FreeStack(virt uintptr)
	WriteStack(addr uintptr, b []byte)
}

// TickSource is the monotonic tick counter Sleep/Suspend timeouts are
// measured against; internal/trap's Dispatcher satisfies this
// directly via its Ticks method.
type TickSource interface {
	Ticks() uint64
}

// Logger is the diagnostic sink for task start/finish/reap messages
// (SchTaskFnWrapper's TmPrintfVrb calls); *klog.Logger satisfies it.
type Logger interface {
	Print(s string)
}

// Scheduler owns the kernel task, the run/sleep/dead lists, and the
// task-id counter. One instance serves the whole kernel.
type Scheduler struct {
	ops    cpu.Ops
	sink   kpanic.Sink
	log    Logger
	stacks StackAllocator
	sw     Switcher
	ticks  TickSource

	kernel    Task
	current   *Task
	sleepHead *Task
	deadHead  *Task
	nextID    uint32
}

// New builds a Scheduler whose initial (and only, until CreateTask is
// called) task is the kernel task itself, already running.
func New(ops cpu.Ops, sink kpanic.Sink, log Logger, stacks StackAllocator, sw Switcher, ticks TickSource, kernelName string) *Scheduler {
	s := &Scheduler{ops: ops, sink: sink, log: log, stacks: stacks, sw: sw, ticks: ticks, nextID: 1}
	s.kernel.ID = s.nextID
	s.nextID++
	s.kernel.Name = kernelName
	s.kernel.status = StatusRunning
	s.kernel.next = &s.kernel
	s.current = &s.kernel
	return s
}

// Current returns the running task.
func (s *Scheduler) Current() *Task { return s.current }

func msToTicks(ms uint32) uint64 {
	return (uint64(ms)*ticksPerSecond + 999) / 1000
}

func (s *Scheduler) runListInsert(t *Task) {
	t.next = s.kernel.next
	s.kernel.next = t
}

func (s *Scheduler) runListRemove(t *Task) *Task {
	next := t.next
	prev := &s.kernel
	for prev.next != t {
		prev = prev.next
	}
	prev.next = next
	t.next = nil
	return next
}

func (s *Scheduler) sleepListInsert(t *Task, sleepUntil uint64) {
	t.sleepUntil = sleepUntil

	if s.sleepHead == nil || sleepUntil < s.sleepHead.sleepUntil {
		t.sleepNext = s.sleepHead
		s.sleepHead = t
		return
	}
	entry := s.sleepHead
	for entry.sleepNext != nil && entry.sleepNext.sleepUntil <= sleepUntil {
		entry = entry.sleepNext
	}
	t.sleepNext = entry.sleepNext
	entry.sleepNext = t
}

func (s *Scheduler) sleepListRemove(t *Task) {
	if s.sleepHead == t {
		s.sleepHead = t.sleepNext
		t.sleepNext = nil
		t.sleepUntil = 0
		return
	}
	entry := s.sleepHead
	for entry != nil && entry.sleepNext != t {
		entry = entry.sleepNext
	}
	if entry != nil {
		entry.sleepNext = t.sleepNext
	}
	t.sleepNext = nil
	t.sleepUntil = 0
}

func (s *Scheduler) sleepListPop() *Task {
	t := s.sleepHead
	s.sleepHead = t.sleepNext
	t.sleepNext = nil
	t.sleepUntil = 0
	return t
}

func (s *Scheduler) switchTo(next *Task) {
	prev := s.current
	s.current = next
	s.sw.SwitchTo(&prev.esp, next.esp)
}

// CreateTask allocates a stack, seeds its InitialFrame, and links the
// new task at the head of the run list (spec.md §4.G / §9). A stack
// allocation failure is fatal — there is no graceful OOM path for task
// creation.
func (s *Scheduler) CreateTask(name string, stackSize uint32, fn Fn, ctx unsafe.Pointer) *Task {
	requested := stackSize
	if requested == 0 {
		requested = defaultStackSize
	}
	pages := (requested + pageSize - 1) / pageSize

	virt := s.stacks.AllocStack(pages)
	kpanic.Assert(s.ops, s.sink, virt != 0, "sched.CreateTask: stack allocation failed")

	task := &Task{
		ID:         s.nextID,
		Name:       name,
		status:     StatusRunning,
		stackVirt:  virt,
		stackPages: pages,
		fn:         fn,
		ctx:        ctx,
	}
	s.nextID++

	stackTop := virt + uintptr(requested) - 32
	frame := newInitialFrame(fn, ctx)
	s.stacks.WriteStack(stackTop, frame.Bytes())
	task.esp = stackTop

	wasEnabled := cpu.SaveFlagsAndDisable(s.ops)
	s.runListInsert(task)
	cpu.RestoreFlags(s.ops, wasEnabled)

	return task
}

// Retire is SchTaskFnWrapper's post-return bookkeeping: unlink task
// from the run list, mark it dead, push it onto the dead list for a
// later Yield to reap, and switch away. A production trampoline calls
// this once fn(ctx) returns; nothing in this module calls it directly,
// since there is no real execution of task bodies here.
func (s *Scheduler) Retire(task *Task) {
	wasEnabled := cpu.SaveFlagsAndDisable(s.ops)
	defer cpu.RestoreFlags(s.ops, wasEnabled)

	next := s.runListRemove(task)
	task.status = StatusDead
	task.deadNext = s.deadHead
	s.deadHead = task
	s.switchTo(next)
}

// Yield runs the four-step algorithm spec.md §4.G describes: reap dead
// peers, requeue expired sleepers, and switch to the next run-list
// task if one exists.
func (s *Scheduler) Yield() {
	wasEnabled := cpu.SaveFlagsAndDisable(s.ops)
	defer cpu.RestoreFlags(s.ops, wasEnabled)

	for s.deadHead != nil && s.deadHead != s.current {
		dead := s.deadHead
		s.deadHead = dead.deadNext
		dead.deadNext = nil
		if s.log != nil {
			s.log.Print("task #" + klog.Hex32(dead.ID) + " - " + dead.Name + " reaped, " + klog.Hex32(dead.stackPages) + " stack pages freed\r\n")
		}
		s.stacks.FreeStack(dead.stackVirt)
	}

	now := s.ticks.Ticks()
	for s.sleepHead != nil && s.sleepHead.sleepUntil <= now {
		sleeper := s.sleepListPop()
		if sleeper.waitList != nil {
			sleeper.waitList.remove(sleeper, true)
		}
		s.runListInsert(sleeper)
		sleeper.status = StatusRunning
	}

	if s.current.next != s.current {
		s.switchTo(s.current.next)
	}
}

// Sleep parks the current task off the run list for at least ms
// milliseconds. Sleep(0) degrades to Yield (spec.md §4.G).
func (s *Scheduler) Sleep(ms uint32) {
	if ms == 0 {
		s.Yield()
		return
	}
	wasEnabled := cpu.SaveFlagsAndDisable(s.ops)
	defer cpu.RestoreFlags(s.ops, wasEnabled)

	s.current.status = StatusSleeping
	s.sleepListInsert(s.current, s.ticks.Ticks()+msToTicks(ms))
	next := s.runListRemove(s.current)
	s.switchTo(next)
}

// HasCurrentTask reports whether a non-kernel task is currently
// running — the condition internal/trap's APIC timer vector checks
// before invoking Yield (spec.md §4.F/§4.G).
func (s *Scheduler) HasCurrentTask() bool { return s.current != &s.kernel }

// Suspend moves the calling task onto list — and, if timeoutMs is
// finite, onto the sleep list too — then switches away. The caller
// (a ksync primitive) must already be inside its own IRQ-disabled
// critical section; Suspend never disables interrupts itself, mirroring
// every SchXxxTryWait in the original, which only ever calls
// IntDisableIRQs once per attempt. Returns true if later woken
// normally, false if woken by timeout.
func (s *Scheduler) Suspend(list *WaitList, timeoutMs uint32) bool {
	task := s.current
	task.status = StatusWaiting
	if timeoutMs != Infinite {
		s.sleepListInsert(task, s.ticks.Ticks()+msToTicks(timeoutMs))
	}
	list.append(task)
	next := s.runListRemove(task)
	s.switchTo(next)

	timedOut := task.waitTimedOut
	task.waitTimedOut = false
	return !timedOut
}

// WakeOne pops the oldest waiter off list, requeues it onto the run
// list, and returns it (nil if list was empty) — the primitive being
// signaled uses the return value to set any handoff payload (Queue's
// wait_return) before the task next runs.
func (s *Scheduler) WakeOne(list *WaitList) *Task {
	if list.first == nil {
		return nil
	}
	t := list.pop(false)
	t.status = StatusRunning
	if t.sleepUntil != 0 {
		s.sleepListRemove(t)
	}
	s.runListInsert(t)
	return t
}

// WakeAll wakes every waiter on list (Event's broadcast semantics).
func (s *Scheduler) WakeAll(list *WaitList) {
	for list.first != nil {
		s.WakeOne(list)
	}
}

// WakeOneAndSwitch wakes the head waiter and immediately switches
// execution to it, mirroring SchMutexUnlock's ownership-transfer path
// (hand off to the waiter directly instead of leaving it for the next
// Yield to discover).
func (s *Scheduler) WakeOneAndSwitch(list *WaitList) {
	t := s.WakeOne(list)
	if t == nil {
		return
	}
	s.switchTo(t)
}

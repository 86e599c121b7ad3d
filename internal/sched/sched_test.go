package sched

import (
	"testing"
	"unsafe"

	"github.com/dajoh/futura/internal/cpu"
)

type fakeTicks struct{ t uint64 }

func (f *fakeTicks) Ticks() uint64 { return f.t }

type fakeLog struct{ lines []string }

func (f *fakeLog) Print(s string) { f.lines = append(f.lines, s) }

func newTestScheduler(t *testing.T) (*Scheduler, *cpu.Fake, *FakeSwitcher, *FakeStackAllocator, *fakeTicks, *fakeLog) {
	t.Helper()
	ops := cpu.NewFake()
	sw := NewFakeSwitcher()
	stacks := NewFakeStackAllocator()
	ticks := &fakeTicks{}
	log := &fakeLog{}
	s := New(ops, nil, log, stacks, sw, ticks, "kernel")
	return s, ops, sw, stacks, ticks, log
}

func noopFn(ctx unsafe.Pointer) uint32 { return 0 }

func TestCreateTaskInsertsAtRunListHead(t *testing.T) {
	s, _, _, _, _, _ := newTestScheduler(t)

	a := s.CreateTask("a", 0, noopFn, nil)
	b := s.CreateTask("b", 0, noopFn, nil)

	if s.kernel.next != b {
		t.Fatalf("expected b at run list head, got %v", s.kernel.next.Name)
	}
	if b.next != a {
		t.Fatalf("expected a after b, got %v", b.next.Name)
	}
	if a.next != &s.kernel {
		t.Fatal("expected run list to close back to kernel task")
	}
}

func TestYieldRoundRobinsToNextTask(t *testing.T) {
	s, _, sw, _, _, _ := newTestScheduler(t)
	s.CreateTask("a", 0, noopFn, nil)

	s.Yield()

	if len(sw.Switches) != 1 {
		t.Fatalf("expected one switch, got %d", len(sw.Switches))
	}
	if s.current.Name != "a" {
		t.Fatalf("expected current = a, got %s", s.current.Name)
	}
}

func TestYieldIsNoopSwitchWithOnlyKernelTask(t *testing.T) {
	s, _, sw, _, _, _ := newTestScheduler(t)

	s.Yield()

	if len(sw.Switches) != 0 {
		t.Fatal("expected no switch when the kernel task is the only task")
	}
}

func TestYieldReapsDeadTasksExceptCurrent(t *testing.T) {
	s, _, _, stacks, _, log := newTestScheduler(t)
	dead := s.CreateTask("victim", 4096, noopFn, nil)

	// Simulate the task having already run to completion and been
	// retired by a prior task-wrapper exit.
	s.runListRemove(dead)
	dead.status = StatusDead
	dead.deadNext = s.deadHead
	s.deadHead = dead

	s.Yield()

	if s.deadHead != nil {
		t.Fatal("expected dead list drained")
	}
	if len(stacks.Freed) != 1 || stacks.Freed[0] != dead.stackVirt {
		t.Fatalf("expected dead task's stack freed, got %v", stacks.Freed)
	}
	if len(log.lines) != 1 {
		t.Fatalf("expected one reap log line, got %v", log.lines)
	}
}

func TestSleepRemovesFromRunListAndInsertsSortedIntoSleepList(t *testing.T) {
	s, _, _, _, ticks, _ := newTestScheduler(t)
	a := s.CreateTask("a", 0, noopFn, nil)
	ticks.t = 100

	s.current = a // pretend a is running
	s.Sleep(50)   // 50ms @ 100Hz = 5 ticks, wake at 105

	if a.status != StatusSleeping {
		t.Fatalf("expected sleeping status, got %v", a.status)
	}
	if a.sleepUntil != 105 {
		t.Fatalf("sleepUntil = %d, want 105", a.sleepUntil)
	}
	if s.sleepHead != a {
		t.Fatal("expected a at the head of the sleep list")
	}
	// a must no longer be on the run list.
	for cur := s.kernel.next; cur != &s.kernel; cur = cur.next {
		if cur == a {
			t.Fatal("expected a removed from run list while sleeping")
		}
	}
}

func TestYieldRequeuesExpiredSleepers(t *testing.T) {
	s, _, _, _, ticks, _ := newTestScheduler(t)
	a := s.CreateTask("a", 0, noopFn, nil)
	s.current = a
	ticks.t = 0
	s.Sleep(10) // wakes at tick 1

	ticks.t = 5
	s.Yield()

	if a.status != StatusRunning {
		t.Fatalf("expected a requeued as running, got %v", a.status)
	}
	if s.sleepHead != nil {
		t.Fatal("expected sleep list empty after requeue")
	}
}

func TestSuspendThenWakeOneMarksTaskRunnable(t *testing.T) {
	s, _, _, _, _, _ := newTestScheduler(t)
	a := s.CreateTask("a", 0, noopFn, nil)
	s.current = a
	var list WaitList

	s.Suspend(&list, Infinite)

	if a.status != StatusWaiting {
		t.Fatalf("expected waiting status, got %v", a.status)
	}
	if list.first != a {
		t.Fatal("expected a appended to the wait list")
	}

	woken := s.WakeOne(&list)
	if woken != a {
		t.Fatal("expected WakeOne to return a")
	}
	if a.status != StatusRunning {
		t.Fatalf("expected running after WakeOne, got %v", a.status)
	}
	if !list.Empty() {
		t.Fatal("expected wait list empty after WakeOne")
	}
}

func TestWakeAllWakesEveryWaiter(t *testing.T) {
	s, _, _, _, _, _ := newTestScheduler(t)
	a := s.CreateTask("a", 0, noopFn, nil)
	b := s.CreateTask("b", 0, noopFn, nil)
	var list WaitList

	s.current = a
	s.Suspend(&list, Infinite)
	s.current = b
	s.Suspend(&list, Infinite)

	s.WakeAll(&list)

	if !list.Empty() {
		t.Fatal("expected wait list empty after WakeAll")
	}
	if a.status != StatusRunning || b.status != StatusRunning {
		t.Fatal("expected both waiters running after WakeAll")
	}
}

func TestWakeOneAndSwitchSwitchesDirectlyToWaiter(t *testing.T) {
	s, _, sw, _, _, _ := newTestScheduler(t)
	a := s.CreateTask("a", 0, noopFn, nil)
	s.current = a
	var list WaitList
	s.Suspend(&list, Infinite)

	switchesBefore := len(sw.Switches)
	s.WakeOneAndSwitch(&list)

	if len(sw.Switches) != switchesBefore+1 {
		t.Fatal("expected WakeOneAndSwitch to perform a switch")
	}
	if s.current != a {
		t.Fatalf("expected current = a after hand-off, got %s", s.current.Name)
	}
}

func TestHasCurrentTask(t *testing.T) {
	s, _, _, _, _, _ := newTestScheduler(t)
	if s.HasCurrentTask() {
		t.Fatal("expected no current task while the kernel task is running")
	}
	a := s.CreateTask("a", 0, noopFn, nil)
	s.current = a
	if !s.HasCurrentTask() {
		t.Fatal("expected HasCurrentTask once a non-kernel task is current")
	}
}

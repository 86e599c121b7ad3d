package trap

import (
	"testing"

	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/intctl"
	"github.com/dajoh/futura/internal/kpanic"
)

type fakePIC struct{ eois []uint8 }

func (f *fakePIC) SendEOI(irq uint8) { f.eois = append(f.eois, irq) }

type fakeAPIC struct{ count int }

func (f *fakeAPIC) SendEOI() { f.count++ }

type fakeSched struct {
	has    bool
	yields int
}

func (f *fakeSched) HasCurrentTask() bool { return f.has }
func (f *fakeSched) Yield()               { f.yields++ }

type fakeMapper struct {
	handle bool
	got    []uintptr
}

func (f *fakeMapper) MapDeferred(virt uintptr) bool {
	f.got = append(f.got, virt)
	return f.handle
}

type fakeLog struct{ lines []string }

func (f *fakeLog) Print(s string) { f.lines = append(f.lines, s) }

type fakeSink struct{ headers []string }

func (f *fakeSink) Fatal(header string, detail string) { f.headers = append(f.headers, header) }

func newTestDispatcher(t *testing.T) (*Dispatcher, *cpu.Fake, *fakePIC, *fakeAPIC, *fakeSched, *fakeMapper, *fakeLog) {
	t.Helper()
	ops := cpu.NewFake()
	sink := &fakeSink{}
	pic := &fakePIC{}
	apic := &fakeAPIC{}
	sched := &fakeSched{}
	mapper := &fakeMapper{}
	log := &fakeLog{}
	kpanic.SetTestHook(func(header, detail string) {})
	t.Cleanup(func() { kpanic.SetTestHook(nil) })
	d := New(ops, sink, log, pic, apic, sched, mapper)
	return d, ops, pic, apic, sched, mapper, log
}

func TestHandlePICTimerSendsEOIAndTicks(t *testing.T) {
	d, _, pic, _, _, _, _ := newTestDispatcher(t)

	d.Handle(&Frame{Vector: PICTimerVector})

	if len(pic.eois) != 1 || pic.eois[0] != 0 {
		t.Fatalf("expected EOI(0), got %v", pic.eois)
	}
	if d.Ticks() != 1 {
		t.Fatalf("Ticks() = %d, want 1", d.Ticks())
	}
}

func TestHandlePICKeyboardDrainsScancodePort(t *testing.T) {
	d, ops, pic, _, _, _, _ := newTestDispatcher(t)
	ops.Ports[keyboardDataPort] = 0x42

	d.Handle(&Frame{Vector: PICKeyboardVector})

	if len(pic.eois) != 1 || pic.eois[0] != 1 {
		t.Fatalf("expected EOI(1), got %v", pic.eois)
	}
}

func TestHandleAPICModeSendsAPICEOIInsteadOfPIC(t *testing.T) {
	d, _, pic, apic, _, _, _ := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)

	d.Handle(&Frame{Vector: intctl.APICTimerVector})

	if len(pic.eois) != 0 {
		t.Fatal("PIC must not receive EOI in APIC mode")
	}
	if apic.count != 1 {
		t.Fatalf("apic EOI count = %d, want 1", apic.count)
	}
}

func TestRegisterAndUnregisterByIdentity(t *testing.T) {
	d, _, _, apic, _, _, _ := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)

	var calls int
	fn := func(frame *Frame, data any) { calls++ }

	d.Register(0x50, fn, nil)
	d.Handle(&Frame{Vector: 0x50})
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	d.Unregister(0x50, fn)
	d.Handle(&Frame{Vector: 0x50})
	if calls != 1 {
		t.Fatalf("calls after unregister = %d, want 1 (unchanged)", calls)
	}
	if apic.count != 2 {
		t.Fatalf("apic EOI count = %d, want 2", apic.count)
	}
}

func TestRegisterMostRecentRunsFirst(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)

	var order []int
	d.Register(0x60, func(frame *Frame, data any) { order = append(order, 1) }, nil)
	d.Register(0x60, func(frame *Frame, data any) { order = append(order, 2) }, nil)

	d.Handle(&Frame{Vector: 0x60})

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("order = %v, want [2 1] (most recently registered first)", order)
	}
}

func TestGPFaultIsFatal(t *testing.T) {
	d, ops, _, _, _, _, _ := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)

	halted := false
	kpanic.SetTestHook(func(header, detail string) { halted = true })
	t.Cleanup(func() { kpanic.SetTestHook(nil) })

	d.Handle(&Frame{Vector: VectorGPFault, EIP: 0x1000})

	if !halted {
		t.Fatal("expected GP fault to reach the fatal path")
	}
	_ = ops
}

func TestPageFaultNullPointerIsFatal(t *testing.T) {
	d, ops, _, _, _, _, _ := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)
	ops.CR2 = 0

	halted := false
	kpanic.SetTestHook(func(header, detail string) { halted = true })
	t.Cleanup(func() { kpanic.SetTestHook(nil) })

	d.Handle(&Frame{Vector: VectorPageFault})

	if !halted {
		t.Fatal("expected a null-pointer page fault to be fatal")
	}
}

func TestPageFaultDeferredIsHandledWithoutHalting(t *testing.T) {
	d, ops, _, _, _, mapper, log := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)
	mapper.handle = true
	ops.CR2 = 0x40003000

	halted := false
	kpanic.SetTestHook(func(header, detail string) { halted = true })
	t.Cleanup(func() { kpanic.SetTestHook(nil) })

	d.BeginDefer()
	d.Handle(&Frame{Vector: VectorPageFault})
	d.FinishDefer()

	if halted {
		t.Fatal("a deferred, successfully-mapped fault must not be fatal")
	}
	if len(mapper.got) != 1 || mapper.got[0] != 0x40003000 {
		t.Fatalf("expected MapDeferred(0x40003000), got %v", mapper.got)
	}
	if len(log.lines) != 1 {
		t.Fatalf("expected one deferred-count log line, got %v", log.lines)
	}
}

func TestPageFaultNotDeferredStillFatal(t *testing.T) {
	d, ops, _, _, _, mapper, _ := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)
	mapper.handle = true
	ops.CR2 = 0x40003000

	halted := false
	kpanic.SetTestHook(func(header, detail string) { halted = true })
	t.Cleanup(func() { kpanic.SetTestHook(nil) })

	// No BeginDefer: even though the mapper would happily handle it,
	// deferral must be explicitly enabled first.
	d.Handle(&Frame{Vector: VectorPageFault})

	if !halted {
		t.Fatal("expected fault to be fatal when deferral was never enabled")
	}
	if len(mapper.got) != 0 {
		t.Fatal("mapper must not be consulted outside a defer window")
	}
}

func TestFinishDeferWithoutBeginIsAsserted(t *testing.T) {
	d, _, _, _, _, _, _ := newTestDispatcher(t)

	asserted := false
	kpanic.SetTestHook(func(header, detail string) { asserted = true })
	t.Cleanup(func() { kpanic.SetTestHook(nil) })

	d.FinishDefer()

	if !asserted {
		t.Fatal("expected FinishDefer without a matching BeginDefer to assert")
	}
}

func TestAPICTimerVectorYieldsWhenTaskRunning(t *testing.T) {
	d, _, _, _, sched, _, _ := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)
	sched.has = true

	d.Handle(&Frame{Vector: intctl.APICTimerVector})

	if sched.yields != 1 {
		t.Fatalf("yields = %d, want 1", sched.yields)
	}
	if d.Ticks() != 1 {
		t.Fatalf("Ticks() = %d, want 1", d.Ticks())
	}
}

func TestAPICTimerVectorDoesNotYieldWithNoCurrentTask(t *testing.T) {
	d, _, _, _, sched, _, _ := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)
	sched.has = false

	d.Handle(&Frame{Vector: intctl.APICTimerVector})

	if sched.yields != 0 {
		t.Fatalf("yields = %d, want 0 with no current task", sched.yields)
	}
}

func TestUnknownVectorIsLogged(t *testing.T) {
	d, _, _, _, _, _, log := newTestDispatcher(t)
	d.SetMode(intctl.ModeAPIC)

	d.Handle(&Frame{Vector: 0x99})

	if len(log.lines) != 1 {
		t.Fatalf("expected one log line for an unknown vector, got %v", log.lines)
	}
}

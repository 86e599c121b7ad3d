// Package trap is the interrupt dispatcher spec.md §4.F describes:
// a 256-vector callback registry plus the fixed terminal policy for
// the handful of vectors this kernel treats specially. Ported from
// original_source/src/kernel/interrupts.c's IntCommonHandler/
// IntRegisterCallback/IntUnregisterCallback, with the exception-frame
// shape and vector-dispatch switch generalized from
// mazboot/golang/main/exceptions.go's ExceptionInfo/handleException.
//
// The IDT itself and the per-vector assembly trampoline that builds a
// Frame and calls Dispatcher.Handle are the external-collaborator
// boundary spec.md draws around the ISR stubs; this package only
// holds what runs once Go code is reached.
package trap

import (
	"reflect"

	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/intctl"
	"github.com/dajoh/futura/internal/klog"
	"github.com/dajoh/futura/internal/kpanic"
)

// Frame is the fixed register snapshot the assembly trampoline
// pushes before calling into Go, ported field-for-field from
// original_source/src/kernel/interrupts.c's InterruptContext.
type Frame struct {
	DS                                      uint32
	EDI, ESI, EBP, ESP, EBX, EDX, ECX, EAX  uint32
	Vector, ErrorCode                       uint32
	EIP, CS, EFlags, UserESP, UserSS        uint32
}

// Vectors this kernel treats specially (spec.md §4.F step 4).
const (
	VectorGPFault   = 0x0D
	VectorPageFault = 0x0E
	VectorSyscall   = 0x80
)

// PICKeyboardVector/PICTimerVector are the 8259-mode vectors the
// common path special-cases before any callback ever runs (spec.md
// §4.F step 1).
const (
	PICTimerVector    = intctl.Pic8259VectorBase + 0
	PICKeyboardVector = intctl.Pic8259VectorBase + 1
	keyboardDataPort  = 0x60
	spuriousVector    = 0xFF
)

// Fn is an interrupt callback; data is whatever context the
// registerer wants passed back, mirroring the C API's void* ctx.
type Fn func(frame *Frame, data any)

type callback struct {
	vector uint32
	fn     Fn
	data   any
	next   *callback
}

// PICController sends an 8259 end-of-interrupt.
type PICController interface {
	SendEOI(irq uint8)
}

// APICController sends a local-APIC end-of-interrupt.
type APICController interface {
	SendEOI()
}

// Scheduler is the narrow slice of internal/sched the APIC timer
// vector needs: advance time and, if a task is running, give up the
// CPU (spec.md §4.F "APIC_TIMER vector: ... if a current task exists,
// invoke the scheduler's yield step").
type Scheduler interface {
	HasCurrentTask() bool
	Yield()
}

// PageFaultMapper eagerly backs a faulting page when deferral is
// enabled, supporting the bulk-prefetch pattern spec.md §4.F
// describes. Returns whether it did so; Dispatcher treats a false
// return as "could not defer" and falls through to the fatal path.
type PageFaultMapper interface {
	MapDeferred(virt uintptr) bool
}

// Logger is the subset of *klog.Logger the dispatcher needs for
// non-fatal diagnostic output (unknown vectors, deferred-fault
// counts); *klog.Logger satisfies this directly.
type Logger interface {
	Print(s string)
}

// Dispatcher is the common_handler core. One instance serves the
// whole kernel; it is only ever called with interrupts already
// disabled (that's what landed it here), so no internal locking is
// needed.
type Dispatcher struct {
	ops   cpu.Ops
	sink  kpanic.Sink
	log   Logger
	pic   PICController
	apic  APICController
	sched Scheduler
	pf    PageFaultMapper

	mode  intctl.Mode
	ticks uint64

	callbacks *callback

	deferring     bool
	deferredCount uint32
}

// New builds a Dispatcher in 8259 mode (spec.md's boot-time default,
// before lapic/ioapic bring-up switches it).
func New(ops cpu.Ops, sink kpanic.Sink, log Logger, pic PICController, apic APICController, sched Scheduler, pf PageFaultMapper) *Dispatcher {
	return &Dispatcher{ops: ops, sink: sink, log: log, pic: pic, apic: apic, sched: sched, pf: pf, mode: intctl.Mode8259}
}

// SetMode switches between 8259 and APIC routing; called once, by
// boot after the ACPI \_PIC evaluation succeeds.
func (d *Dispatcher) SetMode(mode intctl.Mode) { d.mode = mode }

// Mode reports the dispatcher's current routing model.
func (d *Dispatcher) Mode() intctl.Mode { return d.mode }

// Ticks is the timer tick counter, advanced once per PIC IRQ0 (8259
// mode) or APIC timer interrupt (APIC mode).
func (d *Dispatcher) Ticks() uint64 { return d.ticks }

// Register pushes a callback to the head of vector's list (spec.md
// §4.F: "register(vector, fn, ctx) pushes to the head"), so the
// most-recently-registered callback for a vector runs first.
func (d *Dispatcher) Register(vector uint32, fn Fn, data any) {
	wasEnabled := cpu.SaveFlagsAndDisable(d.ops)
	defer cpu.RestoreFlags(d.ops, wasEnabled)

	d.callbacks = &callback{vector: vector, fn: fn, data: data, next: d.callbacks}
}

// Unregister removes the first callback on vector whose function
// matches fn (compared by code pointer, since Go func values aren't
// otherwise comparable — this mirrors the C API's raw function
// pointer identity). If data is supplied, the context must also
// match.
func (d *Dispatcher) Unregister(vector uint32, fn Fn, data ...any) {
	wasEnabled := cpu.SaveFlagsAndDisable(d.ops)
	defer cpu.RestoreFlags(d.ops, wasEnabled)

	target := reflect.ValueOf(fn).Pointer()
	prev := (*callback)(nil)
	cur := d.callbacks
	for cur != nil {
		match := cur.vector == vector && reflect.ValueOf(cur.fn).Pointer() == target
		if match && len(data) > 0 && cur.data != data[0] {
			match = false
		}
		if match {
			if prev == nil {
				d.callbacks = cur.next
			} else {
				prev.next = cur.next
			}
			return
		}
		prev = cur
		cur = cur.next
	}
}

// BeginDefer enables page-fault deferral; must be paired with
// FinishDefer, and the pairing is asserted (spec.md §4.F).
func (d *Dispatcher) BeginDefer() {
	kpanic.Assert(d.ops, d.sink, !d.deferring, "trap.BeginDefer: already deferring")
	d.deferring = true
}

// FinishDefer disables page-fault deferral and prints how many faults
// were serviced while it was on.
func (d *Dispatcher) FinishDefer() {
	kpanic.Assert(d.ops, d.sink, d.deferring, "trap.FinishDefer: not deferring")
	d.deferring = false
	if d.deferredCount != 0 {
		d.log.Print("deferred page faults: " + klog.Hex32(d.deferredCount) + "\r\n")
	}
	d.deferredCount = 0
}

// Handle is common_handler: the single entry point every ISR
// trampoline calls with its decoded Frame (spec.md §4.F).
func (d *Dispatcher) Handle(frame *Frame) {
	if d.mode == intctl.Mode8259 && frame.Vector >= PICTimerVector && frame.Vector <= intctl.Pic8259VectorBase+15 {
		d.pic.SendEOI(uint8(frame.Vector - intctl.Pic8259VectorBase))
		if frame.Vector == PICTimerVector {
			d.ticks++
		}
		if frame.Vector == PICKeyboardVector {
			d.ops.InB(keyboardDataPort)
		}
		return
	}

	if d.mode == intctl.ModeAPIC && frame.Vector != spuriousVector {
		d.apic.SendEOI()
	}

	for cb := d.callbacks; cb != nil; cb = cb.next {
		if cb.vector == frame.Vector {
			cb.fn(frame, cb.data)
		}
	}

	switch frame.Vector {
	case VectorGPFault:
		d.fatalFrame("GENERAL PROTECTION FAULT", frame)

	case VectorPageFault:
		d.handlePageFault(frame)

	case intctl.APICTimerVector:
		d.ticks++
		if d.sched != nil && d.sched.HasCurrentTask() {
			d.sched.Yield()
		}

	case VectorSyscall:
		// Placeholder: logs the EBX value as hex; the string it
		// points at is not read (a real syscall ABI is out of scope).
		d.log.Print("[syscall] ebx=" + klog.Hex32(frame.EBX) + "\r\n")

	default:
		d.log.Print("unknown interrupt 0x" + klog.Hex8(uint8(frame.Vector)) + "\r\n")
	}
}

func (d *Dispatcher) handlePageFault(frame *Frame) {
	addr := d.ops.ReadCR2()
	page := addr &^ 0xFFF

	if page != 0 && d.deferring && d.pf != nil && d.pf.MapDeferred(page) {
		d.deferredCount++
		return
	}

	if page == 0 {
		d.fatalFrame("PAGE FAULT: NULL pointer accessed", frame)
		return
	}
	d.fatalFrame("PAGE FAULT: address "+klog.Hex32(uint32(addr)), frame)
}

func (d *Dispatcher) fatalFrame(header string, frame *Frame) {
	detail := "eip=" + klog.Hex32(frame.EIP) +
		" eflags=" + klog.Hex32(frame.EFlags) +
		" int=" + klog.Hex32(frame.Vector) +
		" err=" + klog.Hex32(frame.ErrorCode) +
		" eax=" + klog.Hex32(frame.EAX) +
		" ebx=" + klog.Hex32(frame.EBX) +
		" ecx=" + klog.Hex32(frame.ECX) +
		" edx=" + klog.Hex32(frame.EDX)
	kpanic.Fatal(d.ops, d.sink, header, "regs", detail)
}

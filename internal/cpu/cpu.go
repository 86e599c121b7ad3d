// Package cpu is the low-level CPU operations boundary (spec component
// A): port I/O, MSR access, CPUID, the TSC, CR2/CR3, TLB invalidation,
// and the halt/nop primitives every other subsystem is built on.
//
// Production code talks to the Ops interface, never to the hardware
// directly; the real implementation's bodies live in an external
// assembly file (the same external-collaborator boundary spec.md
// draws around the ISR stubs and the context-switch trampoline).
// Tests use Fake.
package cpu

// Ops is the capability set every other package depends on. There is
// no state here — it is a pure platform abstraction.
type Ops interface {
	InB(port uint16) uint8
	OutB(port uint16, v uint8)
	InW(port uint16) uint16
	OutW(port uint16, v uint16)
	InL(port uint16) uint32
	OutL(port uint16, v uint32)

	Rdmsr(ecx uint32) uint64
	Wrmsr(ecx uint32, v uint64)

	// Cpuid returns eax, ebx, ecx, edx for leaf fn.
	Cpuid(fn uint32) (eax, ebx, ecx, edx uint32)

	Rdtsc() uint64

	ReadCR2() uintptr
	WriteCR3(pageDirPhys uintptr)
	InvlpgSingle(virt uintptr)

	Hlt()
	Nop()

	// EnableInterrupts/DisableInterrupts/InterruptsEnabled back the
	// critical-section primitive (spec.md §5): "disable interrupts,
	// run the sequence, restore the previous interrupt-enable state."
	EnableInterrupts()
	DisableInterrupts()
	InterruptsEnabled() bool

	// HaltForever is the fatal-path primitive: disable interrupts and
	// spin on hlt, never returning. Every diagnostic-then-halt policy
	// in this kernel bottoms out here.
	HaltForever() // never returns
}

// SaveFlagsAndDisable disables interrupts and returns whether they
// were enabled beforehand, so the caller can restore that state with
// RestoreFlags. Critical sections never nest with a suspension point
// (spec.md §5), so this pattern is always a strict
// save/disable .. restore bracket, never stacked across a Yield/Sleep.
func SaveFlagsAndDisable(ops Ops) (wasEnabled bool) {
	wasEnabled = ops.InterruptsEnabled()
	ops.DisableInterrupts()
	return wasEnabled
}

// RestoreFlags restores the interrupt-enable state captured by
// SaveFlagsAndDisable.
func RestoreFlags(ops Ops, wasEnabled bool) {
	if wasEnabled {
		ops.EnableInterrupts()
	}
}

// Stall busy-waits for approximately micros microseconds using the
// TSC. It never suspends (spec.md §4.G Stall / §5 suspension points);
// the caller supplies the calibrated ticks-per-microsecond (from
// lapic.Calibrate) since cpu itself knows nothing about the timer.
func Stall(ops Ops, micros uint64, ticksPerMicro uint64) {
	if ticksPerMicro == 0 {
		// No calibration yet; fall back to a fixed spin count so
		// early-boot callers (before the LAPIC is calibrated) still
		// make forward progress instead of stalling forever.
		for i := uint64(0); i < micros*1000; i++ {
			ops.Nop()
		}
		return
	}
	target := ops.Rdtsc() + micros*ticksPerMicro
	for ops.Rdtsc() < target {
		ops.Nop()
	}
}

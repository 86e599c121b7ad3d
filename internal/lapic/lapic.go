// Package lapic drives the CPU's local APIC (spec.md §4.E), ported
// from original_source/src/kernel/apic.c: CPUID detection, MSR-based
// enable, MMIO register programming, and the 500ms stall-and-double
// timer calibration.
package lapic

import "github.com/dajoh/futura/internal/cpu"

// Register offsets into the local APIC's 4 KiB MMIO page. Every
// register is a 32-bit word and must be accessed 128-bit aligned —
// original_source asserts offset%16==0 on every read/write.
const (
	regID        = 0x020
	regVersion   = 0x030
	regTPR       = 0x080
	regEOI       = 0x0B0
	regSIV       = 0x0F0
	regLVTTimer  = 0x320
	regTimerInit = 0x380
	regTimerCurr = 0x390
	regTimerDiv  = 0x3E0

	timerPeriodic = 1 << 17

	msrAPICBase       = 0x1B
	msrAPICBaseEnable = 1 << 11

	cpuidFeatureLeaf = 1
	cpuidEDXAPICBit  = 1 << 9

	timerDivideBy16 = 3
)

// Registers is the local APIC's MMIO window.
type Registers interface {
	Read32(offset uintptr) uint32
	Write32(offset uintptr, v uint32)
}

// Controller is one CPU's local APIC.
type Controller struct {
	ops    cpu.Ops
	regs   Registers
	vector uint8

	// Frequency is the calibrated timer tick rate in Hz, valid after
	// Calibrate returns.
	Frequency uint32
}

// New wraps regs (the local APIC's MMIO page, already mapped by the
// caller) as a Controller. timerVector is the vector its LVT timer
// entry fires.
func New(ops cpu.Ops, regs Registers, timerVector uint8) *Controller {
	return &Controller{ops: ops, regs: regs, vector: timerVector}
}

// Present reports whether CPUID advertises a local APIC.
func Present(ops cpu.Ops) bool {
	_, _, _, edx := ops.Cpuid(cpuidFeatureLeaf)
	return edx&cpuidEDXAPICBit != 0
}

// BaseAddress reads the physical address the local APIC is currently
// mapped at from IA32_APIC_BASE.
func BaseAddress(ops cpu.Ops) uintptr {
	return uintptr(ops.Rdmsr(msrAPICBase) & 0xFFFFF000)
}

// Enabled reports whether IA32_APIC_BASE's enable bit is set.
func Enabled(ops cpu.Ops) bool {
	return ops.Rdmsr(msrAPICBase)&msrAPICBaseEnable != 0
}

func (c *Controller) read(offset uintptr) uint32     { return c.regs.Read32(offset) }
func (c *Controller) write(offset uintptr, v uint32) { c.regs.Write32(offset, v) }

// Enable sets IA32_APIC_BASE's enable bit and brings the local APIC
// up to a known-good state: spurious vector, task priority 0, timer
// divisor 16, and the timer LVT entry pointed at vector (one-shot,
// mask bit clear, no initial count loaded, until Calibrate switches it
// to periodic). Callers disable
// the 8259 PIC first, matching original_source's PicDisable-before-
// ApicInitialize ordering.
func (c *Controller) Enable() {
	c.ops.Wrmsr(msrAPICBase, c.ops.Rdmsr(msrAPICBase)|msrAPICBaseEnable)
	c.write(regSIV, 0x1FF)
	c.write(regTPR, 0)
	c.write(regTimerDiv, timerDivideBy16)
	c.write(regLVTTimer, uint32(c.vector))
}

// Calibrate measures the timer's tick rate: load the counter at its
// maximum, let stall run for approximately 500ms, then see how far
// the count fell. The raw rate is doubled (500ms -> 1s) and rounded to
// the nearest 100 kHz, matching original_source's exact rounding.
// Once known, the timer LVT is reprogrammed as a periodic 100Hz
// source at the calibrated rate.
func (c *Controller) Calibrate(stall func()) {
	c.write(regTimerInit, 0xFFFFFFFF)
	stall()
	remaining := c.read(regTimerCurr)

	rawHz := (uint32(0xFFFFFFFF) - remaining) * 2
	rawKHz := rawHz / 1000
	roundKHz := ((rawKHz + 50) / 100) * 100
	c.Frequency = roundKHz * 1000

	c.write(regLVTTimer, uint32(c.vector)|timerPeriodic)
	c.write(regTimerInit, (c.Frequency/1000)*10)
}

// SetTPR/GetTPR access the task priority register.
func (c *Controller) SetTPR(tpr uint8) { c.write(regTPR, uint32(tpr)) }
func (c *Controller) GetTPR() uint8    { return uint8(c.read(regTPR)) }

// SendEOI acknowledges the current interrupt. The local APIC's EOI
// register ignores the value written — original_source's
// ApicSendEOI(interrupt) never reads its own parameter either.
func (c *Controller) SendEOI() { c.write(regEOI, 0) }

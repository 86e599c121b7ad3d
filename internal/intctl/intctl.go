// Package intctl holds the handful of facts the 8259, local-APIC,
// IO-APIC and dispatcher packages all need to agree on, so none of
// them has to import another just to learn them: which routing model
// is active, and which vector an ISA IRQ fires once it's been routed
// through the IO-APIC.
package intctl

// Mode is the interrupt routing model currently in effect. The
// dispatcher consults it on every interrupt to decide whether to send
// a PIC EOI or an APIC EOI (spec.md §4.F step 1/2); lapic/ioapic
// bring-up flips it once from Mode8259 to ModeAPIC and never back.
type Mode int

const (
	Mode8259 Mode = iota
	ModeAPIC
)

func (m Mode) String() string {
	if m == ModeAPIC {
		return "apic"
	}
	return "8259"
}

// ACPIValue is the integer this kernel passes to the firmware's
// \_PIC method once ACPI is live (spec.md §4.F "ACPI transition"):
// 0 for the legacy 8259 pair, 1 for APIC routing.
func (m Mode) ACPIValue() int64 {
	if m == ModeAPIC {
		return 1
	}
	return 0
}

// Pic8259VectorBase is where the remapped 8259 lands IRQ0: vectors
// Pic8259VectorBase..Pic8259VectorBase+15 carry IRQ0..15
// (original_source/src/kernel/interrupts.h's INT20_PIC_IRQ0..INT2F).
const Pic8259VectorBase = 0x20

// APICTimerVector is the vector the local APIC's timer LVT is
// programmed to fire (original_source's INTXX_APIC_TIMER).
const APICTimerVector = 0x31

// irqToAPICVector ports IntApicIrqToIsr: once routed through the
// IO-APIC, each ISA IRQ fires at a vector chosen by interrupt
// priority level rather than a flat IRQ0..15 offset, so the timer and
// keyboard land in different priority bands than bulk device IRQs.
var irqToAPICVector = [16]uint8{
	0x30, 0x51, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47,
	0x48, 0x49, 0x4A, 0x4B, 0x5C, 0x4D, 0x4E, 0x4F,
}

// IRQToAPICVector returns the vector ISA IRQ irq fires at once it is
// routed through the IO-APIC. irq must be in [0,16); out-of-range
// input is a programming error in the caller, not a runtime
// condition, so this indexes directly rather than returning ok.
func IRQToAPICVector(irq uint8) uint8 {
	return irqToAPICVector[irq]
}

// APICVectorToIRQ is the inverse of IRQToAPICVector, used by the
// dispatcher to recover which ISA IRQ fired from the ISR vector.
func APICVectorToIRQ(vector uint8) (irq uint8, ok bool) {
	for i, v := range irqToAPICVector {
		if v == vector {
			return uint8(i), true
		}
	}
	return 0, false
}

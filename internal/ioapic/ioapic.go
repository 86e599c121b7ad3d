// Package ioapic drives the IO-APIC: ACPI MADT-driven GSI routing for
// the 16 ISA interrupts (spec.md §4.E), ported from
// original_source/src/kernel/ioapic.c.
package ioapic

import (
	"github.com/dajoh/futura/internal/acpi"
	"github.com/dajoh/futura/internal/intctl"
)

const (
	regID    = 0x00
	regVer   = 0x01
	regTable = 0x10

	maskBit = 1 << 16

	polarityLowBit = 1 << 13
	triggerLvlBit  = 1 << 15
)

// Registers is the IO-APIC's indirect register window: writing
// REGSEL selects a register, then WINDOW reads/writes it.
type Registers interface {
	Read(reg uint32) uint32
	Write(reg uint32, v uint32)
}

// Redirection is one fully-resolved IO-APIC redirection table entry.
type Redirection struct {
	GSI      uint32
	IRQ      uint8
	Vector   uint8
	CPU      uint8
	Polarity acpi.Polarity
	Trigger  acpi.Trigger
	Masked   bool
}

// Resolve computes what should be programmed into redirection table
// pin gsi: pin n is assumed to carry ISA IRQ n unless a MADT
// Interrupt Source Override says otherwise. ok is false when this
// pin's default IRQ was moved to a different GSI by an override — the
// pin that actually carries it resolves on its own call instead.
// Ported from IoApicMapIRQ's override-table walk; this is a pure
// function of the MADT, so it needs no hardware to test.
func Resolve(madt *acpi.MADT, gsi uint32) (Redirection, bool) {
	irq := uint8(gsi)
	pol := acpi.PolarityActiveHigh
	trig := acpi.TriggerEdge

	for _, o := range madt.Overrides {
		if o.Bus != 0 {
			continue
		}
		if uint32(o.SourceIRQ) == gsi && o.GlobalIRQ != gsi {
			return Redirection{}, false
		}
		if o.GlobalIRQ == gsi {
			irq = o.SourceIRQ
			if o.Polarity != acpi.PolarityBusDefault {
				pol = o.Polarity
			}
			if o.Trigger != acpi.TriggerBusDefault {
				trig = o.Trigger
			}
			break
		}
	}

	return Redirection{
		GSI:      gsi,
		IRQ:      irq,
		Vector:   intctl.IRQToAPICVector(irq),
		Polarity: pol,
		Trigger:  trig,
	}, true
}

// Controller is one IO-APIC.
type Controller struct {
	regs     Registers
	irqToGSI [16]int32
}

// New wraps regs (the IO-APIC's MMIO window, already mapped by the
// caller) as a Controller with an empty IRQ->GSI map.
func New(regs Registers) *Controller {
	c := &Controller{regs: regs}
	for i := range c.irqToGSI {
		c.irqToGSI[i] = -1
	}
	return c
}

func (c *Controller) read(reg uint32) uint32     { return c.regs.Read(reg) }
func (c *Controller) write(reg uint32, v uint32) { c.regs.Write(reg, v) }

// MaxEntries reads how many redirection table entries this IO-APIC
// implements from its version register.
func (c *Controller) MaxEntries() uint32 {
	return ((c.read(regVer) >> 16) & 0xFF) + 1
}

// Program writes r into the redirection table entry for r.GSI and
// records the IRQ->GSI mapping so MaskIRQ/UnmaskIRQ can find it later.
func (c *Controller) Program(r Redirection) {
	reg := regTable + r.GSI*2
	lo := uint32(r.Vector)
	if r.Polarity == acpi.PolarityActiveLow {
		lo |= polarityLowBit
	}
	if r.Trigger == acpi.TriggerLevel {
		lo |= triggerLvlBit
	}
	if r.Masked {
		lo |= maskBit
	}
	hi := uint32(r.CPU) << 24
	c.write(reg+1, hi)
	c.write(reg+0, lo)
	c.irqToGSI[r.IRQ] = int32(r.GSI)
}

func (c *Controller) setMask(irq uint8, masked bool) {
	gsi := c.irqToGSI[irq]
	if gsi == -1 {
		return
	}
	reg := regTable + uint32(gsi)*2
	hi := c.read(reg + 1)
	lo := c.read(reg + 0)
	if masked {
		lo |= maskBit
	} else {
		lo &^= maskBit
	}
	c.write(reg+1, hi)
	c.write(reg+0, lo)
}

// MaskIRQ/UnmaskIRQ toggle a previously-Program'd ISA IRQ's mask bit.
// A no-op if irq was never routed to a GSI.
func (c *Controller) MaskIRQ(irq uint8)   { c.setMask(irq, true) }
func (c *Controller) UnmaskIRQ(irq uint8) { c.setMask(irq, false) }

// Package pic8259 drives the legacy master/slave 8259 interrupt
// controller pair (spec.md §4.E), ported from
// original_source/src/kernel/pic.c. This kernel runs it from boot
// until lapic/ioapic take over; without an ACPI MADT it stays the
// interrupt controller for good.
package pic8259

import "github.com/dajoh/futura/internal/cpu"

const (
	cmdMaster  = 0x20
	dataMaster = 0x21
	cmdSlave   = 0xA0
	dataSlave  = 0xA1

	ioWaitPort = 0x80 // unused POST diagnostic port, written to burn a bus cycle

	eoi = 0x20

	icw1Init = 0x10
	icw1ICW4 = 0x01

	icw4_8086 = 0x01
)

// Controller is the 8259 master/slave pair.
type Controller struct {
	ops cpu.Ops
}

func New(ops cpu.Ops) *Controller { return &Controller{ops: ops} }

func (c *Controller) ioWait() { c.ops.OutB(ioWaitPort, 0) }

// Remap reprograms both PICs so IRQ0..15 land at vectorBase..
// vectorBase+15 instead of colliding with the CPU's own exception
// vectors 0x00..0x1F, cascades the slave off the master's IRQ2, and
// masks every line except the ones set in unmasked (a bit per IRQ
// number). spec.md wants only IRQ0 (timer) and IRQ1 (keyboard)
// unmasked at boot.
func (c *Controller) Remap(vectorBase uint8, unmasked uint16) {
	c.ops.OutB(cmdMaster, icw1Init|icw1ICW4)
	c.ioWait()
	c.ops.OutB(cmdSlave, icw1Init|icw1ICW4)
	c.ioWait()
	c.ops.OutB(dataMaster, vectorBase)
	c.ioWait()
	c.ops.OutB(dataSlave, vectorBase+8)
	c.ioWait()
	c.ops.OutB(dataMaster, 4) // tell master: slave cascades off IRQ2
	c.ioWait()
	c.ops.OutB(dataSlave, 2) // tell slave its cascade identity
	c.ioWait()
	c.ops.OutB(dataMaster, icw4_8086)
	c.ioWait()
	c.ops.OutB(dataSlave, icw4_8086)
	c.ioWait()

	c.ops.OutB(dataMaster, uint8(^unmasked))
	c.ioWait()
	c.ops.OutB(dataSlave, uint8(^unmasked>>8))
	c.ioWait()
}

// Disable masks every IRQ line on both PICs, the step taken right
// before handing routing over to the local APIC.
func (c *Controller) Disable() {
	c.ops.OutB(dataMaster, 0xFF)
	c.ioWait()
	c.ops.OutB(dataSlave, 0xFF)
	c.ioWait()
}

// SendEOI acknowledges IRQ irq (0..15): the slave only needs telling
// for irq >= 8, but the master always does, since the cascade line
// on the master also needs acknowledging.
func (c *Controller) SendEOI(irq uint8) {
	if irq >= 8 {
		c.ops.OutB(cmdSlave, eoi)
	}
	c.ops.OutB(cmdMaster, eoi)
}

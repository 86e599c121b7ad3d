package boot

import "github.com/dajoh/futura/internal/cpu"

// Programmable interval timer channel 0 ports and the mode-3 (square
// wave) command byte, ported from original_source/src/kernel/pit.c's
// PitInitialize.
const (
	pitChannel0   = 0x40
	pitCommand    = 0x43
	pitModeSquare = 0x36
	pitBaseHz     = 1193180
)

// programPIT reprograms channel 0 to fire at hz, the source of IRQ0
// once pic8259.Remap has it routed to the dispatcher's timer vector.
// Dropped once the local APIC timer takes over at the APIC handoff;
// spec.md keeps it running underneath as the 8259-mode tick source.
func programPIT(ops cpu.Ops, hz uint32) {
	divisor := uint16(pitBaseHz / hz)
	ops.OutB(pitCommand, pitModeSquare)
	ops.OutB(pitChannel0, uint8(divisor))
	ops.OutB(pitChannel0, uint8(divisor>>8))
}

package pic8259

import (
	"testing"

	"github.com/dajoh/futura/internal/cpu"
)

func TestRemapFinalMaskState(t *testing.T) {
	ops := cpu.NewFake()
	c := New(ops)
	c.Remap(0x20, 0x0003)

	// The data ports are reused across ICW2/ICW3/ICW4/mask writes, so
	// only the final write (the mask) survives in the fake's port map.
	if ops.Ports[dataMaster] != 0xFC {
		t.Fatalf("final master mask = 0x%02X, want 0xFC (IRQ0/IRQ1 unmasked)", ops.Ports[dataMaster])
	}
	if ops.Ports[dataSlave] != 0xFF {
		t.Fatalf("final slave mask = 0x%02X, want 0xFF (no slave IRQs unmasked)", ops.Ports[dataSlave])
	}
}

func TestDisableMasksEverything(t *testing.T) {
	ops := cpu.NewFake()
	c := New(ops)
	c.Disable()

	if ops.Ports[dataMaster] != 0xFF || ops.Ports[dataSlave] != 0xFF {
		t.Fatalf("Disable did not mask both PICs: master=0x%02X slave=0x%02X", ops.Ports[dataMaster], ops.Ports[dataSlave])
	}
}

func TestSendEOILowIRQOnlyHitsMaster(t *testing.T) {
	ops := cpu.NewFake()
	c := New(ops)
	c.SendEOI(1)

	if ops.Ports[cmdMaster] != eoi {
		t.Fatalf("master EOI not sent for IRQ1")
	}
	if _, wrote := ops.Ports[cmdSlave]; wrote {
		t.Fatal("slave EOI should not be sent for IRQ < 8")
	}
}

func TestSendEOIHighIRQHitsBoth(t *testing.T) {
	ops := cpu.NewFake()
	c := New(ops)
	c.SendEOI(10)

	if ops.Ports[cmdMaster] != eoi {
		t.Fatal("master EOI not sent for IRQ10")
	}
	if ops.Ports[cmdSlave] != eoi {
		t.Fatal("slave EOI not sent for IRQ10")
	}
}

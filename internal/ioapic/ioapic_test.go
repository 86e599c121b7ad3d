package ioapic

import (
	"testing"

	"github.com/dajoh/futura/internal/acpi"
)

func TestResolveIdentityWhenNoOverrides(t *testing.T) {
	madt := &acpi.MADT{}
	r, ok := Resolve(madt, 1)
	if !ok {
		t.Fatal("expected identity resolution without overrides")
	}
	if r.IRQ != 1 || r.GSI != 1 {
		t.Fatalf("got IRQ=%d GSI=%d, want identity 1/1", r.IRQ, r.GSI)
	}
	if r.Polarity != acpi.PolarityActiveHigh || r.Trigger != acpi.TriggerEdge {
		t.Fatalf("expected ISA bus default active-high/edge, got pol=%v trig=%v", r.Polarity, r.Trigger)
	}
}

func TestResolveAppliesOverrideOntoThisGSI(t *testing.T) {
	// IRQ0 (PIT) is commonly redirected onto GSI2 on real hardware.
	madt := &acpi.MADT{Overrides: []acpi.InterruptOverride{
		{Bus: 0, SourceIRQ: 0, GlobalIRQ: 2, Polarity: acpi.PolarityActiveLow, Trigger: acpi.TriggerLevel},
	}}

	r, ok := Resolve(madt, 2)
	if !ok {
		t.Fatal("expected pin 2 to resolve")
	}
	if r.IRQ != 0 {
		t.Fatalf("GSI2 should carry IRQ0 per the override, got IRQ%d", r.IRQ)
	}
	if r.Polarity != acpi.PolarityActiveLow || r.Trigger != acpi.TriggerLevel {
		t.Fatalf("expected override polarity/trigger to apply, got pol=%v trig=%v", r.Polarity, r.Trigger)
	}
}

func TestResolveSkipsPinWhoseIRQMovedElsewhere(t *testing.T) {
	madt := &acpi.MADT{Overrides: []acpi.InterruptOverride{
		{Bus: 0, SourceIRQ: 0, GlobalIRQ: 2},
	}}

	// Pin 0's identity IRQ (IRQ0) was redirected to GSI2 instead, so
	// pin 0 itself should not be programmed from this call.
	if _, ok := Resolve(madt, 0); ok {
		t.Fatal("expected pin 0 to be skipped since IRQ0 moved to GSI2")
	}
}

func TestResolveVectorMatchesIRQToAPICVector(t *testing.T) {
	r, ok := Resolve(&acpi.MADT{}, 5)
	if !ok {
		t.Fatal("expected resolution")
	}
	if r.Vector == 0 {
		t.Fatal("expected a non-zero vector")
	}
}

func TestProgramWritesRedirectionAndRecordsIRQMap(t *testing.T) {
	regs := NewFakeRegisters()
	c := New(regs)

	c.Program(Redirection{GSI: 3, IRQ: 3, Vector: 0x43, Polarity: acpi.PolarityActiveLow, Trigger: acpi.TriggerLevel})

	lo := regs.regs[regTable+3*2]
	if lo&0xFF != 0x43 {
		t.Fatalf("vector = 0x%X, want 0x43", lo&0xFF)
	}
	if lo&polarityLowBit == 0 {
		t.Fatal("expected active-low bit set")
	}
	if lo&triggerLvlBit == 0 {
		t.Fatal("expected level-trigger bit set")
	}
	if c.irqToGSI[3] != 3 {
		t.Fatalf("irqToGSI[3] = %d, want 3", c.irqToGSI[3])
	}
}

func TestMaskUnmaskIRQ(t *testing.T) {
	regs := NewFakeRegisters()
	c := New(regs)
	c.Program(Redirection{GSI: 1, IRQ: 1, Vector: 0x51})

	c.MaskIRQ(1)
	if regs.regs[regTable+1*2]&maskBit == 0 {
		t.Fatal("expected mask bit set after MaskIRQ")
	}

	c.UnmaskIRQ(1)
	if regs.regs[regTable+1*2]&maskBit != 0 {
		t.Fatal("expected mask bit cleared after UnmaskIRQ")
	}
}

func TestMaskUnknownIRQIsNoop(t *testing.T) {
	regs := NewFakeRegisters()
	c := New(regs)
	c.MaskIRQ(7) // never Program'd; must not panic or touch regs
	if len(regs.regs) != 0 {
		t.Fatal("expected no register writes for an unmapped IRQ")
	}
}

func TestMaxEntriesReadsVersionRegister(t *testing.T) {
	regs := NewFakeRegisters()
	regs.regs[regVer] = (23 << 16) | 0x11 // 24 redirection entries
	c := New(regs)
	if got := c.MaxEntries(); got != 24 {
		t.Fatalf("MaxEntries = %d, want 24", got)
	}
}

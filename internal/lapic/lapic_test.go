package lapic

import (
	"testing"

	"github.com/dajoh/futura/internal/cpu"
)

func TestPresentDetectsCPUIDBit(t *testing.T) {
	ops := cpu.NewFake()
	if Present(ops) {
		t.Fatal("expected no local APIC on a blank CPUID leaf")
	}

	ops.CPUID[cpuidFeatureLeaf] = [4]uint32{0, 0, 0, cpuidEDXAPICBit}
	if !Present(ops) {
		t.Fatal("expected local APIC to be detected once the EDX bit is set")
	}
}

func TestBaseAddressMasksLowBits(t *testing.T) {
	ops := cpu.NewFake()
	ops.MSRs[msrAPICBase] = 0xFEE00900 // base with BSP+enable flag bits set
	if got := BaseAddress(ops); got != 0xFEE00000 {
		t.Fatalf("BaseAddress = 0x%X, want 0xFEE00000", got)
	}
}

func TestEnabledReflectsMSRBit(t *testing.T) {
	ops := cpu.NewFake()
	if Enabled(ops) {
		t.Fatal("expected disabled by default")
	}
	ops.MSRs[msrAPICBase] = msrAPICBaseEnable
	if !Enabled(ops) {
		t.Fatal("expected enabled once the MSR bit is set")
	}
}

func TestEnableProgramsKnownGoodState(t *testing.T) {
	ops := cpu.NewFake()
	regs := NewFakeRegisters()
	c := New(ops, regs, 0x31)

	c.Enable()

	if !Enabled(ops) {
		t.Fatal("Enable did not set the MSR enable bit")
	}
	if regs.words[regSIV] != 0x1FF {
		t.Fatalf("SIV = 0x%X, want 0x1FF", regs.words[regSIV])
	}
	if regs.words[regTPR] != 0 {
		t.Fatalf("TPR = %d, want 0", regs.words[regTPR])
	}
	if regs.words[regTimerDiv] != timerDivideBy16 {
		t.Fatalf("timer divide = %d, want %d", regs.words[regTimerDiv], timerDivideBy16)
	}
	if regs.words[regLVTTimer] != 0x31 {
		t.Fatalf("LVT timer = 0x%X, want 0x31 (one-shot, mask bit clear)", regs.words[regLVTTimer])
	}
}

func TestCalibrateComputesFrequencyAndProgramsPeriodicTimer(t *testing.T) {
	ops := cpu.NewFake()
	regs := NewFakeRegisters()
	c := New(ops, regs, 0x31)

	// Simulate the counter falling by 50000 during the 500ms stall:
	// rawHz = 50000*2 = 100000, rawKHz = 100, roundKHz = 100 -> 100000 Hz.
	stall := func() {
		regs.words[regTimerCurr] = 0xFFFFFFFF - 50000
	}
	c.Calibrate(stall)

	if c.Frequency != 100000 {
		t.Fatalf("Frequency = %d, want 100000", c.Frequency)
	}
	if regs.words[regLVTTimer]&timerPeriodic == 0 {
		t.Fatal("expected LVT timer to be reprogrammed as periodic")
	}
	if regs.words[regLVTTimer]&0xFF != 0x31 {
		t.Fatalf("LVT timer vector = 0x%X, want 0x31", regs.words[regLVTTimer]&0xFF)
	}
	wantInit := uint32((c.Frequency / 1000) * 10)
	if regs.words[regTimerInit] != wantInit {
		t.Fatalf("timer init count = %d, want %d", regs.words[regTimerInit], wantInit)
	}
}

func TestSetGetTPR(t *testing.T) {
	c := New(cpu.NewFake(), NewFakeRegisters(), 0x31)
	c.SetTPR(0x20)
	if got := c.GetTPR(); got != 0x20 {
		t.Fatalf("GetTPR = 0x%X, want 0x20", got)
	}
}

func TestSendEOIWritesZero(t *testing.T) {
	regs := NewFakeRegisters()
	c := New(cpu.NewFake(), regs, 0x31)
	regs.words[regEOI] = 0xFFFFFFFF
	c.SendEOI()
	if regs.words[regEOI] != 0 {
		t.Fatalf("EOI register = 0x%X, want 0", regs.words[regEOI])
	}
}

package boot

import (
	"testing"

	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/klog"
)

type recordingSink struct{ lines []string }

func (r *recordingSink) WriteString(s string) { r.lines = append(r.lines, s) }

func TestProgramPITWritesDivisorForHz(t *testing.T) {
	ops := cpu.NewFake()
	programPIT(ops, 100)

	if got := ops.Ports[pitCommand]; got != pitModeSquare {
		t.Fatalf("command port = %#x, want %#x", got, pitModeSquare)
	}

	// Channel 0 takes the divisor low byte then high byte; the fake
	// keeps only the last write to a port, so the high byte is what
	// remains.
	wantDivisor := uint16(pitBaseHz / 100)
	hi := uint8(ops.Ports[pitChannel0])
	if hi != uint8(wantDivisor>>8) {
		t.Errorf("high byte = %#x, want %#x", hi, uint8(wantDivisor>>8))
	}
}

func TestBringUpRejectsBadMagic(t *testing.T) {
	sink := &recordingSink{}
	cfg := Config{Ops: cpu.NewFake(), Log: klog.NewLogger(sink)}

	_, ok := bringUp(0xDEADBEEF, &MultibootInfo{Flags: flagMemMap}, cfg)
	if ok {
		t.Fatal("expected bringUp to reject a bad multiboot magic")
	}
	if len(sink.lines) == 0 {
		t.Fatal("expected a logged diagnostic on magic mismatch")
	}
}

func TestBringUpRejectsMissingMemMap(t *testing.T) {
	sink := &recordingSink{}
	cfg := Config{Ops: cpu.NewFake(), Log: klog.NewLogger(sink)}

	_, ok := bringUp(multibootMagic, &MultibootInfo{Flags: 0}, cfg)
	if ok {
		t.Fatal("expected bringUp to reject a multiboot info with no memory map")
	}
}

func TestBringUpRejectsNilInfo(t *testing.T) {
	sink := &recordingSink{}
	cfg := Config{Ops: cpu.NewFake(), Log: klog.NewLogger(sink)}

	_, ok := bringUp(multibootMagic, nil, cfg)
	if ok {
		t.Fatal("expected bringUp to reject a nil MultibootInfo")
	}
}

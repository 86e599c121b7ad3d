package virtiogpu

import (
	"testing"

	"github.com/dajoh/futura/internal/virtio"
)

// answeringScheduler stands in for the device: each Yield from a
// command's spin loop publishes one answer on the control queue.
type answeringScheduler struct {
	mem *virtio.FakeMemory
	q   *virtio.Queue
}

func (s *answeringScheduler) Yield() { completeControlCommand(s.mem, s.q, ctrlHdrSize) }

func TestOverlayDrawPreservesBackgroundAndPresents(t *testing.T) {
	d, mem := newTestDevice(t, 8)

	const fbVirt = 0x50000
	const width, height = 32, 16

	// Stamp a known BGRX background pixel everywhere.
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			mem.Write32(uintptr(fbVirt+y*width*4+x*4), 0x00102030) // B=0x30 G=0x20 R=0x10
		}
	}

	ov, err := NewOverlay(d, 1, fbVirt, width, height, nil)
	if err != nil {
		t.Fatalf("NewOverlay failed: %v", err)
	}

	// Draw's Present issues TransferToHost2D then ResourceFlush, each a
	// separate control-queue round trip that spins on Reap+Yield until
	// answered; answeringScheduler answers each on its first Yield. The
	// response buffers follow each command buffer in allocation order:
	// transfer cmd 56 bytes at 0x90000, resp at 0x90038; flush cmd 48
	// bytes at 0x90050, resp at 0x90080.
	const transferRespVirt = 0x90000 + ctrlHdrSize + 32
	const flushRespVirt = transferRespVirt + ctrlHdrSize + ctrlHdrSize + 24
	mem.Write32(transferRespVirt, RespOKNoData)
	mem.Write32(flushRespVirt, RespOKNoData)
	d.sch = &answeringScheduler{mem: mem, q: d.controlQueue}

	if ok := ov.Draw(42, 3, 0); !ok {
		t.Fatal("expected Draw to present successfully")
	}

	// A pixel well clear of the top-left HUD text should round-trip
	// through the BGRX<->RGBA conversion unchanged.
	got := mem.Read32(uintptr(fbVirt + (height-1)*width*4 + (width-1)*4))
	if got != 0x00102030 {
		t.Fatalf("background pixel corrupted: got 0x%08x, want 0x00102030", got)
	}

	// The glyph cell at the HUD's origin should now contain green
	// pixels from the embedded bitmap font rather than the background.
	foundGreen := false
	for y := 4; y < 4+glyphHeight; y++ {
		for x := 4; x < 4+glyphWidth; x++ {
			px := mem.Read32(uintptr(fbVirt + y*width*4 + x*4))
			if px == 0x0000FF00 {
				foundGreen = true
			}
		}
	}
	if !foundGreen {
		t.Fatal("expected at least one green HUD pixel near the draw origin")
	}
}

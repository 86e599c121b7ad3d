package virtiogpu

import (
	"testing"

	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/virtio"
)

type fakeSink struct{ headers []string }

func (f *fakeSink) Fatal(header string, detail string) { f.headers = append(f.headers, header) }

type fakeLog struct{ lines []string }

func (f *fakeLog) Print(s string) { f.lines = append(f.lines, s) }

func newTestDevice(t *testing.T, queueSize uint16) (*Device, *virtio.FakeMemory) {
	t.Helper()
	ops := cpu.NewFake()
	sink := &fakeSink{}
	mem := virtio.NewFakeMemory()
	mm := virtio.NewFakeQueueMemory(mem)

	vdev := virtio.New(ops, sink, nil, mem, mm, 0, 3, 0, 0x1000, 0x2000, 0x3000, 0x4000, 4)
	mem.Write16(0x1000+0x18, queueSize) // regQueueSize, read once per SetupQueue call

	bufs := NewFakeBufferAllocator()
	sch := &FakeScheduler{}
	log := &fakeLog{}

	d := New(ops, sink, mem, bufs, sch, log, vdev)
	d.Start()
	return d, mem
}

// completeControlCommand simulates the device answering the oldest
// outstanding control-queue command at descriptor 0, the same
// deterministic-head-id trick internal/virtioblk's tests use: on a
// freshly set-up queue the first AllocDescs call always starts at
// descriptor 0, and FreeChain hands descriptor 0 back to the front of
// the free list for the next command. Each call publishes into the
// next used-ring slot.
func completeControlCommand(mem *virtio.FakeMemory, q *virtio.Queue, writtenLen uint32) {
	idx := mem.Read16(q.UsedIdxAddr())
	mem.Write32(q.UsedRingSlotAddr(idx), 0)
	mem.Write32(q.UsedRingSlotAddr(idx)+4, writtenLen)
	mem.Write16(q.UsedIdxAddr(), idx+1)
}

func TestGetDisplayInfoDecodesFirstScanoutRect(t *testing.T) {
	d, mem := newTestDevice(t, 8)

	// First command allocates cmd at 0x90000 (size 24) then resp at
	// 0x90018 (size 24+24=48): see GetDisplayInfo's bufs.AllocBuffer
	// call order.
	const respVirt = 0x90000 + ctrlHdrSize
	mem.Write32(respVirt, RespOKDisplayInfo)
	rectBase := uintptr(respVirt) + ctrlHdrSize
	mem.Write32(rectBase+8, 1920)
	mem.Write32(rectBase+12, 1080)

	completeControlCommand(mem, d.controlQueue, ctrlHdrSize+24)

	width, height, ok := d.GetDisplayInfo()

	if !ok {
		t.Fatal("expected success")
	}
	if width != 1920 || height != 1080 {
		t.Fatalf("got %dx%d, want 1920x1080", width, height)
	}
}

func TestCreateResource2DWritesRequestFields(t *testing.T) {
	d, mem := newTestDevice(t, 8)

	const cmdVirt = 0x90000
	completeControlCommand(mem, d.controlQueue, ctrlHdrSize)

	// respVirt lands right after the 40-byte command buffer; pre-stamp
	// RespOKNoData there so the call reports success.
	const respVirt = cmdVirt + ctrlHdrSize + 16
	mem.Write32(respVirt, RespOKNoData)

	ok := d.CreateResource2D(1, FormatB8G8R8A8Unorm, 800, 600)
	if !ok {
		t.Fatal("expected success")
	}

	if got := mem.Read32(cmdVirt); got != CmdResourceCreate2D {
		t.Fatalf("cmd type = 0x%x, want CmdResourceCreate2D", got)
	}
	if got := mem.Read32(cmdVirt + ctrlHdrSize); got != 1 {
		t.Fatalf("resource id = %d, want 1", got)
	}
	if got := mem.Read32(cmdVirt + ctrlHdrSize + 8); got != 800 {
		t.Fatalf("width = %d, want 800", got)
	}
	if got := mem.Read32(cmdVirt + ctrlHdrSize + 12); got != 600 {
		t.Fatalf("height = %d, want 600", got)
	}
}

// Present is a thin composition of exactly these two calls, so
// exercising them directly (rather than through one Present call)
// covers its logic while leaving room to inject each completion in
// turn — Present's own call makes both submissions inside one
// function call, so answering them in turn needs a scheduler that
// answers on Yield (see overlay_test.go).
func TestTransferToHost2DAndResourceFlushSucceed(t *testing.T) {
	d, mem := newTestDevice(t, 8)

	const transferCmdVirt = 0x90000
	const transferRespVirt = transferCmdVirt + ctrlHdrSize + 16 + 8 + 8
	mem.Write32(transferRespVirt, RespOKNoData)

	const flushCmdVirt = transferRespVirt + ctrlHdrSize
	const flushRespVirt = flushCmdVirt + ctrlHdrSize + 16 + 8
	mem.Write32(flushRespVirt, RespOKNoData)

	// Complete the transfer, run it, then complete the flush and run it.
	completeControlCommand(mem, d.controlQueue, ctrlHdrSize)
	okTransfer := d.TransferToHost2D(1, Rect{Width: 800, Height: 600}, 0)
	if !okTransfer {
		t.Fatal("transfer failed")
	}

	completeControlCommand(mem, d.controlQueue, ctrlHdrSize)
	okFlush := d.ResourceFlush(1, Rect{Width: 800, Height: 600})
	if !okFlush {
		t.Fatal("flush failed")
	}
}

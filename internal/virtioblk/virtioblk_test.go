package virtioblk

import (
	"testing"

	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/ksync"
	"github.com/dajoh/futura/internal/sched"
	"github.com/dajoh/futura/internal/virtio"
)

type fakeSink struct{ headers []string }

func (f *fakeSink) Fatal(header string, detail string) { f.headers = append(f.headers, header) }

type fakeTicks struct{ t uint64 }

func (f *fakeTicks) Ticks() uint64 { return f.t }

func newTestDevice(t *testing.T, queueSize uint16) (*Device, *virtio.FakeMemory) {
	t.Helper()
	ops := cpu.NewFake()
	sink := &fakeSink{}
	mem := virtio.NewFakeMemory()
	mm := virtio.NewFakeQueueMemory(mem)

	vdev := virtio.New(ops, sink, nil, mem, mm, 0, 2, 0, 0x1000, 0x2000, 0x3000, 0x4000, 4)
	mem.Write16(0x1000+0x18 /*regQueueSize offset mirrored here*/, queueSize)

	bufs := NewFakeBufferAllocator()
	xlate := FakePhysTranslator{}
	sch := &FakeScheduler{}

	d := New(ops, sink, mem, bufs, xlate, sch, vdev)
	d.Start()
	return d, mem
}

// completeTopOfQueue simulates the device finishing the single
// outstanding request at the head of the used ring, the way a real
// virtio-blk device would after processing a submitted chain.
func completeTopOfQueue(mem *virtio.FakeMemory, q *virtio.Queue, headID uint16, writtenLen uint32) {
	mem.Write32(q.UsedRingSlotAddr(0), uint32(headID))
	mem.Write32(q.UsedRingSlotAddr(0)+4, writtenLen)
	mem.Write16(q.UsedIdxAddr(), 1)
}

// On a freshly set-up queue the first AllocDescs call always returns
// head descriptor 0, so the completion entry for a single in-flight
// request can be written into the used ring before submission — by
// the time Read/Flush's spin loop calls Reap for the first time, the
// completion is already there waiting to be drained. This keeps the
// test single-goroutine, matching how the rest of the fake-switcher
// model in this codebase avoids real concurrency (see internal/ksync
// and internal/sched's tests).
func TestReadSpinsUntilCompletionThenReturnsTransferred(t *testing.T) {
	d, mem := newTestDevice(t, 8)
	completeTopOfQueue(mem, d.queue, 0, 513)

	transferred, ok := d.Read(0, 0x70000, 512)

	if !ok {
		t.Fatal("expected success status")
	}
	if transferred != 512 {
		t.Fatalf("transferred = %d, want 512", transferred)
	}
}

func TestFlushUsesTwoDescriptorChain(t *testing.T) {
	d, mem := newTestDevice(t, 8)
	before := d.queue.NumFree()
	completeTopOfQueue(mem, d.queue, 0, 1)

	ok := d.Flush()

	if !ok {
		t.Fatal("expected success status")
	}
	if got := d.queue.NumFree(); got != before {
		t.Fatalf("descriptors not fully freed after completion: numFree=%d, want %d", got, before)
	}
}

func TestReadAsyncSignalsEvent(t *testing.T) {
	ops := cpu.NewFake()
	sch := sched.New(ops, nil, nil, sched.NewFakeStackAllocator(), sched.NewFakeSwitcher(), &fakeTicks{}, "kernel")
	ev := ksync.NewEvent(ops, nil, sch)

	d, mem := newTestDevice(t, 8)

	var called bool
	d.ReadAsync(0, 0x70000, 512, ev, func(success bool, transferred uint32) {
		called = true
	})

	completeTopOfQueue(mem, d.queue, 0, 513)
	d.queue.Reap()

	if !called {
		t.Fatal("callback was not invoked")
	}
	if !ev.TryWait(0) {
		t.Fatal("event was not signaled")
	}
}

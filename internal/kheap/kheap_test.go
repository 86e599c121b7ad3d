package kheap

import (
	"testing"

	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/kpanic"
)

func newTestHeap(t *testing.T, size int, debug bool) *Heap {
	t.Helper()
	return New(cpu.NewFake(), nil, make([]byte, size), debug)
}

func checkInvariant(t *testing.T, h *Heap) {
	t.Helper()
	s := h.Stats()
	if s.BytesAllocated+s.BytesAvailable+s.BytesOverhead != s.Size {
		t.Fatalf("used+free+overhead != arena size: %+v", s)
	}
	// Free list must be address-ordered.
	prev := int32(noBlock)
	for cur := h.firstFree; cur != noBlock; {
		if prev != noBlock && cur <= prev {
			t.Fatalf("free list not address-ordered: prev=%d cur=%d", prev, cur)
		}
		_, sig := h.readHeader(cur)
		if sig != sigFree {
			t.Fatalf("free-listed block at %d has signature %q", cur, sig)
		}
		prev = cur
		cur, _ = h.readLinks(cur)
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	h := newTestHeap(t, 4096, false)
	checkInvariant(t, h)

	p1, ok := h.Alloc(64)
	if !ok {
		t.Fatal("alloc failed")
	}
	checkInvariant(t, h)

	p2, ok := h.Alloc(128)
	if !ok {
		t.Fatal("alloc failed")
	}
	checkInvariant(t, h)
	if p2 == p1 {
		t.Fatal("two live allocations returned the same offset")
	}

	h.Free(p1)
	checkInvariant(t, h)
	h.Free(p2)
	checkInvariant(t, h)

	if h.Stats().FreeBlocks != 1 {
		t.Fatalf("expected full coalesce back to one free block, got %+v", h.Stats())
	}
}

func TestAllocExhaustionReturnsFalse(t *testing.T) {
	h := newTestHeap(t, 64, false)
	if _, ok := h.Alloc(1000); ok {
		t.Fatal("expected exhaustion")
	}
	checkInvariant(t, h)
}

func TestCoalesceMergesBothNeighbors(t *testing.T) {
	h := newTestHeap(t, 4096, false)
	p1, _ := h.Alloc(32)
	p2, _ := h.Alloc(32)
	p3, _ := h.Alloc(32)

	h.Free(p1)
	h.Free(p3)
	checkInvariant(t, h)
	if h.Stats().FreeBlocks != 2 {
		t.Fatalf("expected two disjoint free blocks before middle free, got %+v", h.Stats())
	}

	h.Free(p2)
	checkInvariant(t, h)
	if h.Stats().FreeBlocks != 1 {
		t.Fatalf("expected a single coalesced free block, got %+v", h.Stats())
	}
}

func TestDebugModeGuardBytesSurviveRoundTrip(t *testing.T) {
	h := newTestHeap(t, 4096, true)
	p, ok := h.Alloc(16)
	if !ok {
		t.Fatal("alloc failed")
	}
	for i := range h.Bytes()[p : p+16] {
		h.Bytes()[p+int32(i)] = byte(i)
	}
	h.Free(p) // must not fire the corruption path
	checkInvariant(t, h)
}

func TestDebugModeDetectsGuardCorruption(t *testing.T) {
	var headers []string
	kpanic.SetTestHook(func(header, detail string) { headers = append(headers, header) })
	t.Cleanup(func() { kpanic.SetTestHook(nil) })

	h := newTestHeap(t, 4096, true)
	p, _ := h.Alloc(16)
	h.Bytes()[p+16] = 0xFF // smash one byte of the trailing guard
	h.Free(p)

	if len(headers) != 1 {
		t.Fatalf("expected exactly one fatal report, got %v", headers)
	}
}

func TestReallocGrowsAndPreservesData(t *testing.T) {
	h := newTestHeap(t, 4096, false)
	p, _ := h.Alloc(16)
	copy(h.Bytes()[p:p+16], []byte("0123456789abcdef"))

	np, ok := h.Realloc(p, 64)
	if !ok {
		t.Fatal("realloc failed")
	}
	if string(h.Bytes()[np:np+16]) != "0123456789abcdef" {
		t.Fatalf("realloc did not preserve data: %q", h.Bytes()[np:np+16])
	}
	checkInvariant(t, h)
}

func TestReallocShrinkIsNoop(t *testing.T) {
	h := newTestHeap(t, 4096, false)
	p, _ := h.Alloc(64)
	np, ok := h.Realloc(p, 16)
	if !ok || np != p {
		t.Fatalf("expected shrink to return the same offset, got %d ok=%v", np, ok)
	}
}

func TestFreeOfUnallocatedOffsetIsFatal(t *testing.T) {
	var headers []string
	kpanic.SetTestHook(func(header, detail string) { headers = append(headers, header) })
	t.Cleanup(func() { kpanic.SetTestHook(nil) })

	h := newTestHeap(t, 4096, false)
	h.Free(blockHeaderSize) // the initial free block's payload area, never allocated
	if len(headers) != 1 {
		t.Fatalf("expected exactly one fatal report, got %v", headers)
	}
}

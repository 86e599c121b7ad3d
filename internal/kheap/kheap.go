// Package kheap implements spec component D: the kernel heap — a
// fixed-size byte arena with an in-band, address-ordered doubly-linked
// free list and 4-byte block signatures. Grounded on
// mazboot/golang/main/heap.go's heapSegment free-list shape
// (doubly-linked, header-in-front-of-data), with the selection and
// coalesce algorithm replaced by original_source/src/kernel/heap.c's
// exact policy: HeapAlloc picks an exact-size match if one exists,
// otherwise the single largest free block; HeapFree reinserts in
// address order and coalesces with both neighbors.
package kheap

import (
	"encoding/binary"

	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/kpanic"
)

const (
	blockHeaderSize = 8  // uint32 size + 4-byte signature
	freeExtraSize   = 8  // int32 next + int32 prev (arena offsets)
	noBlock         = -1 // sentinel: end of free list
)

var (
	sigUsed = [4]byte{'U', 'S', 'E', 'D'}
	sigFree = [4]byte{'F', 'R', 'E', 'E'}
)

// guardWord is written repeated on both sides of a debug-mode
// allocation's payload, recovered from original_source/src/kernel/
// heap.c's corruption-detection convention (see SPEC_FULL.md §3.D).
const guardWord uint32 = 0xDEADC0DE

// guardBytes is how many bytes of guardWord pad each side of a
// debug-mode allocation.
const guardBytes = 8

// Heap is the arena-backed allocator. arena may be a plain make([]byte,
// n) in tests or a slice over real mapped memory in production (see
// NewMappedArena), since both satisfy the same []byte contract.
type Heap struct {
	ops   cpu.Ops
	sink  kpanic.Sink
	arena []byte
	debug bool

	usedBlocks, freeBlocks         uint32
	bytesAllocated, bytesAvailable uint32
	bytesOverhead                  uint32
	firstFree, lastFree            int32
}

// New initializes heap bookkeeping over arena as a single free block
// spanning it entirely. debug turns on guard-byte padding/verification.
func New(ops cpu.Ops, sink kpanic.Sink, arena []byte, debug bool) *Heap {
	h := &Heap{ops: ops, sink: sink, arena: arena, debug: debug}
	size := uint32(len(arena)) - blockHeaderSize
	h.writeHeader(0, size, sigFree)
	h.writeLinks(0, noBlock, noBlock)
	h.firstFree = 0
	h.lastFree = 0
	h.freeBlocks = 1
	h.bytesAvailable = size
	h.bytesOverhead = blockHeaderSize
	return h
}

func (h *Heap) writeHeader(off int32, size uint32, sig [4]byte) {
	binary.LittleEndian.PutUint32(h.arena[off:], size)
	copy(h.arena[off+4:off+8], sig[:])
}

func (h *Heap) readHeader(off int32) (size uint32, sig [4]byte) {
	size = binary.LittleEndian.Uint32(h.arena[off:])
	copy(sig[:], h.arena[off+4:off+8])
	return
}

func (h *Heap) writeLinks(off int32, next, prev int32) {
	binary.LittleEndian.PutUint32(h.arena[off+8:], uint32(next))
	binary.LittleEndian.PutUint32(h.arena[off+12:], uint32(prev))
}

func (h *Heap) readLinks(off int32) (next, prev int32) {
	next = int32(binary.LittleEndian.Uint32(h.arena[off+8:]))
	prev = int32(binary.LittleEndian.Uint32(h.arena[off+12:]))
	return
}

func (h *Heap) setNext(off, next int32) {
	_, prev := h.readLinks(off)
	h.writeLinks(off, next, prev)
}

func (h *Heap) setPrev(off, prev int32) {
	next, _ := h.readLinks(off)
	h.writeLinks(off, next, prev)
}

// unlink removes off from the free list, patching its neighbors'
// links (or firstFree/lastFree if off was an end) to skip over it.
func (h *Heap) unlink(off int32) {
	next, prev := h.readLinks(off)
	if prev != noBlock {
		h.setNext(prev, next)
	} else {
		h.firstFree = next
	}
	if next != noBlock {
		h.setPrev(next, prev)
	} else {
		h.lastFree = prev
	}
}

// insertBetween splices off into the free list immediately between prev
// and next (either may be noBlock for a list end).
func (h *Heap) insertBetween(off, prev, next int32) {
	h.writeLinks(off, next, prev)
	if prev != noBlock {
		h.setNext(prev, off)
	} else {
		h.firstFree = off
	}
	if next != noBlock {
		h.setPrev(next, off)
	} else {
		h.lastFree = off
	}
}

// Alloc returns the arena offset of a size-byte payload, or (0, false)
// on exhaustion. In debug mode the payload is sandwiched by guard
// bytes and the returned offset already accounts for the leading
// guard (spec.md §4.D "each allocation is padded with guard bytes on
// both sides").
func (h *Heap) Alloc(size uint32) (int32, bool) {
	reqSize := size
	if h.debug {
		reqSize += 2 * guardBytes
	}
	if reqSize < freeExtraSize {
		reqSize = freeExtraSize
	}

	// Find an exact match, else the single largest free block
	// (original_source/src/kernel/heap.c's HeapAlloc policy).
	best := int32(noBlock)
	bestSize := uint32(0)
	for cur := h.firstFree; cur != noBlock; {
		curSize, _ := h.readHeader(cur)
		if curSize == reqSize {
			best = cur
			bestSize = curSize
			break
		}
		if best == noBlock || curSize > bestSize {
			best = cur
			bestSize = curSize
		}
		cur, _ = h.readLinks(cur)
	}
	if best == noBlock || bestSize < reqSize {
		return 0, false
	}

	slack := bestSize - reqSize
	if slack < blockHeaderSize+freeExtraSize {
		// Absorb the slack rather than leaving an unusably small free
		// block behind.
		reqSize += slack
		h.unlink(best)
		h.freeBlocks--
	} else {
		newOff := best + int32(blockHeaderSize) + int32(reqSize)
		newSize := slack - blockHeaderSize
		next, prev := h.readLinks(best)
		h.writeHeader(newOff, newSize, sigFree)
		h.insertBetween(newOff, prev, next)
		h.bytesOverhead += blockHeaderSize
		h.bytesAvailable -= blockHeaderSize
	}

	h.usedBlocks++
	h.bytesAllocated += reqSize
	h.bytesAvailable -= reqSize
	h.writeHeader(best, reqSize, sigUsed)

	payload := best + int32(blockHeaderSize)
	if h.debug {
		h.writeGuard(payload)
		h.writeGuard(payload + int32(guardBytes) + int32(size))
		payload += int32(guardBytes)
	}
	return payload, true
}

func (h *Heap) writeGuard(off int32) {
	for i := int32(0); i < guardBytes; i += 4 {
		binary.LittleEndian.PutUint32(h.arena[off+i:], guardWord)
	}
}

func (h *Heap) checkGuard(off int32) bool {
	for i := int32(0); i < guardBytes; i += 4 {
		if binary.LittleEndian.Uint32(h.arena[off+i:]) != guardWord {
			return false
		}
	}
	return true
}

// Free returns the block backing a payload offset previously returned
// by Alloc to the free pool, reinserting it in address order and
// coalescing with both neighbors.
func (h *Heap) Free(payload int32) {
	off := payload - blockHeaderSize
	if h.debug {
		off -= guardBytes
	}

	size, sig := h.readHeader(off)
	if sig != sigUsed {
		kpanic.Fatal(h.ops, h.sink, "kheap.Free: block not allocated")
		return
	}
	if h.debug && (!h.checkGuard(off+blockHeaderSize) || !h.checkGuard(off+blockHeaderSize+int32(size)-guardBytes)) {
		kpanic.Fatal(h.ops, h.sink, "kheap.Free: guard byte corruption detected")
		return
	}

	h.usedBlocks--
	h.bytesAllocated -= size
	h.bytesAvailable += size
	h.writeHeader(off, size, sigFree)

	prev := int32(noBlock)
	cur := h.firstFree
	for cur != noBlock && cur < off {
		prev = cur
		cur, _ = h.readLinks(cur)
	}
	h.insertBetween(off, prev, cur)
	h.freeBlocks++

	if cur != noBlock {
		h.coalesce(off, cur)
	}
	if prev != noBlock {
		h.coalesce(prev, off)
	}
}

// coalesce merges second into first when they are address-adjacent
// and both free.
func (h *Heap) coalesce(first, second int32) {
	firstSize, _ := h.readHeader(first)
	if first+int32(blockHeaderSize)+firstSize != second {
		return
	}
	secondSize, _ := h.readHeader(second)
	next, _ := h.readLinks(second)

	h.freeBlocks--
	h.bytesAvailable += blockHeaderSize
	h.bytesOverhead -= blockHeaderSize

	newSize := firstSize + secondSize + blockHeaderSize
	h.writeHeader(first, newSize, sigFree)
	h.setNext(first, next)
	if next != noBlock {
		h.setPrev(next, first)
	} else {
		h.lastFree = first
	}
}

// Realloc is malloc+copy+free when growing, spec.md §4.D's contract;
// shrinking or same-size requests return the original offset
// unchanged.
func (h *Heap) Realloc(payload int32, newSize uint32) (int32, bool) {
	off := payload - blockHeaderSize
	if h.debug {
		off -= guardBytes
	}
	size, _ := h.readHeader(off)
	payloadSize := size
	if h.debug {
		payloadSize -= 2 * guardBytes
	}
	if payloadSize >= newSize {
		return payload, true
	}
	np, ok := h.Alloc(newSize)
	if !ok {
		return 0, false
	}
	copy(h.arena[np:np+int32(payloadSize)], h.arena[payload:payload+int32(payloadSize)])
	h.Free(payload)
	return np, true
}

// Bytes returns the backing arena slice, e.g. for a caller to read or
// write the payload at an offset Alloc/Realloc returned.
func (h *Heap) Bytes() []byte { return h.arena }

// Stats mirrors original_source/src/kernel/heap.c's HeapDebugDump
// fields, for diagnostics and test assertions.
type Stats struct {
	Size, UsedBlocks, FreeBlocks                  uint32
	BytesAllocated, BytesAvailable, BytesOverhead uint32
}

func (h *Heap) Stats() Stats {
	return Stats{
		Size:           uint32(len(h.arena)),
		UsedBlocks:     h.usedBlocks,
		FreeBlocks:     h.freeBlocks,
		BytesAllocated: h.bytesAllocated,
		BytesAvailable: h.bytesAvailable,
		BytesOverhead:  h.bytesOverhead,
	}
}

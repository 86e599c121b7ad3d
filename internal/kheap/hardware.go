package kheap

import "unsafe"

// NewMappedArena views a real mapped memory range — the heap region a
// vmm.AddressSpace.Alloc call already backed with physical frames —
// as the []byte arena Heap operates over. This is the one place kheap
// touches unsafe.Pointer; the allocator algorithm itself is plain byte-
// slice arithmetic and works identically over this or a test-only
// make([]byte, n).
func NewMappedArena(base uintptr, size uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
}

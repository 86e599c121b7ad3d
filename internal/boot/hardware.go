package boot

import (
	"unsafe"

	"github.com/dajoh/futura/internal/pmm"
	"github.com/dajoh/futura/internal/sched"
	"github.com/dajoh/futura/internal/vmm"
)

// physMemory is the identity-mapped low-memory accessor the boot
// sequence reads the multiboot tables and programs MMIO windows
// through, before any other subsystem's own Memory fake would apply.
// It satisfies vmm.Memory (ReadU32/WriteU32) and virtio.Memory
// (Read8..Read64/Write8..Write64) with the same pair of pointer casts
// internal/vmm's DirectMemory and internal/lapic/internal/ioapic's
// MMIORegisters already use — the one place this package touches
// unsafe.Pointer.
type physMemory struct{}

func (physMemory) Read8(addr uintptr) uint8    { return *(*uint8)(unsafe.Pointer(addr)) }
func (physMemory) Write8(addr uintptr, v uint8) { *(*uint8)(unsafe.Pointer(addr)) = v }
func (physMemory) Read16(addr uintptr) uint16   { return *(*uint16)(unsafe.Pointer(addr)) }
func (physMemory) Write16(addr uintptr, v uint16) {
	*(*uint16)(unsafe.Pointer(addr)) = v
}
func (physMemory) Read32(addr uintptr) uint32 { return *(*uint32)(unsafe.Pointer(addr)) }
func (physMemory) Write32(addr uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = v
}
func (physMemory) Read64(addr uintptr) uint64 { return *(*uint64)(unsafe.Pointer(addr)) }
func (physMemory) Write64(addr uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = v
}

func (physMemory) ReadU32(addr uintptr) uint32    { return *(*uint32)(unsafe.Pointer(addr)) }
func (physMemory) WriteU32(addr uintptr, v uint32) { *(*uint32)(unsafe.Pointer(addr)) = v }

// kernelStacks is the production sched.StackAllocator: physical frames
// from the allocator built in stage B, mapped into the kernel address
// space built in stage C. Grounded on sched/hardware.go's own doc
// comment, which names this exact pmm+vmm composition as the intended
// caller of WriteBytesAt.
type kernelStacks struct {
	phys *pmm.Allocator
	as   *vmm.AddressSpace
}

func (k *kernelStacks) AllocStack(pages uint32) uintptr {
	phys := k.phys.Alloc(pages, pmm.TagStack, "kernel stack")
	if phys == 0 {
		return 0
	}
	virt := k.as.Alloc(phys, pages, vmm.ProtWrite, "stack", "kernel stack")
	if virt == 0 {
		k.phys.Free(phys)
		return 0
	}
	return virt
}

func (k *kernelStacks) FreeStack(virt uintptr) {
	phys, ok := k.as.VirtToPhys(virt)
	k.as.Free(virt)
	if ok {
		k.phys.Free(phys)
	}
}

func (k *kernelStacks) WriteStack(addr uintptr, b []byte) {
	sched.WriteBytesAt(addr, b)
}

// pmmPhysPool is the production backing for every "give me addressable
// memory with a known physical address" interface this kernel's
// drivers need: internal/virtio.QueueMemory, internal/virtioblk and
// internal/virtiogpu's BufferAllocator, and virtioblk's
// PhysTranslator. All four just want pmm frames mapped into the
// kernel address space, so one pool serves them all rather than one
// adapter type per interface.
type pmmPhysPool struct {
	phys *pmm.Allocator
	as   *vmm.AddressSpace
}

func (p *pmmPhysPool) allocPages(size uint32) (virt, phys uintptr) {
	pages := (size + pmm.PageSize - 1) / pmm.PageSize
	if pages == 0 {
		pages = 1
	}
	ph := p.phys.Alloc(pages, pmm.TagHeap, "virtio")
	if ph == 0 {
		return 0, 0
	}
	v := p.as.Alloc(ph, pages, vmm.ProtWrite, "virtio", "buffer")
	if v == 0 {
		p.phys.Free(ph)
		return 0, 0
	}
	return v, ph
}

func (p *pmmPhysPool) freePages(virt uintptr) {
	phys, ok := p.as.VirtToPhys(virt)
	p.as.Free(virt)
	if ok {
		p.phys.Free(phys)
	}
}

func (p *pmmPhysPool) AllocBuffer(size uint32) (virt, phys uintptr) { return p.allocPages(size) }
func (p *pmmPhysPool) FreeBuffer(virt uintptr)                      { p.freePages(virt) }

func (p *pmmPhysPool) AllocQueueMemory(pages uint32) (virt, phys uintptr) {
	return p.allocPages(pages * pmm.PageSize)
}
func (p *pmmPhysPool) FreeQueueMemory(virt uintptr) { p.freePages(virt) }

func (p *pmmPhysPool) VirtToPhys(virt uintptr) uintptr {
	phys, _ := p.as.VirtToPhys(virt)
	return phys
}

// deferredFaultMapper is the production trap.PageFaultMapper: any
// not-yet-backed page gets one read/write, cache-disabled frame
// installed on first touch instead of panicking, the deferred-
// page-fault path spec.md §4.F's BeginDefer/FinishDefer pair exists
// to bound.
type deferredFaultMapper struct {
	phys *pmm.Allocator
	as   *vmm.AddressSpace
}

func (m *deferredFaultMapper) MapDeferred(virt uintptr) bool {
	aligned := virt &^ (pmm.PageSize - 1)
	if _, _, ok := m.as.PageTable().Translate(aligned); ok {
		return false
	}
	phys := m.phys.Alloc(1, pmm.TagHeap, "deferred page fault")
	if phys == 0 {
		return false
	}
	m.as.Map(phys, aligned, 1, vmm.ProtWrite|vmm.ProtNoCache, "heap", "deferred fault")
	return true
}

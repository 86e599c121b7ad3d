package vmm

import (
	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/kpanic"
)

// AddressSpace is one virtual address space (spec.md §3/§4.C): a page
// table plus an ordered, non-overlapping VirtRegion list and a
// begin_alloc cursor that Alloc scans forward from. The kernel's
// primary address space and every per-process user space are each one
// AddressSpace.
type AddressSpace struct {
	ops        cpu.Ops
	sink       kpanic.Sink
	pt         PageTable
	regions    regionList
	beginAlloc uintptr
	limit      uintptr
	active     bool
}

// New wraps pt in an AddressSpace covering virtual addresses
// [0, limit). limit is 0xC0000000 for a user space's own half and
// 0x100000000 (wrapping to 0 in 32-bit math, so callers pass it as the
// full 4GiB span) for the kernel's.
func New(ops cpu.Ops, sink kpanic.Sink, pt PageTable, limit uintptr) *AddressSpace {
	return &AddressSpace{ops: ops, sink: sink, pt: pt, limit: limit}
}

// Regions exposes the region list for diagnostics and tests.
func (as *AddressSpace) Regions() []VirtRegion { return as.regions.Regions() }

// PageTable exposes the underlying table, e.g. for CR3 loads and
// AliasUpperQuarter during user-space creation.
func (as *AddressSpace) PageTable() PageTable { return as.pt }

// SetActive marks whether this space is the one currently loaded in
// CR3; Map/Unmap only flush the TLB when active, since edits to an
// inactive space's tables take effect only once it's switched in.
func (as *AddressSpace) SetActive(active bool) { as.active = active }

// SetBeginAlloc moves the allocation cursor, e.g. to the start of the
// heap region once the early-mapping bootstrap has seeded the fixed
// regions (spec.md §4.C "Full state ... sets begin_alloc to the heap
// region").
func (as *AddressSpace) SetBeginAlloc(virt uintptr) { as.beginAlloc = virt }

func (as *AddressSpace) critical(fn func()) {
	wasEnabled := cpu.SaveFlagsAndDisable(as.ops)
	defer cpu.RestoreFlags(as.ops, wasEnabled)
	fn()
}

// Map installs phys -> virt for pages consecutive frames and inserts
// a VirtRegion describing the mapping; caller provides both addresses
// already page-aligned (spec.md §4.C "map(phys, virt, pages, prot,
// reason) — edit PTEs and flush TLB; caller provides both addresses").
func (as *AddressSpace) Map(phys, virt uintptr, pages uint32, prot Prot, tag, desc string) {
	as.critical(func() {
		for i := uint32(0); i < pages; i++ {
			as.pt.Map(virt+uintptr(i)*pageSize, phys+uintptr(i)*pageSize, prot, as.active)
		}
		as.regions.Insert(VirtRegion{Virt: virt, Physical: phys, Pages: pages, Prot: prot, Tag: tag, Desc: desc})
	})
}

// Unmap clears the PTEs for [virt, virt+pages*4096) without touching
// the region list — used when Free has already removed the region and
// just needs the page table cleared.
func (as *AddressSpace) Unmap(virt uintptr, pages uint32) {
	as.critical(func() {
		for i := uint32(0); i < pages; i++ {
			as.pt.Unmap(virt+uintptr(i)*pageSize, as.active)
		}
	})
}

// Alloc finds the first gap at or after begin_alloc that fits pages
// frames, maps phys (already page-aligned, already owned by the
// caller) there, and returns the chosen virtual address. Returns 0 on
// exhaustion of the address space.
func (as *AddressSpace) Alloc(phys uintptr, pages uint32, prot Prot, tag, desc string) uintptr {
	var result uintptr
	as.critical(func() {
		virt, ok := as.regions.FindGap(as.beginAlloc, pages, as.limit)
		if !ok {
			return
		}
		for i := uint32(0); i < pages; i++ {
			as.pt.Map(virt+uintptr(i)*pageSize, phys+uintptr(i)*pageSize, prot, as.active)
		}
		as.regions.Insert(VirtRegion{Virt: virt, Physical: phys, Pages: pages, Prot: prot, Tag: tag, Desc: desc})
		result = virt
	})
	return result
}

// AllocUnaligned is Alloc for a physical address that isn't
// page-aligned: it maps the containing pages and adds the intra-page
// offset back onto the returned pointer (spec.md §4.C "adds the
// intra-page offset to the returned pointer").
func (as *AddressSpace) AllocUnaligned(phys uintptr, size uint32, prot Prot, tag, desc string) uintptr {
	offset := phys & (pageSize - 1)
	base := phys &^ (pageSize - 1)
	pages := (uint32(offset) + size + pageSize - 1) / pageSize
	virt := as.Alloc(base, pages, prot, tag, desc)
	if virt == 0 {
		return 0
	}
	return virt + uintptr(offset)
}

// Free finds the region containing virt, unmaps all its pages, and
// removes it from the region list.
func (as *AddressSpace) Free(virt uintptr) {
	as.critical(func() {
		r, ok := as.regions.Containing(virt)
		if !ok {
			kpanic.Fatal(as.ops, as.sink, "vmm.Free: no region contains address")
			return
		}
		for i := uint32(0); i < r.Pages; i++ {
			as.pt.Unmap(r.Virt+uintptr(i)*pageSize, as.active)
		}
		as.regions.Remove(r.Virt)
	})
}

// PhysToVirt linear-scans the region list for the region whose
// physical span contains phys, returning the corresponding virtual
// address.
func (as *AddressSpace) PhysToVirt(phys uintptr) (uintptr, bool) {
	for _, r := range as.regions.Regions() {
		span := uintptr(r.Pages) * pageSize
		if phys >= r.Physical && phys < r.Physical+span {
			return r.Virt + (phys - r.Physical), true
		}
	}
	return 0, false
}

// VirtToPhys linear-scans the region list for the region containing
// virt, returning the corresponding physical address.
func (as *AddressSpace) VirtToPhys(virt uintptr) (uintptr, bool) {
	r, ok := as.regions.Containing(virt)
	if !ok {
		return 0, false
	}
	return r.Physical + (virt - r.Virt), true
}

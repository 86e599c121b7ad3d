package vmm

import "sort"

// VirtRegion is one entry of an address space's region list: a
// contiguous virtual span backed by a contiguous physical span, with
// its protection and a free-form description (spec.md §3: "protection,
// type tag, physical base, virtual span, description").
type VirtRegion struct {
	Virt     uintptr
	Physical uintptr
	Pages    uint32
	Prot     Prot
	Tag      string
	Desc     string
}

func (r VirtRegion) end() uintptr { return r.Virt + uintptr(r.Pages)*pageSize }

// regionList is the sorted, non-overlapping VirtRegion list backing
// an AddressSpace.
type regionList struct {
	regions []VirtRegion
}

func (rl *regionList) Regions() []VirtRegion { return rl.regions }

// Insert adds r, keeping the list sorted by Virt. The caller is
// responsible for having verified r doesn't overlap an existing
// region (spec.md's alloc/map callers always pick a gap first).
func (rl *regionList) Insert(r VirtRegion) {
	rl.regions = append(rl.regions, r)
	sort.Slice(rl.regions, func(i, j int) bool { return rl.regions[i].Virt < rl.regions[j].Virt })
}

// Remove deletes the region beginning exactly at virt, returning it.
func (rl *regionList) Remove(virt uintptr) (VirtRegion, bool) {
	for i, r := range rl.regions {
		if r.Virt == virt {
			rl.regions = append(rl.regions[:i], rl.regions[i+1:]...)
			return r, true
		}
	}
	return VirtRegion{}, false
}

// Containing returns the region whose span contains virt.
func (rl *regionList) Containing(virt uintptr) (VirtRegion, bool) {
	for _, r := range rl.regions {
		if virt >= r.Virt && virt < r.end() {
			return r, true
		}
	}
	return VirtRegion{}, false
}

// FindGap scans the list starting from the region at or after
// fromVirt for the first gap of at least pages*4096 bytes, returning
// its base virtual address (spec.md §4.C alloc: "scan regions from
// begin_alloc, pick the first gap ≥ pages*4096").
func (rl *regionList) FindGap(fromVirt uintptr, pages uint32, limit uintptr) (uintptr, bool) {
	need := uintptr(pages) * pageSize
	cursor := fromVirt
	for _, r := range rl.regions {
		if r.Virt < cursor {
			continue
		}
		if r.Virt-cursor >= need {
			return cursor, true
		}
		cursor = r.end()
	}
	if limit-cursor >= need {
		return cursor, true
	}
	return 0, false
}

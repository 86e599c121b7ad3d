// Package pmm is the physical frame allocator (spec component B):
// a page bitmap plus a typed, coalescing region list. Grounded on
// mazboot/golang/main/page.go's allocator shape, reworked from a
// linked free-page-list into the bitmap+region model spec.md §3/§4.B
// mandates, and on other_examples/gopher-os's vmm.go/
// bootmem_allocator_test.go for the "pure-Go, fake-backed, table
// driven" test shape.
package pmm

import (
	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/kpanic"
)

// PageSize is the frame size this allocator manages.
const PageSize = 4096

// MinAllocFrame is the frame index alloc() starts searching from
// (spec.md §4.B: "search bitmap for the first run of pages free bits
// starting ≥ 1 MiB").
const MinAllocFrame = (1 << 20) / PageSize

// Allocator owns the bitmap and region list and serializes all public
// operations under a critical section, per spec.md §4.B/§5.
type Allocator struct {
	ops     cpu.Ops
	sink    kpanic.Sink
	bitmap  *Bitmap
	regions *RegionList
}

// New constructs an Allocator over a bitmap sized for frames 4KiB
// frames of physical memory, with everything initially used; callers
// populate free spans via Mark with TagFree (the E820 bootstrap path)
// before any Alloc. sink may be nil (tests commonly pass nil and rely
// on kpanic.SetTestHook instead).
func New(ops cpu.Ops, sink kpanic.Sink, frames uint32) *Allocator {
	return &Allocator{ops: ops, sink: sink, bitmap: NewBitmap(frames), regions: NewRegionList()}
}

// Regions exposes the region list for diagnostics and tests.
func (a *Allocator) Regions() []Region { return a.regions.Regions() }

// Bitmap exposes the bitmap for diagnostics and tests.
func (a *Allocator) Bitmap() *Bitmap { return a.bitmap }

func frameOf(addr uintptr) uint32 { return uint32(addr / PageSize) }

// Mark marks [start, start+pages*4096) used with tag/desc, inserting
// (and coalescing) a region. start not being page-aligned is fatal
// (spec.md §4.B "Failure"); TagFree spans are the one exception,
// since Mark(..., TagFree, ...) is how the E820 bootstrap seeds the
// initially-all-used bitmap with "available" frames.
func (a *Allocator) Mark(start uintptr, pages uint32, tag Tag, desc string) {
	if start%PageSize != 0 {
		kpanic.Fatal(a.ops, a.sink, "pmm.Mark: start not page-aligned")
		return
	}
	wasEnabled := cpu.SaveFlagsAndDisable(a.ops)
	defer cpu.RestoreFlags(a.ops, wasEnabled)

	a.bitmap.MarkRange(frameOf(start), pages, tag == TagFree)
	a.regions.Insert(Region{Beg: start, Pages: pages, Tag: tag, Desc: desc})
}

// Alloc searches for the first run of pages free frames at or above
// 1MiB, marks them used under tag/desc, and returns the base address.
// Returns 0 on exhaustion (spec.md §4.B/§7: sentinel, not an error
// value).
func (a *Allocator) Alloc(pages uint32, tag Tag, desc string) uintptr {
	wasEnabled := cpu.SaveFlagsAndDisable(a.ops)
	defer cpu.RestoreFlags(a.ops, wasEnabled)

	start, ok := a.bitmap.FindFreeRun(pages, MinAllocFrame)
	if !ok {
		return 0
	}
	a.bitmap.MarkRange(start, pages, false)
	beg := uintptr(start) * PageSize
	a.regions.Insert(Region{Beg: beg, Pages: pages, Tag: tag, Desc: desc})
	return beg
}

// Free returns the region beginning at start to the free pool. The
// region must exist and not already be TagFree; both violations are
// fatal (spec.md §4.B "Failure": "free on an unknown address is
// fatal").
func (a *Allocator) Free(start uintptr) {
	wasEnabled := cpu.SaveFlagsAndDisable(a.ops)
	defer cpu.RestoreFlags(a.ops, wasEnabled)

	r, ok := a.regions.FindByBeg(start)
	if !ok {
		kpanic.Fatal(a.ops, a.sink, "pmm.Free: unknown address")
		return
	}
	if r.Tag == TagFree {
		kpanic.Fatal(a.ops, a.sink, "pmm.Free: double free")
		return
	}
	a.bitmap.MarkRange(frameOf(start), r.Pages, true)
	a.regions.Retag(start, TagFree, "")
}

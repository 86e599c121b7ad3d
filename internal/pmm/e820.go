package pmm

// E820Type is the raw multiboot/E820 memory-map entry type (spec.md
// §6: "type ∈ {1 available, 2 reserved, 3 ACPI reclaimable, 4 NVS,
// 5 bad}").
type E820Type uint32

const (
	E820Available E820Type = 1
	E820Reserved  E820Type = 2
	E820ACPIReclaim E820Type = 3
	E820NVS       E820Type = 4
	E820Bad       E820Type = 5
)

// E820Entry is one parsed multiboot memory-map record.
type E820Entry struct {
	Base uint64
	Len  uint64
	Type E820Type
}

func e820Tag(t E820Type) Tag {
	switch t {
	case E820Available:
		return TagFree
	case E820ACPIReclaim:
		return TagACPIReclaim
	case E820NVS:
		return TagACPINVS
	case E820Bad:
		return TagBad
	default:
		return TagE820Reserved
	}
}

// SystemRegion is one of the hardcoded spans spec.md §4.B's full path
// adds on top of the E820 map (IVT, EBDA, video memory, video BIOS,
// BIOS expansions, motherboard BIOS).
type SystemRegion struct {
	Beg, End uintptr
	Tag      Tag
	Desc     string
}

// HardcodedSystemRegions are the fixed-address spans spec.md §4.B
// names, independent of any particular machine's E820 map.
var HardcodedSystemRegions = []SystemRegion{
	{Beg: 0x00000000, End: 0x00001000, Tag: TagIVT, Desc: "IVT"},
	{Beg: 0x0009FC00, End: 0x000A0000, Tag: TagEBDA, Desc: "EBDA"},
	{Beg: 0x000A0000, End: 0x000C0000, Tag: TagVideo, Desc: "video memory"},
	{Beg: 0x000C0000, End: 0x000C8000, Tag: TagVideoBIOS, Desc: "video BIOS"},
	{Beg: 0x000C8000, End: 0x000F0000, Tag: TagBIOSExpansion, Desc: "BIOS expansions"},
	{Beg: 0x000F0000, End: 0x00100000, Tag: TagMotherboardBIOS, Desc: "motherboard BIOS"},
}

// LoadE820 seeds the bitmap and region list from the multiboot memory
// map: every available span is marked free, everything else used,
// then the hardcoded system regions and the kernel image span are
// layered on top (highest-tag-wins resolves any overlap with the
// E820 data, exactly as spec.md §4.B describes).
func (a *Allocator) LoadE820(entries []E820Entry, kernelImageEnd uintptr) {
	for _, e := range entries {
		begFrame := uint32(e.Base / PageSize)
		endFrame := uint32((e.Base + e.Len + PageSize - 1) / PageSize)
		if endFrame <= begFrame {
			continue
		}
		a.Mark(uintptr(begFrame)*PageSize, endFrame-begFrame, e820Tag(e.Type), "e820")
	}
	for _, sr := range HardcodedSystemRegions {
		pages := uint32((sr.End - sr.Beg) / PageSize)
		a.Mark(sr.Beg, pages, sr.Tag, sr.Desc)
	}
	const kernelImageBeg = 0x100000 // kernel loaded at 1MiB
	if kernelImageEnd > kernelImageBeg {
		pages := uint32((kernelImageEnd - kernelImageBeg + PageSize - 1) / PageSize)
		a.Mark(kernelImageBeg, pages, TagKernelImage, "kernel image")
	}
}

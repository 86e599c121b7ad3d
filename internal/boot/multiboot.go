package boot

import "github.com/dajoh/futura/internal/pmm"

// Multiboot magic value GRUB leaves in EAX at kernel entry
// (original_source/src/kernel/kmain.c's MULTIBOOT_BOOTLOADER_MAGIC
// check).
const multibootMagic uint32 = 0x2BADB002

// flagMemMap is MULTIBOOT_INFO_MEM_MAP: set when mmap_addr/mmap_length
// are valid.
const flagMemMap uint32 = 1 << 6

// MultibootInfo is the subset of the GRUB multiboot_info_t this kernel
// reads: the flags word that gates which fields are valid, and the
// memory-map location MemInitialize(info) walks in
// original_source/src/kernel/memory_phys.c.
type MultibootInfo struct {
	Flags      uint32
	MemLowerKB uint32
	MemUpperKB uint32
	MMapLength uint32
	MMapAddr   uintptr
}

// mmapReader is the narrow accessor ParseE820 needs to walk the raw
// memory-map buffer; physMemory satisfies it directly against
// identity-mapped physical memory, a fake satisfies it in tests.
type mmapReader interface {
	Read32(addr uintptr) uint32
	Read64(addr uintptr) uint64
}

// Byte offsets of the multiboot_info_t fields this kernel reads, per
// the Multiboot Specification's struct layout (flags word first,
// mem_lower/mem_upper next, then boot_device/cmdline/mods_count/
// mods_addr/syms before mmap_length/mmap_addr at 44/48).
const (
	infoOffFlags      = 0
	infoOffMemLower   = 4
	infoOffMemUpper   = 8
	infoOffMMapLength = 44
	infoOffMMapAddr   = 48
)

// ParseMultibootInfo reads the raw multiboot_info_t GRUB leaves at
// addr (pointed to by EBX at kernel entry) into a MultibootInfo.
// cmd/kernel/main.go is its only caller — by the time it runs, no
// page table or heap exists yet, so it reads physical memory
// directly exactly as bringUp's own E820 walk does.
func ParseMultibootInfo(addr uintptr) *MultibootInfo {
	mem := physMemory{}
	return &MultibootInfo{
		Flags:      mem.Read32(addr + infoOffFlags),
		MemLowerKB: mem.Read32(addr + infoOffMemLower),
		MemUpperKB: mem.Read32(addr + infoOffMemUpper),
		MMapLength: mem.Read32(addr + infoOffMMapLength),
		MMapAddr:   uintptr(mem.Read32(addr + infoOffMMapAddr)),
	}
}

// ParseE820 walks the multiboot memory map at info.MMapAddr and
// returns it as pmm.E820Entry values. Each record is a 4-byte size
// field (not counting itself) followed by base_addr/length/type;
// advancing by size+4 skips any trailing fields a newer bootloader
// appends, exactly as memory_phys.c's walk does.
func ParseE820(mem mmapReader, info *MultibootInfo) []pmm.E820Entry {
	if info.Flags&flagMemMap == 0 {
		return nil
	}

	var entries []pmm.E820Entry
	addr := info.MMapAddr
	end := info.MMapAddr + uintptr(info.MMapLength)
	for addr < end {
		size := mem.Read32(addr)
		if size == 0 {
			break
		}
		base := mem.Read64(addr + 4)
		length := mem.Read64(addr + 12)
		typ := mem.Read32(addr + 20)
		entries = append(entries, pmm.E820Entry{Base: base, Len: length, Type: pmm.E820Type(typ)})
		addr += uintptr(size) + 4
	}
	return entries
}

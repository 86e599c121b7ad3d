// Package vmm implements spec component C: the virtual address space
// and two-level x86 page tables. Grounded on
// mazboot/golang/main/mmu.go's mapPage/mapRegion/getPhysicalAddress
// shape (bump-allocated tables, walk-and-install, TLB flush after
// every edit) ported from ARM64's 4-level format down to x86's
// 2-level PDE/PTE, and on the PTE flag encoding contract in
// internal/bitfield's PTEFlags.
package vmm

import "github.com/dajoh/futura/internal/bitfield"

// Prot is the caller-facing protection request map/alloc take; it
// mirrors the READONLY/READWRITE/NOCACHE vocabulary spec.md §4.C maps
// onto Present/Writable/CacheDisable PTE bits.
type Prot uint8

const (
	ProtReadOnly Prot = 0
	ProtWrite    Prot = 1 << 0
	ProtNoCache  Prot = 1 << 1
	ProtUser     Prot = 1 << 2
)

func (p Prot) writable() bool { return p&ProtWrite != 0 }
func (p Prot) noCache() bool  { return p&ProtNoCache != 0 }
func (p Prot) user() bool     { return p&ProtUser != 0 }

// encode packs prot into the 32-bit entry format shared by PDEs and
// PTEs (bits 0-11 flags, bits 12-31 the frame address), via
// bitfield.PTEFlags so the bit layout has one source of truth with
// internal/bitfield's reflection-driven packer.
func encode(frame uintptr, prot Prot, present bool) uint32 {
	flags := bitfield.PTEFlags{
		Present:      present,
		Writable:     prot.writable(),
		User:         prot.user(),
		CacheDisable: prot.noCache(),
	}
	packed, err := flags.Pack()
	if err != nil {
		// PTEFlags' shape is fixed at compile time; Pack only fails on
		// a malformed bitfield tag, which would be a programming bug
		// caught immediately by any test exercising this path.
		panic(err)
	}
	return packed | uint32(frame&^0xFFF)
}

func decode(entry uint32) (frame uintptr, prot Prot, present bool) {
	present = entry&0x1 != 0
	if entry&0x2 != 0 {
		prot |= ProtWrite
	}
	if entry&0x4 != 0 {
		prot |= ProtUser
	}
	if entry&0x8 != 0 {
		prot |= ProtNoCache
	}
	frame = uintptr(entry &^ 0xFFF)
	return
}

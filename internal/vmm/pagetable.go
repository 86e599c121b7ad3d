package vmm

import "github.com/dajoh/futura/internal/cpu"

const (
	pdeCount  = 1024
	pteCount  = 1024
	pageSize  = 4096
	pdeShift  = 22
	pteShift  = 12
	pteIdxMsk = 0x3FF
)

// Memory is the narrow physical-memory accessor PageTable needs to
// read and write PDE/PTE words. Production wires this to the
// identity-mapped low-memory window every mazboot-style kernel relies
// on for its own bookkeeping structures; tests use a map-backed fake,
// following the same "small Ops-shaped interface, Fake for tests"
// pattern internal/cpu establishes.
type Memory interface {
	ReadU32(addr uintptr) uint32
	WriteU32(addr uintptr, v uint32)
}

// PageTable is the hardware-facing boundary AddressSpace drives; its
// production implementation is X86PageTable, its test double is
// FakePageTable.
type PageTable interface {
	// DirPhys is the physical address of this table's page directory,
	// suitable for loading into CR3.
	DirPhys() uintptr
	// Map installs a present PTE for virt -> phys with prot, flushing
	// the TLB for virt if active is true.
	Map(virt, phys uintptr, prot Prot, active bool)
	// Unmap clears the PTE for virt, flushing the TLB for virt if
	// active is true.
	Unmap(virt uintptr, active bool)
	// Translate returns the physical address and protection mapped at
	// virt, if any.
	Translate(virt uintptr) (phys uintptr, prot Prot, ok bool)
}

// X86PageTable is the production PageTable: a page directory plus
// pdeCount page tables, all frames supplied by the physical allocator
// and addressed through mem (spec.md §4.C "Early mapping": "allocate
// 1025 frames (page dir + 1024 tables); pre-install every PDE to point
// at its table").
type X86PageTable struct {
	ops     cpu.Ops
	mem     Memory
	dirPhys uintptr
	tables  [pdeCount]uintptr // physical address of each PDE's table, 0 if unallocated
}

// NewX86PageTable builds a page table over dirPhys (a frame the
// allocator has already handed out) with every page table physical
// address in tables pre-installed as a present PDE — tables[i] == 0
// means that PDE slot stays not-present (spec.md's user-space variant
// leaves the lower slots empty until fresh tables are allocated for
// them, and aliases the kernel's tables into the upper quarter).
func NewX86PageTable(ops cpu.Ops, mem Memory, dirPhys uintptr, tables [pdeCount]uintptr) *X86PageTable {
	pt := &X86PageTable{ops: ops, mem: mem, dirPhys: dirPhys, tables: tables}
	for i := 0; i < pdeCount; i++ {
		pdeAddr := dirPhys + uintptr(i)*4
		if tables[i] == 0 {
			mem.WriteU32(pdeAddr, 0)
			continue
		}
		mem.WriteU32(pdeAddr, encode(tables[i], ProtWrite|ProtUser, true))
	}
	return pt
}

func (pt *X86PageTable) DirPhys() uintptr { return pt.dirPhys }

func (pt *X86PageTable) pteAddr(virt uintptr) (addr uintptr, ok bool) {
	pdeIdx := virt >> pdeShift
	table := pt.tables[pdeIdx]
	if table == 0 {
		return 0, false
	}
	pteIdx := (virt >> pteShift) & pteIdxMsk
	return table + pteIdx*4, true
}

func (pt *X86PageTable) Map(virt, phys uintptr, prot Prot, active bool) {
	addr, ok := pt.pteAddr(virt)
	if !ok {
		return
	}
	pt.mem.WriteU32(addr, encode(phys, prot, true))
	if active {
		pt.ops.InvlpgSingle(virt)
	}
}

func (pt *X86PageTable) Unmap(virt uintptr, active bool) {
	addr, ok := pt.pteAddr(virt)
	if !ok {
		return
	}
	pt.mem.WriteU32(addr, 0)
	if active {
		pt.ops.InvlpgSingle(virt)
	}
}

func (pt *X86PageTable) Translate(virt uintptr) (phys uintptr, prot Prot, ok bool) {
	addr, tableOK := pt.pteAddr(virt)
	if !tableOK {
		return 0, 0, false
	}
	frame, p, present := decode(pt.mem.ReadU32(addr))
	if !present {
		return 0, 0, false
	}
	return frame | (virt & (pageSize - 1)), p, true
}

// AliasUpperQuarter copies the kernel table's PDEs for indices
// [0x300, 0x400) (virtual addresses ≥ 0xC0000000) into pt, so a fresh
// user page table shares the kernel's upper-quarter mapping without
// duplicating its tables (spec.md §4.C: "aliases the kernel's page
// tables for the upper 1 GiB").
func (pt *X86PageTable) AliasUpperQuarter(kernel *X86PageTable) {
	const kernelPDEBase = 0xC0000000 >> pdeShift
	for i := kernelPDEBase; i < pdeCount; i++ {
		pt.tables[i] = kernel.tables[i]
		pdeAddr := pt.dirPhys + uintptr(i)*4
		if pt.tables[i] == 0 {
			pt.mem.WriteU32(pdeAddr, 0)
			continue
		}
		pt.mem.WriteU32(pdeAddr, encode(pt.tables[i], ProtWrite, true))
	}
}

package lapic

import "unsafe"

// MMIORegisters views the real local APIC MMIO page (mapped by the
// caller via vmm) as Registers. The one place this package touches
// unsafe.Pointer.
type MMIORegisters struct{ base uintptr }

func NewMMIORegisters(base uintptr) MMIORegisters { return MMIORegisters{base: base} }

func (r MMIORegisters) Read32(offset uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(r.base + offset))
}

func (r MMIORegisters) Write32(offset uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(r.base + offset)) = v
}

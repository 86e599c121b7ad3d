package ioapic

import "unsafe"

// MMIORegisters is the real IO-APIC register window: REGSEL at offset
// 0x00 selects a register, WINDOW at offset 0x10 reads/writes it
// (ported from original_source/src/kernel/ioapic.c's
// IoApicRead/IoApicWrite). The one place this package touches
// unsafe.Pointer.
type MMIORegisters struct{ base uintptr }

func NewMMIORegisters(base uintptr) MMIORegisters { return MMIORegisters{base: base} }

func (r MMIORegisters) Read(reg uint32) uint32 {
	*(*uint32)(unsafe.Pointer(r.base)) = reg & 0xff
	return *(*uint32)(unsafe.Pointer(r.base + 0x10))
}

func (r MMIORegisters) Write(reg uint32, v uint32) {
	*(*uint32)(unsafe.Pointer(r.base)) = reg & 0xff
	*(*uint32)(unsafe.Pointer(r.base + 0x10)) = v
}

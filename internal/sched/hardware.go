package sched

import "unsafe"

// Switcher performs the actual machine context switch (spec.md §9):
// save the calling task's callee-saved registers and stack pointer
// into *saveESP, then load resumeESP and resume whatever that stack's
// top frame represents — either a previously-parked SwitchTo call, or,
// for a never-yet-run task, the trampoline InitialFrame seeded.
type Switcher interface {
	SwitchTo(saveESP *uintptr, resumeESP uintptr)
}

// HardwareSwitcher is the production Switcher: a thin wrapper around a
// function implemented in an external assembly file (asm_amd64.s, not
// part of this module), the same external-collaborator boundary
// internal/cpu's Hardware draws around IN/OUT and friends.
type HardwareSwitcher struct{}

//go:nosplit
func (HardwareSwitcher) SwitchTo(saveESP *uintptr, resumeESP uintptr) {
	asmSwitchTo(saveESP, resumeESP)
}

// Implemented in asm_amd64.s and linked in by the boot toolchain;
// there is no Go body in this module.
func asmSwitchTo(saveESP *uintptr, resumeESP uintptr)

// WriteBytesAt copies b starting at addr through a raw unsafe.Pointer
// cast — the one place this package touches unsafe.Pointer, and the
// helper a production StackAllocator.WriteStack (in internal/boot,
// where pmm+vmm compose into one kernel address space) delegates to
// once it has mapped the stack in.
func WriteBytesAt(addr uintptr, b []byte) {
	for i, v := range b {
		*(*byte)(unsafe.Pointer(addr + uintptr(i))) = v
	}
}

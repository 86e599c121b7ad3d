package cpu

// Hardware is the production Ops implementation. Its methods are
// thin, go:nosplit-safe wrappers around functions implemented in an
// external assembly file (asm_amd64.s, not part of this module —
// spec.md treats the ISR/context-switch assembly as a trusted
// external collaborator, and the same boundary applies to the
// handful of instructions Go cannot emit directly: IN/OUT, RDMSR/
// WRMSR, CPUID, INVLPG, and MOV to/from CR2/CR3). This mirrors
// mazboot/golang/main/memory.go's readMemory32/writeMemory32 style:
// every hardware touch is a one-line wrapper, never inlined ad hoc at
// the call site.
type Hardware struct{}

//go:nosplit
func (Hardware) InB(port uint16) uint8 { return asmInB(port) }

//go:nosplit
func (Hardware) OutB(port uint16, v uint8) { asmOutB(port, v) }

//go:nosplit
func (Hardware) InW(port uint16) uint16 { return asmInW(port) }

//go:nosplit
func (Hardware) OutW(port uint16, v uint16) { asmOutW(port, v) }

//go:nosplit
func (Hardware) InL(port uint16) uint32 { return asmInL(port) }

//go:nosplit
func (Hardware) OutL(port uint16, v uint32) { asmOutL(port, v) }

//go:nosplit
func (Hardware) Rdmsr(ecx uint32) uint64 { return asmRdmsr(ecx) }

//go:nosplit
func (Hardware) Wrmsr(ecx uint32, v uint64) { asmWrmsr(ecx, v) }

//go:nosplit
func (Hardware) Cpuid(fn uint32) (eax, ebx, ecx, edx uint32) { return asmCpuid(fn) }

//go:nosplit
func (Hardware) Rdtsc() uint64 { return asmRdtsc() }

//go:nosplit
func (Hardware) ReadCR2() uintptr { return asmReadCR2() }

//go:nosplit
func (Hardware) WriteCR3(pageDirPhys uintptr) { asmWriteCR3(pageDirPhys) }

//go:nosplit
func (Hardware) InvlpgSingle(virt uintptr) { asmInvlpg(virt) }

//go:nosplit
func (Hardware) Hlt() { asmHlt() }

//go:nosplit
func (Hardware) Nop() { asmNop() }

//go:nosplit
func (Hardware) EnableInterrupts() { asmSti() }

//go:nosplit
func (Hardware) DisableInterrupts() { asmCli() }

//go:nosplit
func (Hardware) InterruptsEnabled() bool { return asmFlagsIF() }

//go:nosplit
func (Hardware) HaltForever() {
	asmCli()
	for {
		asmHlt()
	}
}

// The functions below are implemented in asm_amd64.s and linked in by
// the boot toolchain; there are no Go bodies in this module.

func asmInB(port uint16) uint8
func asmOutB(port uint16, v uint8)
func asmInW(port uint16) uint16
func asmOutW(port uint16, v uint16)
func asmInL(port uint16) uint32
func asmOutL(port uint16, v uint32)
func asmRdmsr(ecx uint32) uint64
func asmWrmsr(ecx uint32, v uint64)
func asmCpuid(fn uint32) (eax, ebx, ecx, edx uint32)
func asmRdtsc() uint64
func asmReadCR2() uintptr
func asmWriteCR3(pageDirPhys uintptr)
func asmInvlpg(virt uintptr)
func asmHlt()
func asmNop()
func asmSti()
func asmCli()
func asmFlagsIF() bool

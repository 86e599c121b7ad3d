package cpu

// Fake is an in-memory Ops implementation for tests: port and MSR
// space are plain maps, CPUID leaves are injectable, and HaltForever
// records that it was called instead of spinning, so a test can
// assert a fatal path was taken without hanging the test binary.
type Fake struct {
	Ports   map[uint16]uint32
	MSRs    map[uint32]uint64
	CPUID   map[uint32][4]uint32
	CR2     uintptr
	CR3     uintptr
	Tsc     uint64
	IntEn   bool
	Halted  bool
	Invlpgs []uintptr
}

// NewFake returns a Fake with interrupts initially enabled, matching
// the post-boot state described in spec.md §2.
func NewFake() *Fake {
	return &Fake{
		Ports: map[uint16]uint32{},
		MSRs:  map[uint32]uint64{},
		CPUID: map[uint32][4]uint32{},
		IntEn: true,
	}
}

func (f *Fake) InB(port uint16) uint8     { return uint8(f.Ports[port]) }
func (f *Fake) OutB(port uint16, v uint8) { f.Ports[port] = uint32(v) }
func (f *Fake) InW(port uint16) uint16    { return uint16(f.Ports[port]) }
func (f *Fake) OutW(port uint16, v uint16) { f.Ports[port] = uint32(v) }
func (f *Fake) InL(port uint16) uint32    { return f.Ports[port] }
func (f *Fake) OutL(port uint16, v uint32) { f.Ports[port] = v }

func (f *Fake) Rdmsr(ecx uint32) uint64        { return f.MSRs[ecx] }
func (f *Fake) Wrmsr(ecx uint32, v uint64)     { f.MSRs[ecx] = v }

func (f *Fake) Cpuid(fn uint32) (eax, ebx, ecx, edx uint32) {
	v := f.CPUID[fn]
	return v[0], v[1], v[2], v[3]
}

func (f *Fake) Rdtsc() uint64 { f.Tsc++; return f.Tsc }

func (f *Fake) ReadCR2() uintptr          { return f.CR2 }
func (f *Fake) WriteCR3(p uintptr)        { f.CR3 = p }
func (f *Fake) InvlpgSingle(v uintptr)    { f.Invlpgs = append(f.Invlpgs, v) }

func (f *Fake) Hlt() {}
func (f *Fake) Nop() {}

func (f *Fake) EnableInterrupts()      { f.IntEn = true }
func (f *Fake) DisableInterrupts()     { f.IntEn = false }
func (f *Fake) InterruptsEnabled() bool { return f.IntEn }

func (f *Fake) HaltForever() {
	f.IntEn = false
	f.Halted = true
}

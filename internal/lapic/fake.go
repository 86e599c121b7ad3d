package lapic

// FakeRegisters is a map-backed Registers for tests.
type FakeRegisters struct {
	words map[uintptr]uint32
}

func NewFakeRegisters() *FakeRegisters { return &FakeRegisters{words: make(map[uintptr]uint32)} }

func (r *FakeRegisters) Read32(offset uintptr) uint32     { return r.words[offset] }
func (r *FakeRegisters) Write32(offset uintptr, v uint32) { r.words[offset] = v }

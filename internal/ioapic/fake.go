package ioapic

// FakeRegisters is a map-backed Registers for tests.
type FakeRegisters struct {
	regs map[uint32]uint32
}

func NewFakeRegisters() *FakeRegisters { return &FakeRegisters{regs: make(map[uint32]uint32)} }

func (r *FakeRegisters) Read(reg uint32) uint32     { return r.regs[reg] }
func (r *FakeRegisters) Write(reg uint32, v uint32) { r.regs[reg] = v }

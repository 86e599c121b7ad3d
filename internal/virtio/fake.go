package virtio

// FakeMemory is a byte-addressable, map-backed stand-in for the real
// MMIO accessor, the same style internal/vmm.FakeMemory uses for page
// table entries: every load/store goes through a map keyed by address
// instead of an unsafe.Pointer dereference.
type FakeMemory struct {
	bytes map[uintptr]uint8
}

// NewFakeMemory returns an empty fake; reads of untouched addresses
// return 0, matching freshly-allocated queue memory.
func NewFakeMemory() *FakeMemory {
	return &FakeMemory{bytes: make(map[uintptr]uint8)}
}

func (m *FakeMemory) Read8(addr uintptr) uint8 { return m.bytes[addr] }
func (m *FakeMemory) Write8(addr uintptr, v uint8) { m.bytes[addr] = v }

func (m *FakeMemory) Read16(addr uintptr) uint16 {
	return uint16(m.Read8(addr)) | uint16(m.Read8(addr+1))<<8
}

func (m *FakeMemory) Write16(addr uintptr, v uint16) {
	m.Write8(addr, uint8(v))
	m.Write8(addr+1, uint8(v>>8))
}

func (m *FakeMemory) Read32(addr uintptr) uint32 {
	return uint32(m.Read16(addr)) | uint32(m.Read16(addr+2))<<16
}

func (m *FakeMemory) Write32(addr uintptr, v uint32) {
	m.Write16(addr, uint16(v))
	m.Write16(addr+2, uint16(v>>16))
}

func (m *FakeMemory) Read64(addr uintptr) uint64 {
	return uint64(m.Read32(addr)) | uint64(m.Read32(addr+4))<<32
}

func (m *FakeMemory) Write64(addr uintptr, v uint64) {
	m.Write32(addr, uint32(v))
	m.Write32(addr+4, uint32(v>>32))
}

// FakeQueueMemory hands out virtqueue allocations from an
// ever-increasing fake address space, recording a Go-heap buffer per
// allocation. Queue reads/writes those addresses through Memory, so
// with FakeMemory the bytes live in its map; the recorded buffers are
// not read or written.
type FakeQueueMemory struct {
	bufs map[uintptr][]byte
	mem  *FakeMemory
	next uintptr
}

// NewFakeQueueMemory returns a fake whose allocations are served from
// an ever-increasing fake address space backed by mem, so Queue's
// reads and writes land in the same FakeMemory the test inspects.
func NewFakeQueueMemory(mem *FakeMemory) *FakeQueueMemory {
	return &FakeQueueMemory{bufs: make(map[uintptr][]byte), mem: mem, next: 0x10000}
}

func (f *FakeQueueMemory) AllocQueueMemory(pages uint32) (uintptr, uintptr) {
	size := int(pages) * pageSize
	buf := make([]byte, size)
	addr := f.next
	f.next += uintptr(size)
	f.bufs[addr] = buf
	return addr, addr
}

func (f *FakeQueueMemory) FreeQueueMemory(virt uintptr) {
	delete(f.bufs, virt)
}

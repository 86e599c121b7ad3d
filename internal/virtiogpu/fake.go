package virtiogpu

// FakeBufferAllocator serves command/response scratch space from a
// growing fake address space, the same style
// internal/virtioblk.FakeBufferAllocator uses.
type FakeBufferAllocator struct {
	bufs map[uintptr][]byte
	next uintptr
}

func NewFakeBufferAllocator() *FakeBufferAllocator {
	return &FakeBufferAllocator{bufs: make(map[uintptr][]byte), next: 0x90000}
}

func (f *FakeBufferAllocator) AllocBuffer(size uint32) (uintptr, uintptr) {
	buf := make([]byte, size)
	addr := f.next
	f.next += uintptr(size)
	f.bufs[addr] = buf
	return addr, addr
}

func (f *FakeBufferAllocator) FreeBuffer(virt uintptr) {
	delete(f.bufs, virt)
}

// FakeScheduler counts Yield calls, the same style
// internal/virtioblk.FakeScheduler uses.
type FakeScheduler struct {
	Yields int
}

func (f *FakeScheduler) Yield() { f.Yields++ }

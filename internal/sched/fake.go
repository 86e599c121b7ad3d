package sched

import "unsafe"

// FakeSwitcher is a recording Switcher for tests: it never actually
// transfers control (there is no real stack to jump to in a hosted Go
// test binary), it just notes which stack pointers were saved/resumed
// so a test can assert a switch occurred. Scheduler bookkeeping (run
// list, sleep list, wait list membership) happens entirely before
// SwitchTo is called, so this is enough to exercise every list
// transition Yield/Sleep/Suspend/WakeOne make.
type FakeSwitcher struct {
	Switches []FakeSwitch
}

// FakeSwitch records one SwitchTo call.
type FakeSwitch struct {
	Saved  uintptr
	Resume uintptr
}

func NewFakeSwitcher() *FakeSwitcher { return &FakeSwitcher{} }

func (f *FakeSwitcher) SwitchTo(saveESP *uintptr, resumeESP uintptr) {
	f.Switches = append(f.Switches, FakeSwitch{Saved: *saveESP, Resume: resumeESP})
}

// FakeStackAllocator hands out real Go-heap-backed buffers for tests,
// so CreateTask's InitialFrame write lands in valid memory instead of
// an arbitrary bump-pointer address. It never reuses freed stacks, but
// records frees so a test can assert CreateTask/Yield return stacks to
// the allocator.
type FakeStackAllocator struct {
	bufs  map[uintptr][]byte
	Freed []uintptr
}

func NewFakeStackAllocator() *FakeStackAllocator {
	return &FakeStackAllocator{bufs: make(map[uintptr][]byte)}
}

func (f *FakeStackAllocator) AllocStack(pages uint32) uintptr {
	buf := make([]byte, uintptr(pages)*pageSize)
	virt := uintptr(unsafe.Pointer(&buf[0]))
	f.bufs[virt] = buf // keep the slice reachable so the address stays valid
	return virt
}

func (f *FakeStackAllocator) FreeStack(virt uintptr) {
	delete(f.bufs, virt)
	f.Freed = append(f.Freed, virt)
}

func (f *FakeStackAllocator) WriteStack(addr uintptr, b []byte) {
	WriteBytesAt(addr, b)
}

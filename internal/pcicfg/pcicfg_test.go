package pcicfg

import "testing"

func TestReadConfig16ExtractsUpperOrLowerHalf(t *testing.T) {
	f := NewFakeConfigSpace()
	f.Set(0, 1, 0, 0x00, 0x11110001) // device=0x1111, vendor=0x0001

	if got := ReadConfig16(f, 0, 1, 0, 0x00); got != 0x0001 {
		t.Fatalf("vendor half: got 0x%04x, want 0x0001", got)
	}
	if got := ReadConfig16(f, 0, 1, 0, 0x02); got != 0x1111 {
		t.Fatalf("device half: got 0x%04x, want 0x1111", got)
	}
}

func TestReadConfig8ExtractsByte(t *testing.T) {
	f := NewFakeConfigSpace()
	f.Set(0, 1, 0, 0x34, 0xAABBCC40) // capabilities pointer byte = 0x40

	if got := ReadConfig8(f, 0, 1, 0, 0x34); got != 0x40 {
		t.Fatalf("got 0x%02x, want 0x40", got)
	}
	if got := ReadConfig8(f, 0, 1, 0, 0x36); got != 0xBB {
		t.Fatalf("got 0x%02x, want 0xBB", got)
	}
}

func TestWriteConfig32RoundTrips(t *testing.T) {
	f := NewFakeConfigSpace()
	f.WriteConfig32(1, 2, 3, 0x10, 0xDEADBEEF)

	if got := f.ReadConfig32(1, 2, 3, 0x10); got != 0xDEADBEEF {
		t.Fatalf("got 0x%08x, want 0xDEADBEEF", got)
	}
}

func TestConfigSpaceAddressesCF8CFC(t *testing.T) {
	// address() is exercised indirectly through ConfigSpace; this just
	// locks down the bit packing the legacy mechanism #1 register
	// requires, since a transposed shift here would silently corrupt
	// every PCI access.
	got := address(1, 2, 3, 0x10)
	want := uint32(1<<31 | 1<<16 | 2<<11 | 3<<8 | 0x10)
	if got != want {
		t.Fatalf("address() = 0x%08x, want 0x%08x", got, want)
	}
}

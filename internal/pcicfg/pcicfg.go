// Package pcicfg is the legacy x86 PCI configuration-space accessor:
// the CONFIG_ADDRESS (0xCF8) / CONFIG_DATA (0xCFC) port pair, mechanism
// #1 of the PCI spec. It plays the same role here that
// src/mazboot/golang/main/pci_qemu.go's ECAM reader plays for that
// teacher's aarch64 target — internal/virtio's capability walk depends
// on the narrow Reader/Writer interfaces below, not this concrete type,
// so the walk itself is testable without real port I/O.
package pcicfg

import "github.com/dajoh/futura/internal/cpu"

const (
	configAddressPort = 0x0CF8
	configDataPort    = 0x0CFC
)

// Reader is the read half of PCI configuration space access.
type Reader interface {
	ReadConfig32(bus, dev, fn, offset uint8) uint32
}

// Writer is the write half.
type Writer interface {
	WriteConfig32(bus, dev, fn, offset uint8, value uint32)
}

// ConfigSpace implements Reader/Writer over the legacy port-I/O
// mechanism.
type ConfigSpace struct {
	ops cpu.Ops
}

// New builds a ConfigSpace over ops.
func New(ops cpu.Ops) *ConfigSpace {
	return &ConfigSpace{ops: ops}
}

func address(bus, dev, fn, offset uint8) uint32 {
	return 1<<31 | uint32(bus)<<16 | uint32(dev)<<11 | uint32(fn)<<8 | uint32(offset&0xFC)
}

// ReadConfig32 reads a 32-bit dword at offset (rounded down to a
// 4-byte boundary, per the CONFIG_ADDRESS register's own alignment
// requirement).
func (c *ConfigSpace) ReadConfig32(bus, dev, fn, offset uint8) uint32 {
	c.ops.OutL(configAddressPort, address(bus, dev, fn, offset))
	return c.ops.InL(configDataPort)
}

// WriteConfig32 writes a 32-bit dword at offset.
func (c *ConfigSpace) WriteConfig32(bus, dev, fn, offset uint8, value uint32) {
	c.ops.OutL(configAddressPort, address(bus, dev, fn, offset))
	c.ops.OutL(configDataPort, value)
}

// ReadConfig16 reads a 16-bit word by reading the containing dword and
// shifting out the half the offset selects.
func ReadConfig16(r Reader, bus, dev, fn, offset uint8) uint16 {
	word := r.ReadConfig32(bus, dev, fn, offset&0xFC)
	return uint16(word >> ((offset & 2) * 8))
}

// ReadConfig8 reads a single byte by reading the containing dword and
// shifting out the byte the offset selects.
func ReadConfig8(r Reader, bus, dev, fn, offset uint8) uint8 {
	word := r.ReadConfig32(bus, dev, fn, offset&0xFC)
	return uint8(word >> ((offset & 3) * 8))
}

// Package virtio is the split-ring transport (spec component I): PCI
// capability discovery, feature negotiation, per-queue memory layout,
// the descriptor free-list allocator, and used-ring reaping that
// internal/virtioblk and internal/virtiogpu build their front-ends on.
// Grounded on src/mazboot/golang/main/virtio_gpu.go and virtio_rng.go
// (VIRTIO_PCI_COMMON_CFG_* register offsets, status bits, the
// reset->ACKNOWLEDGE->DRIVER->FEATURES_OK->DRIVER_OK sequence,
// descriptor free-list threading) adapted from that teacher's
// single-static-queue aarch64/MMIO-register idiom to this kernel's
// general N-queue x86 PCI device model; internal/pcicfg supplies the
// capability-only accessor spec.md treats as external.
package virtio

import (
	"github.com/dajoh/futura/internal/bitfield"
	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/kpanic"
)

// PCI capability types (PCI_CAP_ID_VNDR plus the virtio cfg_type byte
// inside it), matching pci_qemu.go's PCI_CAP_VENDOR_SPECIFIC family.
const (
	capVendorSpecific = 0x09

	cfgTypeCommon = 1
	cfgTypeNotify = 2
	cfgTypeISR    = 3
	cfgTypeDevice = 4
)

// Common config register offsets, matching
// VIRTIO_PCI_COMMON_CFG_* in virtio_gpu.go.
const (
	regDeviceFeatureSelect = 0x00
	regDeviceFeature       = 0x04
	regDriverFeatureSelect = 0x08
	regDriverFeature       = 0x0C
	regNumQueues           = 0x12
	regDeviceStatus        = 0x14
	regQueueSelect         = 0x16
	regQueueSize           = 0x18
	regQueueEnable         = 0x1C
	regQueueNotifyOff      = 0x1E
	regQueueDescLow        = 0x20
	regQueueDescHigh       = 0x24
	regQueueAvailLow       = 0x28
	regQueueAvailHigh      = 0x2C
	regQueueUsedLow        = 0x30
	regQueueUsedHigh       = 0x34
)

// Descriptor flags (spec.md §4.I).
const (
	DescNext     uint16 = 1 << 0
	DescWrite    uint16 = 1 << 1
	DescIndirect uint16 = 1 << 2
)

// Capability is one resolved virtio-PCI capability: a BAR plus the
// byte offset and length of the region within it.
type Capability struct {
	Bar    uint8
	Offset uint32
	Length uint32
}

// Memory is the raw MMIO accessor internal/virtio needs to talk to the
// common-config, notify, and ISR BAR windows; the real implementation
// is a flat unsafe.Pointer dereference (x86 MMIO is ordinary memory
// traffic, unlike the ARM teacher's asm.MmioRead/Write), the same
// narrow-interface-over-one-unsafe-type split internal/vmm's
// DirectMemory and internal/kheap's hardware.go already use.
type Memory interface {
	Read8(addr uintptr) uint8
	Write8(addr uintptr, v uint8)
	Read16(addr uintptr) uint16
	Write16(addr uintptr, v uint16)
	Read32(addr uintptr) uint32
	Write32(addr uintptr, v uint32)
	Read64(addr uintptr) uint64
	Write64(addr uintptr, v uint64)
}

// QueueMemory provides and reclaims the physically-contiguous backing
// memory for one virtqueue's descriptor table + rings; production
// wires this to a pmm+vmm pair (alloc physical frames, map them into
// kernel space), tests use a fake backed by real Go memory, the same
// split internal/sched.StackAllocator uses for task stacks.
type QueueMemory interface {
	AllocQueueMemory(pages uint32) (virt uintptr, phys uintptr)
	FreeQueueMemory(virt uintptr)
}

// Logger is the diagnostic sink for capability/negotiation messages.
type Logger interface {
	Print(s string)
}

// Device is one virtio-PCI device: the resolved capability windows,
// the negotiated feature set, and its virtqueues.
type Device struct {
	ops  cpu.Ops
	sink kpanic.Sink
	log  Logger
	mem  Memory
	mm   QueueMemory

	bus, slot, fn uint8

	commonBase uintptr
	notifyBase uintptr
	isrBase    uintptr
	deviceBase uintptr

	notifyMultiplier uint32
	numQueues        uint16

	queues []*Queue
}

// New builds a Device bound to an already-enumerated PCI function and
// its resolved BAR base addresses (bar-to-virtual-address translation
// is the caller's job; internal/boot's virtiopci.go does it).
func New(ops cpu.Ops, sink kpanic.Sink, log Logger, mem Memory, mm QueueMemory, bus, slot, fn uint8, commonBase, notifyBase, isrBase, deviceBase uintptr, notifyMultiplier uint32) *Device {
	return &Device{
		ops: ops, sink: sink, log: log, mem: mem, mm: mm,
		bus: bus, slot: slot, fn: fn,
		commonBase: commonBase, notifyBase: notifyBase, isrBase: isrBase, deviceBase: deviceBase,
		notifyMultiplier: notifyMultiplier,
	}
}

func (d *Device) writeStatus(s bitfield.VirtioStatus) {
	v, err := s.Pack()
	if err != nil {
		kpanic.Fatal(d.ops, d.sink, "virtio.Device: status pack failed")
		return
	}
	d.mem.Write8(d.commonBase+regDeviceStatus, v)
}

func (d *Device) readStatus() bitfield.VirtioStatus {
	return bitfield.Unpack(d.mem.Read8(d.commonBase + regDeviceStatus))
}

// Reset writes 0 to device_status, the first step of every
// initialization per spec.md §4.I.
func (d *Device) Reset() {
	d.mem.Write8(d.commonBase+regDeviceStatus, 0)
}

// Acknowledge sets ACKNOWLEDGE then DRIVER, in that order.
func (d *Device) Acknowledge() {
	d.writeStatus(bitfield.VirtioStatus{Acknowledge: true})
	d.writeStatus(bitfield.VirtioStatus{Acknowledge: true, Driver: true})
}

// NegotiateFeatures walks the two 32-bit feature windows, computing
// driverFeatures = deviceFeatures & (required|optional) for each and
// asserting every required bit survived, per spec.md §4.I step 3.
// Returns the negotiated feature bits (window 0 in the low 32, window
// 1 in the high 32).
func (d *Device) NegotiateFeatures(required, optional uint64) uint64 {
	var negotiated uint64
	for window := uint32(0); window < 2; window++ {
		req := uint32(required >> (32 * window))
		opt := uint32(optional >> (32 * window))

		d.mem.Write32(d.commonBase+regDeviceFeatureSelect, window)
		device := d.mem.Read32(d.commonBase + regDeviceFeature)

		driver := device & (req | opt)
		kpanic.Assert(d.ops, d.sink, device&req == req, "virtio.Device.NegotiateFeatures: required feature bit missing")

		d.mem.Write32(d.commonBase+regDriverFeatureSelect, window)
		d.mem.Write32(d.commonBase+regDriverFeature, driver)

		negotiated |= uint64(driver) << (32 * window)
	}
	return negotiated
}

// SetFeaturesOK sets FEATURES_OK and re-reads the status register,
// asserting the bit stuck (the device rejects negotiations it can't
// satisfy by silently dropping it).
func (d *Device) SetFeaturesOK() {
	d.writeStatus(bitfield.VirtioStatus{Acknowledge: true, Driver: true, FeaturesOK: true})
	status := d.readStatus()
	kpanic.Assert(d.ops, d.sink, status.FeaturesOK, "virtio.Device.SetFeaturesOK: FEATURES_OK did not stick")
}

// SetDriverOK sets DRIVER_OK, the final step before the device may be
// used (spec.md §4.I step 7).
func (d *Device) SetDriverOK() {
	d.writeStatus(bitfield.VirtioStatus{Acknowledge: true, Driver: true, FeaturesOK: true, DriverOK: true})
}

// NumQueues reads num_queues from the common config.
func (d *Device) NumQueues() uint16 {
	if d.numQueues == 0 {
		d.numQueues = d.mem.Read16(d.commonBase + regNumQueues)
	}
	return d.numQueues
}

// ISRStatus reads the ISR status byte — the read itself de-asserts
// the interrupt, per spec.md §4.I step 6.
func (d *Device) ISRStatus() uint8 {
	return d.mem.Read8(d.isrBase)
}

// Queues returns every virtqueue SetupQueue has created, for Reap
// polling by a caller that doesn't track queue indices itself.
func (d *Device) Queues() []*Queue { return d.queues }

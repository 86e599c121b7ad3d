package boot

import (
	"github.com/dajoh/futura/internal/cpu"
	"github.com/dajoh/futura/internal/kpanic"
	"github.com/dajoh/futura/internal/pcicfg"
	"github.com/dajoh/futura/internal/pmm"
	"github.com/dajoh/futura/internal/virtio"
	"github.com/dajoh/futura/internal/virtiogpu"
	"github.com/dajoh/futura/internal/vmm"
)

// barPhysAddr reads PCI config-space BAR register bar of function
// (bus, slot, fn) and masks off the low type/flag bits, leaving the
// memory-mapped base address. This kernel only targets virtio-pci's
// modern 32-bit memory BARs, not the legacy I/O-space or 64-bit
// variants.
func barPhysAddr(pci pcicfg.Reader, bus, slot, fn, bar uint8) uintptr {
	reg := pci.ReadConfig32(bus, slot, fn, 0x10+4*bar)
	return uintptr(reg &^ 0xF)
}

// mapCapability maps the BAR window a virtio.Capability names into the
// kernel address space and returns the capability's own window
// address within it (base + cap.Offset), or 0 if the capability is
// empty or the mapping failed.
func mapCapability(as *vmm.AddressSpace, pci pcicfg.Reader, bus, slot, fn uint8, cap virtio.Capability) uintptr {
	if cap.Length == 0 {
		return 0
	}
	base := barPhysAddr(pci, bus, slot, fn, cap.Bar)
	pageBase := base &^ (pmm.PageSize - 1)
	span := uint32(base-pageBase) + cap.Offset + cap.Length
	pages := (span + pmm.PageSize - 1) / pmm.PageSize
	virt := as.Alloc(pageBase, pages, vmm.ProtWrite|vmm.ProtNoCache, "mmio", "virtio bar")
	if virt == 0 {
		return 0
	}
	return virt + uintptr(base-pageBase) + uintptr(cap.Offset)
}

// discoverVirtioDevice walks loc's PCI capability list, maps its
// common/notify/isr/device BAR windows, and wraps the result as a
// virtio.Device ready for a front-end's Start.
func discoverVirtioDevice(ops cpu.Ops, sink kpanic.Sink, log virtio.Logger, pci pcicfg.Reader, as *vmm.AddressSpace, pool *pmmPhysPool, loc VirtioPCI) (*virtio.Device, bool) {
	common, notify, isr, device, notifyMul, ok := virtio.FindCapabilities(pci, loc.Bus, loc.Slot, loc.Fn)
	if !ok {
		return nil, false
	}

	commonBase := mapCapability(as, pci, loc.Bus, loc.Slot, loc.Fn, common)
	notifyBase := mapCapability(as, pci, loc.Bus, loc.Slot, loc.Fn, notify)
	if commonBase == 0 || notifyBase == 0 {
		return nil, false
	}
	isrBase := mapCapability(as, pci, loc.Bus, loc.Slot, loc.Fn, isr)
	deviceBase := mapCapability(as, pci, loc.Bus, loc.Slot, loc.Fn, device)

	dev := virtio.New(ops, sink, log, physMemory{}, pool, loc.Bus, loc.Slot, loc.Fn, commonBase, notifyBase, isrBase, deviceBase, notifyMul)
	return dev, true
}

// fallback scanout dimensions used when GetDisplayInfo reports
// nothing usable (spec.md's QEMU target always answers, but a real
// virtio-gpu implementation is allowed to leave a disabled scanout's
// rectangle zeroed).
const (
	fallbackScanoutWidth  = 1024
	fallbackScanoutHeight = 768

	scanoutResourceID = 1
	scanoutID         = 0
)

// setupPrimaryScanout brings scanout 0 up on a freshly started
// virtiogpu.Device: query display info, create a matching 2D
// resource, attach guest-visible backing memory to it, and bind it to
// the scanout. The returned fbVirt is where Overlay.Draw's BGRX reads
// and writes land.
func setupPrimaryScanout(gpu *virtiogpu.Device, pool *pmmPhysPool) (fbVirt uintptr, width, height uint32, ok bool) {
	width, height, ok = gpu.GetDisplayInfo()
	if !ok || width == 0 || height == 0 {
		width, height = fallbackScanoutWidth, fallbackScanoutHeight
	}

	size := width * height * 4
	virt, phys := pool.AllocBuffer(size)
	if virt == 0 {
		return 0, 0, 0, false
	}

	if !gpu.CreateResource2D(scanoutResourceID, virtiogpu.FormatB8G8R8X8Unorm, width, height) {
		pool.FreeBuffer(virt)
		return 0, 0, 0, false
	}
	if !gpu.AttachBacking(scanoutResourceID, phys, size) {
		pool.FreeBuffer(virt)
		return 0, 0, 0, false
	}
	if !gpu.SetScanout(scanoutID, scanoutResourceID, virtiogpu.Rect{Width: width, Height: height}) {
		pool.FreeBuffer(virt)
		return 0, 0, 0, false
	}

	return virt, width, height, true
}

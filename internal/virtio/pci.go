package virtio

import "github.com/dajoh/futura/internal/pcicfg"

// PCI capability structure offsets (struct virtio_pci_cap), relative
// to the capability's own offset in config space:
//
//	0: cap_vndr (type, already known to be capVendorSpecific)
//	1: cap_next
//	2: cap_len
//	3: cfg_type
//	4: bar
//	8: offset
//	12: length
//	16: notify_off_multiplier (virtio_pci_notify_cap only)
const (
	capOffCfgType  = 3
	capOffBar      = 4
	capOffOffset   = 8
	capOffLength   = 12
	capOffNotifMul = 16
)

// FindCapabilities walks function (bus, dev, fn)'s capability list the
// way pci_qemu.go's pciFindVirtIOCapabilities does, resolving the four
// virtio-PCI regions spec.md §4.I names. common and notify are
// required; isr and device may come back zero-valued if the device
// doesn't expose them. notifyMultiplier is read from the notify
// capability's extra field.
func FindCapabilities(cfg pcicfg.Reader, bus, dev, fn uint8) (common, notify, isr, device Capability, notifyMultiplier uint32, ok bool) {
	capPtr := pcicfg.ReadConfig8(cfg, bus, dev, fn, 0x34)
	if capPtr == 0 || capPtr == 0xFF {
		return
	}

	foundCommon, foundNotify := false, false

	current := capPtr
	for i := 0; i < 32 && current != 0; i++ {
		capType := pcicfg.ReadConfig8(cfg, bus, dev, fn, current)
		next := pcicfg.ReadConfig8(cfg, bus, dev, fn, current+1)

		if capType == capVendorSpecific {
			cfgType := pcicfg.ReadConfig8(cfg, bus, dev, fn, current+capOffCfgType)
			cap := Capability{
				Bar:    pcicfg.ReadConfig8(cfg, bus, dev, fn, current+capOffBar),
				Offset: cfg.ReadConfig32(bus, dev, fn, current+capOffOffset),
				Length: cfg.ReadConfig32(bus, dev, fn, current+capOffLength),
			}
			switch cfgType {
			case cfgTypeCommon:
				common = cap
				foundCommon = true
			case cfgTypeNotify:
				notify = cap
				notifyMultiplier = cfg.ReadConfig32(bus, dev, fn, current+capOffNotifMul)
				foundNotify = true
			case cfgTypeISR:
				isr = cap
			case cfgTypeDevice:
				device = cap
			}
		}

		current = next
	}

	ok = foundCommon && foundNotify
	return
}

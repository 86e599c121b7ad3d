package bitfield

// VirtioStatus represents the virtio-PCI device status byte written
// during feature negotiation. Fields are packed the same way PTEFlags
// packs protection bits, so the negotiation sequence in internal/virtio
// reads as a sequence of field flips rather than hand-built OR chains.
type VirtioStatus struct {
	Acknowledge bool  `bitfield:",1"`
	Driver      bool  `bitfield:",1"`
	DriverOK    bool  `bitfield:",1"`
	FeaturesOK  bool  `bitfield:",1"`
	Reserved    uint8 `bitfield:",2"`

	// DeviceNeedsReset and Failed sit at bits 6 and 7 of the real
	// register; the two Reserved bits above hold bits 4-5 open so the
	// packer lands these in the right place.
	DeviceNeedsReset bool `bitfield:",1"`
	Failed           bool `bitfield:",1"`
}

// Pack encodes s into the raw status byte written to the common
// config's device_status register.
func (s VirtioStatus) Pack() (uint8, error) {
	v, err := Pack(s, &Config{NumBits: 8})
	return uint8(v), err
}

// Unpack decodes a status byte read back from the device into its
// named fields, for the FEATURES_OK re-read check and diagnostics.
func Unpack(v uint8) VirtioStatus {
	return VirtioStatus{
		Acknowledge:      v&(1<<0) != 0,
		Driver:           v&(1<<1) != 0,
		DriverOK:         v&(1<<2) != 0,
		FeaturesOK:       v&(1<<3) != 0,
		DeviceNeedsReset: v&(1<<6) != 0,
		Failed:           v&(1<<7) != 0,
	}
}

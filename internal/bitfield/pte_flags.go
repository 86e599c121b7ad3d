package bitfield

// PTEFlags represents the protection bits encoded into a page-table
// entry. Fields are packed into a 32-bit word using bitfield tags so
// the encoding and the struct definition never drift apart.
type PTEFlags struct {
	// Present marks the entry as mapped.
	Present bool `bitfield:",1"`

	// Writable allows writes through this mapping (maps from the
	// region protection READWRITE).
	Writable bool `bitfield:",1"`

	// User allows ring-3 access; set for user address spaces only.
	User bool `bitfield:",1"`

	// CacheDisable maps from the region protection NOCACHE.
	CacheDisable bool `bitfield:",1"`

	// Reserved bits for future use.
	Reserved uint32 `bitfield:",28"`
}

// Pack encodes f into the raw flag bits stored alongside a PTE's
// physical address.
func (f PTEFlags) Pack() (uint32, error) {
	v, err := Pack(f, &Config{NumBits: 32})
	return uint32(v), err
}

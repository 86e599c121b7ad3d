package pmm

// Bitmap tracks free/used physical frames, one bit per 4KiB frame,
// bit set meaning free (spec.md §3: "bit set ⇒ free"). Grounded on
// mazboot/golang/main/page.go's free-page-list design, generalized to
// the bitmap+region model spec.md §3/§4.B describes instead of a
// linked free list, since §8's popcount-style invariant check is a
// plain scan over the bitmap (PopCountUsed), which a linked list
// can't give cheaply.
type Bitmap struct {
	words  []uint64
	frames uint32
}

// NewBitmap allocates a bitmap covering frames 4KiB frames, all
// initially used (callers mark spans free as they're discovered).
func NewBitmap(frames uint32) *Bitmap {
	n := (frames + 63) / 64
	return &Bitmap{words: make([]uint64, n), frames: frames}
}

// Frames returns the number of 4KiB frames the bitmap covers.
func (b *Bitmap) Frames() uint32 { return b.frames }

func (b *Bitmap) SetFree(frame uint32) {
	b.words[frame/64] |= 1 << (frame % 64)
}

func (b *Bitmap) SetUsed(frame uint32) {
	b.words[frame/64] &^= 1 << (frame % 64)
}

func (b *Bitmap) IsFree(frame uint32) bool {
	return b.words[frame/64]&(1<<(frame%64)) != 0
}

// MarkRange sets [frame, frame+count) to free or used.
func (b *Bitmap) MarkRange(frame, count uint32, free bool) {
	for i := uint32(0); i < count; i++ {
		if free {
			b.SetFree(frame + i)
		} else {
			b.SetUsed(frame + i)
		}
	}
}

// FindFreeRun finds the first run of count consecutive free frames at
// or above minFrame. Returns (0, false) on exhaustion.
func (b *Bitmap) FindFreeRun(count uint32, minFrame uint32) (uint32, bool) {
	if count == 0 {
		return minFrame, true
	}
	run := uint32(0)
	runStart := uint32(0)
	for f := minFrame; f < b.frames; f++ {
		if b.IsFree(f) {
			if run == 0 {
				runStart = f
			}
			run++
			if run == count {
				return runStart, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// PopCountUsed returns the number of used (bit clear) frames — the
// quantity spec.md §8's bitmap/region consistency property checks
// against the sum of non-free region sizes.
func (b *Bitmap) PopCountUsed() uint32 {
	used := uint32(0)
	for f := uint32(0); f < b.frames; f++ {
		if !b.IsFree(f) {
			used++
		}
	}
	return used
}

package virtiogpu

// Overlay is the optional debug HUD from SPEC_FULL.md §2: a one-line
// readout (tick count, live task count, deferred page-fault count)
// drawn over the current scanout contents and presented through the
// same TransferToHost2D+ResourceFlush pair Present uses. Grounded on
// src/mazboot/golang/main/gg_circle_qemu.go's copy-framebuffer-in,
// draw, flush-framebuffer-out shape, adapted from that file's direct
// unsafe.Pointer framebuffer access to reads/writes through
// virtio.Memory, and stripped of its uartPuts tracing.
//
// boot.Config.GPUOverlay gates whether a boot sequence constructs one
// at all; nothing here is on the synchronous virtio-blk read path.

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
)

// Overlay draws into an RGBA canvas sized to the scanout resource,
// then blits it back over the live framebuffer bytes.
type Overlay struct {
	dev        *Device
	resourceID uint32
	fbVirt     uintptr
	width      int
	height     int
	pitch      int
	ctx        *gg.Context
	face       font.Face
}

// NewOverlay builds a HUD over resourceID's backing memory at fbVirt
// (a width*height*4 BGRX buffer, the same layout virtio-gpu's 2D
// resources use). fontTTF is optional: nil uses the embedded 8x8
// bitmap glyph table (SPEC_FULL.md's "no ttf source" decision);
// supplying bytes switches to freetype/gg vector rendering through
// gg.Context's own font face, per boot.Config.FontTTF.
func NewOverlay(dev *Device, resourceID uint32, fbVirt uintptr, width, height int, fontTTF []byte) (*Overlay, error) {
	ov := &Overlay{
		dev:        dev,
		resourceID: resourceID,
		fbVirt:     fbVirt,
		width:      width,
		height:     height,
		pitch:      width * 4,
		ctx:        gg.NewContext(width, height),
	}

	if len(fontTTF) > 0 {
		f, err := freetype.ParseFont(fontTTF)
		if err != nil {
			return nil, err
		}
		face := truetype.NewFace(f, &truetype.Options{Size: 14})
		ov.ctx.SetFontFace(face)
		ov.face = face
	}

	return ov, nil
}

// copyFromFramebuffer mirrors copyFramebufferToGG: read the scanout's
// current BGRX bytes into the gg context's RGBA backbuffer so the HUD
// draws on top of whatever is already presented, rather than over a
// blank canvas.
func (ov *Overlay) copyFromFramebuffer() *image.RGBA {
	im, ok := ov.ctx.Image().(*image.RGBA)
	if !ok {
		return nil
	}

	for y := 0; y < ov.height; y++ {
		rowAddr := ov.fbVirt + uintptr(y*ov.pitch)
		dstRow := im.Pix[y*im.Stride:]
		for x := 0; x < ov.width; x++ {
			px := ov.dev.mem.Read32(rowAddr + uintptr(x*4))
			b := uint8(px)
			g := uint8(px >> 8)
			r := uint8(px >> 16)

			di := x * 4
			dstRow[di+0] = r
			dstRow[di+1] = g
			dstRow[di+2] = b
			dstRow[di+3] = 0xFF
		}
	}

	return im
}

// flushToFramebuffer mirrors flushGGToFramebuffer: write the gg
// context's RGBA backbuffer back into the scanout's BGRX bytes.
func (ov *Overlay) flushToFramebuffer(im *image.RGBA) {
	for y := 0; y < ov.height; y++ {
		rowAddr := ov.fbVirt + uintptr(y*ov.pitch)
		srcRow := im.Pix[y*im.Stride:]
		for x := 0; x < ov.width; x++ {
			si := x * 4
			r, g, b := srcRow[si+0], srcRow[si+1], srcRow[si+2]
			px := uint32(b) | uint32(g)<<8 | uint32(r)<<16
			ov.dev.mem.Write32(rowAddr+uintptr(x*4), px)
		}
	}
}

// Draw renders one HUD frame and presents it. Returns false if the
// underlying ResourceFlush failed (the caller should just skip the
// frame; the overlay never blocks boot on a GPU hiccup).
func (ov *Overlay) Draw(tick uint64, liveTasks, deferredFaults int) bool {
	im := ov.copyFromFramebuffer()
	if im == nil {
		return false
	}

	line := fmt.Sprintf("TICK:%d TASK:%d FLT:%d", tick, liveTasks, deferredFaults)

	if ov.face != nil {
		ov.ctx.SetRGB(0, 1, 0)
		ov.ctx.DrawStringAnchored(line, 4, 4, 0, 1)
		im, _ = ov.ctx.Image().(*image.RGBA)
	} else {
		drawBitmapString(im, 4, 4, line)
	}

	ov.flushToFramebuffer(im)
	return ov.dev.Present(ov.resourceID, uint32(ov.width), uint32(ov.height))
}

package virtiogpu

// Embedded 8x8 bitmap glyph table used by Overlay.Draw when no TTF
// has been supplied (SPEC_FULL.md's "no ttf source" decision). Covers
// only the characters the HUD readout actually prints; anything else
// falls back to a blank cell.

import "image"

const glyphWidth = 8
const glyphHeight = 8

type glyph [glyphHeight]byte

var glyphs = map[byte]glyph{
	' ': {},
	':': {0x00, 0x00, 0x18, 0x18, 0x00, 0x18, 0x18, 0x00},
	'0': {0x00, 0x3C, 0x66, 0x6E, 0x76, 0x66, 0x3C, 0x00},
	'1': {0x00, 0x18, 0x38, 0x18, 0x18, 0x18, 0x3C, 0x00},
	'2': {0x00, 0x3C, 0x66, 0x06, 0x1C, 0x30, 0x7E, 0x00},
	'3': {0x00, 0x3C, 0x66, 0x0C, 0x06, 0x66, 0x3C, 0x00},
	'4': {0x00, 0x0C, 0x1C, 0x2C, 0x4C, 0x7E, 0x0C, 0x00},
	'5': {0x00, 0x7E, 0x60, 0x7C, 0x06, 0x66, 0x3C, 0x00},
	'6': {0x00, 0x3C, 0x60, 0x7C, 0x66, 0x66, 0x3C, 0x00},
	'7': {0x00, 0x7E, 0x06, 0x0C, 0x18, 0x18, 0x18, 0x00},
	'8': {0x00, 0x3C, 0x66, 0x3C, 0x66, 0x66, 0x3C, 0x00},
	'9': {0x00, 0x3C, 0x66, 0x66, 0x3E, 0x06, 0x3C, 0x00},
	'A': {0x00, 0x18, 0x3C, 0x66, 0x66, 0x7E, 0x66, 0x00},
	'C': {0x00, 0x3C, 0x66, 0x60, 0x60, 0x66, 0x3C, 0x00},
	'F': {0x00, 0x7E, 0x60, 0x7C, 0x60, 0x60, 0x60, 0x00},
	'I': {0x00, 0x3C, 0x18, 0x18, 0x18, 0x18, 0x3C, 0x00},
	'K': {0x00, 0x66, 0x6C, 0x78, 0x78, 0x6C, 0x66, 0x00},
	'L': {0x00, 0x60, 0x60, 0x60, 0x60, 0x60, 0x7E, 0x00},
	'S': {0x00, 0x3C, 0x60, 0x3C, 0x06, 0x06, 0x7C, 0x00},
	'T': {0x00, 0x7E, 0x18, 0x18, 0x18, 0x18, 0x18, 0x00},
}

// drawBitmapString draws s in green starting at (x0, y0), advancing
// one glyph cell plus a 1px gutter per character.
func drawBitmapString(im *image.RGBA, x0, y0 int, s string) {
	x := x0
	for i := 0; i < len(s); i++ {
		g, ok := glyphs[s[i]]
		if !ok {
			g = glyphs[' ']
		}
		drawGlyph(im, x, y0, g)
		x += glyphWidth + 1
	}
}

func drawGlyph(im *image.RGBA, x0, y0 int, g glyph) {
	bounds := im.Bounds()
	for row := 0; row < glyphHeight; row++ {
		bits := g[row]
		for col := 0; col < glyphWidth; col++ {
			if bits&(1<<uint(glyphWidth-1-col)) == 0 {
				continue
			}
			px, py := x0+col, y0+row
			if px < bounds.Min.X || px >= bounds.Max.X || py < bounds.Min.Y || py >= bounds.Max.Y {
				continue
			}
			off := im.PixOffset(px, py)
			im.Pix[off+0] = 0x00
			im.Pix[off+1] = 0xFF
			im.Pix[off+2] = 0x00
			im.Pix[off+3] = 0xFF
		}
	}
}

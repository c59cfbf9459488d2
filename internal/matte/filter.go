package matte

import (
	"image"
	"image/color"
)

// Threshold is the exclusive per-channel brightness above which a pixel is
// treated as background.
const Threshold = 230

// IsKeyed reports whether the matte would clear this pixel's alpha.
func IsKeyed(c color.NRGBA) bool {
	return c.R > Threshold && c.G > Threshold && c.B > Threshold
}

// Matte keys out near-white pixels in place: alpha goes to 0 when R, G and B
// all exceed Threshold, and every other byte is left alone. It returns the
// number of pixels in the keyed range.
//
// This is not segmentation. Near-white regions inside the subject are keyed
// too.
func Matte(img *image.NRGBA) int {
	if img == nil {
		return 0
	}
	b := img.Bounds()
	keyed := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := img.PixOffset(b.Min.X, y)
		row := img.Pix[start : start+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			if row[i] > Threshold && row[i+1] > Threshold && row[i+2] > Threshold {
				row[i+3] = 0
				keyed++
			}
		}
	}
	return keyed
}

package matte

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// ThumbnailSize is the edge length of every badge thumbnail.
const ThumbnailSize = 192

// Resample stretches the whole source onto a ThumbnailSize square. The canvas
// starts fully transparent and aspect ratio is not preserved.
func Resample(src image.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, ThumbnailSize, ThumbnailSize))
	if src == nil || src.Bounds().Empty() {
		return dst
	}
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

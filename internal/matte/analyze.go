package matte

import (
	"image"
	"image/color"

	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
)

const backgroundClusters = 3

// Background describes the most common color of a source image before the
// matte runs. A dominant color outside the keyed range usually means the
// photo was not taken against a white wall.
type Background struct {
	Hex               string  `json:"hex"`
	Weight            float64 `json:"weight"`
	DistanceFromWhite float64 `json:"distanceFromWhite"`
	LikelyKeyed       bool    `json:"likelyKeyed"`
}

var white = colorful.Color{R: 1, G: 1, B: 1}

// AnalyzeBackground picks the heaviest of a few dominant colors in img.
func AnalyzeBackground(img image.Image) Background {
	if img == nil || img.Bounds().Empty() {
		return Background{}
	}
	candidates := dominantcolor.FindWeight(img, backgroundClusters)
	if len(candidates) == 0 {
		return Background{}
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Weight > best.Weight {
			best = c
		}
	}

	rgba := best.RGBA
	rgba.A = 255
	col, _ := colorful.MakeColor(rgba)
	return Background{
		Hex:               col.Hex(),
		Weight:            best.Weight,
		DistanceFromWhite: col.DistanceLab(white),
		LikelyKeyed:       IsKeyed(color.NRGBA{R: rgba.R, G: rgba.G, B: rgba.B, A: 255}),
	}
}

package frame

import (
	"image"
	"math"
)

// Placement is where a scaled source lands on the output raster. Values are
// fractional; Rect rasterises them.
type Placement struct {
	X, Y  float64
	W, H  float64
	Scale float64
}

// Empty reports whether nothing would be drawn.
func (pl Placement) Empty() bool {
	return pl.W <= 0 || pl.H <= 0
}

// Rect is the smallest integer rectangle covering the placement.
func (pl Placement) Rect() image.Rectangle {
	if pl.Empty() {
		return image.Rectangle{}
	}
	return image.Rect(
		int(math.Floor(pl.X)),
		int(math.Floor(pl.Y)),
		int(math.Ceil(pl.X+pl.W)),
		int(math.Ceil(pl.Y+pl.H)),
	)
}

// Snapped rounds every edge to the nearest pixel, keeping the drawn size
// within half a pixel of the fractional one.
func (pl Placement) Snapped() image.Rectangle {
	if pl.Empty() {
		return image.Rectangle{}
	}
	return image.Rect(round(pl.X), round(pl.Y), round(pl.X+pl.W), round(pl.Y+pl.H))
}

// PlaceForeground contain-fits a srcW x srcH image inside the outW x outH
// raster minus border on every side, centred. A border that eats the whole
// raster collapses the placement to zero size at the centre.
func PlaceForeground(outW, outH, border, srcW, srcH int) Placement {
	availW := float64(outW - 2*border)
	availH := float64(outH - 2*border)
	scale := math.Min(availW/float64(srcW), availH/float64(srcH))
	if scale <= 0 {
		scale = 0
	}
	return centered(outW, outH, srcW, srcH, scale)
}

// CoverPlacement scales a srcW x srcH image so it fills the whole raster,
// centred, overflowing on one axis.
func CoverPlacement(outW, outH, srcW, srcH int) Placement {
	scale := math.Max(float64(outW)/float64(srcW), float64(outH)/float64(srcH))
	return centered(outW, outH, srcW, srcH, scale)
}

func centered(outW, outH, srcW, srcH int, scale float64) Placement {
	w := float64(srcW) * scale
	h := float64(srcH) * scale
	return Placement{
		X:     (float64(outW) - w) / 2,
		Y:     (float64(outH) - h) / 2,
		W:     w,
		H:     h,
		Scale: scale,
	}
}

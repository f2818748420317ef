package frame

import (
	"fmt"
	"math"
)

// Dimensions is an output raster size in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// ResolveDimensions derives the output raster size for a source of srcW x srcH
// pixels framed at ar. The longer source side, capped at maxDim, becomes the
// long side of a landscape/square target, or the height of a portrait one.
// Both results are in [1, maxDim].
func ResolveDimensions(srcW, srcH int, ar AspectRatio, maxDim int) Dimensions {
	target := ar.Ratio()
	base := min(max(srcW, srcH), maxDim)

	var w, h int
	if target >= 1 {
		w = base
		h = round(float64(w) / target)
	} else {
		h = base
		w = round(float64(h) * target)
	}

	if w > maxDim {
		w = maxDim
		h = round(float64(w) / target)
	}
	if h > maxDim {
		h = maxDim
		w = round(float64(h) * target)
	}

	return Dimensions{Width: max(w, 1), Height: max(h, 1)}
}

// round rounds half away from zero.
func round(in float64) int {
	if in < 0 {
		return int(math.Ceil(in - 0.5))
	}
	return int(math.Floor(in + 0.5))
}

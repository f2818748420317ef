package frame

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// RenderBackground produces an opaque dims-sized raster for the given mode.
// Blur mode needs src; calling it without one is a programming error.
func RenderBackground(mode BackgroundMode, dims Dimensions, src image.Image, c color.NRGBA, radius int) *image.NRGBA {
	switch mode {
	case BackgroundColor:
		c.A = 0xff
		return imaging.New(dims.Width, dims.Height, c)
	case BackgroundBlur:
		if src == nil {
			panic("frame: blur background requires a source image")
		}
		return blurredCover(dims, src, radius)
	}
	panic(fmt.Sprintf("frame: unknown background mode %q", mode))
}

// blurredCover cover-fits src onto an opaque buffer and stack-blurs it.
func blurredCover(dims Dimensions, src image.Image, radius int) *image.NRGBA {
	buf := imaging.New(dims.Width, dims.Height, color.NRGBA{A: 0xff})
	sb := src.Bounds()
	pl := CoverPlacement(dims.Width, dims.Height, sb.Dx(), sb.Dy())
	xdraw.CatmullRom.Scale(buf, pl.Rect(), src, sb, xdraw.Over, nil)
	return StackBlur(buf, radius)
}

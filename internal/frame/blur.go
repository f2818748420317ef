package frame

import (
	"image"

	"github.com/esimov/stackblur-go"
)

// MaxStackBlurRadius bounds the kernel half-width to the range the stack
// blur tables cover.
const MaxStackBlurRadius = 254

// StackBlur returns img blurred with a stack blur of the given radius. A
// radius below 1 or an empty image returns img itself.
func StackBlur(img *image.NRGBA, radius int) *image.NRGBA {
	if radius < 1 || img.Bounds().Empty() {
		return img
	}
	out, err := stackblur.Process(img, uint32(min(radius, MaxStackBlurRadius)))
	if err != nil {
		return img
	}
	return out
}

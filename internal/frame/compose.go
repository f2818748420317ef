package frame

import (
	"fmt"
	"image"
	"log/slog"

	xdraw "golang.org/x/image/draw"
)

// Compose renders src framed by p into a new opaque raster. It has no hidden
// state: identical inputs give pixel-identical output. p must be valid; an
// unknown aspect ratio key panics.
func Compose(src image.Image, p Params, maxDim int) *image.NRGBA {
	sb := src.Bounds()
	dims := ResolveDimensions(sb.Dx(), sb.Dy(), p.Ratio(), maxDim)

	out := RenderBackground(p.Background, dims, src, p.Color, p.BlurRadius)

	pl := PlaceForeground(dims.Width, dims.Height, p.Border, sb.Dx(), sb.Dy())
	if r := pl.Snapped(); !r.Empty() {
		xdraw.CatmullRom.Scale(out, r, src, sb, xdraw.Over, nil)
	}
	return out
}

// Compositor binds Compose to a dimension cap and a logger.
type Compositor struct {
	MaxDimension int
	Log          *slog.Logger
}

// NewCompositor returns a Compositor; maxDim <= 0 selects MaxDimension.
func NewCompositor(maxDim int, log *slog.Logger) *Compositor {
	if maxDim <= 0 {
		maxDim = MaxDimension
	}
	if log == nil {
		log = slog.Default()
	}
	return &Compositor{MaxDimension: maxDim, Log: log}
}

// Compose renders one frame.
func (c *Compositor) Compose(src image.Image, p Params) *image.NRGBA {
	out := Compose(src, p, c.MaxDimension)
	c.Log.Debug("frame composed",
		"ratio", p.AspectRatio,
		"border", p.Border,
		"background", p.Background,
		"output", out.Bounds().Size().String(),
	)
	return out
}

// Dimensions reports the output size Compose would produce for src.
func (c *Compositor) Dimensions(src image.Image, p Params) Dimensions {
	sb := src.Bounds()
	return ResolveDimensions(sb.Dx(), sb.Dy(), p.Ratio(), c.MaxDimension)
}

// Caption describes a frame as "name · WxHpx → WxHpx".
func (c *Compositor) Caption(name string, src image.Image, p Params) string {
	sb := src.Bounds()
	d := c.Dimensions(src, p)
	return fmt.Sprintf("%s · %d×%dpx → %d×%dpx", name, sb.Dx(), sb.Dy(), d.Width, d.Height)
}

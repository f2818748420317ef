package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrInvalidImage = errors.New("invalid image data")

// Decoder turns encoded bytes into a raster.
type Decoder interface {
	Decode(b []byte) (image.Image, error)
}

// StdDecoder decodes every format registered with the image package and
// applies the EXIF orientation, so portrait phone shots come out upright.
type StdDecoder struct{}

func (StdDecoder) Decode(b []byte) (image.Image, error) {
	if len(b) == 0 {
		return nil, ErrInvalidImage
	}
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if r := img.Bounds(); r.Dx() < 1 || r.Dy() < 1 {
		return nil, fmt.Errorf("%w: zero dimension %dx%d", ErrInvalidImage, r.Dx(), r.Dy())
	}
	return img, nil
}

// Info describes an encoded image without keeping the pixels.
type Info struct {
	Format string  `json:"format"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Aspect float64 `json:"aspect_ratio"`
	Bytes  int     `json:"content_length"`
}

// Probe reads only the header of b.
func Probe(b []byte) (*Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width < 1 || cfg.Height < 1 {
		return nil, ErrInvalidImage
	}
	ar := float64(int(float64(cfg.Width)/float64(cfg.Height)*10000)) / 10000
	return &Info{Format: format, Width: cfg.Width, Height: cfg.Height, Aspect: ar, Bytes: len(b)}, nil
}

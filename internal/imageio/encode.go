package imageio

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
)

// Encoder turns a raster into bytes of one format.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
	Extension() string
	ContentType() string
}

// PNGEncoder is the lossless encoder used for previews and exports.
type PNGEncoder struct{}

func (PNGEncoder) Encode(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

func (PNGEncoder) Extension() string   { return "png" }
func (PNGEncoder) ContentType() string { return "image/png" }

// JPEGEncoder trades fidelity for size; the watcher can use it.
type JPEGEncoder struct {
	Quality int
}

func (e JPEGEncoder) Encode(w io.Writer, img image.Image) error {
	q := e.Quality
	if q <= 0 || q > 100 {
		q = 95
	}
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(q))
}

func (JPEGEncoder) Extension() string   { return "jpg" }
func (JPEGEncoder) ContentType() string { return "image/jpeg" }

// EncoderFor maps a format name to an encoder.
func EncoderFor(format string) (Encoder, error) {
	switch strings.ToLower(format) {
	case "", "png":
		return PNGEncoder{}, nil
	case "jpg", "jpeg":
		return JPEGEncoder{Quality: 95}, nil
	}
	return nil, fmt.Errorf("unsupported output format %q (png|jpg)", format)
}

// EncodeBytes runs enc into a fresh buffer.
func EncodeBytes(enc Encoder, img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

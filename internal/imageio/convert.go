package imageio

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/patrickmn/go-cache"
	"gopkg.in/gographics/imagick.v3/imagick"
)

// ConversionError reports a container that could not be converted to a
// decodable format. Callers fall back to decoding the original bytes.
type ConversionError struct {
	Name string
	Err  error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Name, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Converter turns a container the decoder cannot read into JPEG bytes.
type Converter interface {
	Convert(name string, data []byte) ([]byte, error)
}

// NeedsConversion reports whether name is a HEIC/HEIF container.
func NeedsConversion(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".heic", ".heif":
		return true
	}
	return false
}

var magickOnce sync.Once

// MagickConverter converts through ImageMagick's MagickWand API.
type MagickConverter struct {
	Quality uint
}

func NewMagickConverter() *MagickConverter {
	magickOnce.Do(imagick.Initialize)
	return &MagickConverter{Quality: 95}
}

func (c *MagickConverter) Convert(name string, data []byte) ([]byte, error) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImageBlob(data); err != nil {
		return nil, &ConversionError{Name: name, Err: err}
	}
	if err := mw.AutoOrientImage(); err != nil {
		return nil, &ConversionError{Name: name, Err: fmt.Errorf("orient: %w", err)}
	}
	if err := mw.SetImageFormat("JPEG"); err != nil {
		return nil, &ConversionError{Name: name, Err: fmt.Errorf("set format: %w", err)}
	}
	if err := mw.SetImageCompressionQuality(c.Quality); err != nil {
		return nil, &ConversionError{Name: name, Err: fmt.Errorf("set quality: %w", err)}
	}
	out := mw.GetImageBlob()
	if len(out) == 0 {
		return nil, &ConversionError{Name: name, Err: fmt.Errorf("empty output")}
	}
	return out, nil
}

// ConversionCache keeps converted bytes keyed by original name and size for
// the lifetime of a collection. Entries never expire; Flush drops them all.
type ConversionCache struct {
	c *cache.Cache
}

func NewConversionCache() *ConversionCache {
	return &ConversionCache{c: cache.New(cache.NoExpiration, 0)}
}

func cacheKey(name string, size int64) string {
	return fmt.Sprintf("%s_%d", name, size)
}

func (cc *ConversionCache) Get(name string, size int64) ([]byte, bool) {
	v, ok := cc.c.Get(cacheKey(name, size))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (cc *ConversionCache) Set(name string, size int64, data []byte) {
	cc.c.Set(cacheKey(name, size), data, cache.NoExpiration)
}

func (cc *ConversionCache) Len() int { return cc.c.ItemCount() }

func (cc *ConversionCache) Flush() { cc.c.Flush() }

// CachedConverter consults the cache before calling the wrapped converter.
type CachedConverter struct {
	Converter Converter
	Cache     *ConversionCache
}

func (cc CachedConverter) Convert(name string, data []byte) ([]byte, error) {
	size := int64(len(data))
	if out, ok := cc.Cache.Get(name, size); ok {
		return out, nil
	}
	out, err := cc.Converter.Convert(name, data)
	if err != nil {
		return nil, err
	}
	cc.Cache.Set(name, size, out)
	return out, nil
}

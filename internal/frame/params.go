package frame

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// BackgroundMode selects how the area around the photo is filled.
type BackgroundMode string

const (
	BackgroundColor BackgroundMode = "color"
	BackgroundBlur  BackgroundMode = "blur"
)

// Limits and defaults for user-controlled parameters.
const (
	MaxDimension = 4096

	MinBorder     = 0
	MaxBorder     = 200
	BorderStep    = 5
	DefaultBorder = 0

	MinBlur     = 5
	MaxBlur     = 200
	BlurStep    = 5
	DefaultBlur = 30

	DefaultAspectRatio = "1:1"
	DefaultColorHex    = "#000000"
)

// BorderPresets are the quick-pick border widths in pixels.
var BorderPresets = []int{0, 20, 50, 100, 150, 200}

// ParseBackgroundMode accepts "color" or "blur" (case-insensitive).
func ParseBackgroundMode(s string) (BackgroundMode, error) {
	switch BackgroundMode(strings.ToLower(strings.TrimSpace(s))) {
	case BackgroundColor:
		return BackgroundColor, nil
	case BackgroundBlur:
		return BackgroundBlur, nil
	}
	return "", fmt.Errorf("unknown background mode %q (color|blur)", s)
}

// Params is the live parameter set applied to every image.
type Params struct {
	AspectRatio string         `json:"ratio"`
	Border      int            `json:"border"`
	Background  BackgroundMode `json:"background"`
	Color       color.NRGBA    `json:"-"`
	BlurRadius  int            `json:"blur"`
}

// DefaultParams returns the startup parameter set.
func DefaultParams() Params {
	return Params{
		AspectRatio: DefaultAspectRatio,
		Border:      DefaultBorder,
		Background:  BackgroundColor,
		Color:       color.NRGBA{A: 0xff},
		BlurRadius:  DefaultBlur,
	}
}

// Ratio returns the catalog entry for the configured key. It panics on an
// unknown key; call Validate first when the key comes from outside.
func (p Params) Ratio() AspectRatio {
	return MustAspectRatio(p.AspectRatio)
}

// Validate reports the first out-of-contract field.
func (p Params) Validate() error {
	if _, ok := LookupAspectRatio(p.AspectRatio); !ok {
		return fmt.Errorf("unknown aspect ratio %q", p.AspectRatio)
	}
	if p.Border < MinBorder || p.Border > MaxBorder {
		return fmt.Errorf("border %d out of range %d..%d", p.Border, MinBorder, MaxBorder)
	}
	switch p.Background {
	case BackgroundColor, BackgroundBlur:
	default:
		return fmt.Errorf("unknown background mode %q", p.Background)
	}
	if p.BlurRadius < MinBlur || p.BlurRadius > MaxBlur {
		return fmt.Errorf("blur radius %d out of range %d..%d", p.BlurRadius, MinBlur, MaxBlur)
	}
	return nil
}

// Clamp coerces numeric fields into their allowed ranges.
func (p Params) Clamp() Params {
	p.Border = clampInt(p.Border, MinBorder, MaxBorder)
	p.BlurRadius = clampInt(p.BlurRadius, MinBlur, MaxBlur)
	p.Color.A = 0xff
	return p
}

// ColorHex is the background colour as #rrggbb.
func (p Params) ColorHex() string {
	return HexColor(p.Color)
}

// ParseHexColor parses #rgb or #rrggbb (leading # optional) into an opaque
// colour.
func ParseHexColor(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// HexColor formats c as lowercase #rrggbb, ignoring alpha.
func HexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Field names accepted by With.
const (
	FieldRatio      = "ratio"
	FieldBorder     = "border"
	FieldBackground = "background"
	FieldColor      = "color"
	FieldBlur       = "blur"
)

// With returns p overridden by the non-empty string fields, validated.
// Unknown field names are ignored.
func (p Params) With(fields map[string]string) (Params, error) {
	if v := strings.TrimSpace(fields[FieldRatio]); v != "" {
		p.AspectRatio = v
	}
	if v := strings.TrimSpace(fields[FieldBorder]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("border: %w", err)
		}
		p.Border = n
	}
	if v := fields[FieldBackground]; v != "" {
		m, err := ParseBackgroundMode(v)
		if err != nil {
			return p, err
		}
		p.Background = m
	}
	if v := fields[FieldColor]; v != "" {
		c, err := ParseHexColor(v)
		if err != nil {
			return p, err
		}
		p.Color = c
	}
	if v := strings.TrimSpace(fields[FieldBlur]); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("blur: %w", err)
		}
		p.BlurRadius = n
	}
	return p, p.Validate()
}

// Fields is the inverse of With.
func (p Params) Fields() map[string]string {
	return map[string]string{
		FieldRatio:      p.AspectRatio,
		FieldBorder:     strconv.Itoa(p.Border),
		FieldBackground: string(p.Background),
		FieldColor:      p.ColorHex(),
		FieldBlur:       strconv.Itoa(p.BlurRadius),
	}
}

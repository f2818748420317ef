package frame

import "fmt"

// AspectRatio is one entry of the static output catalog.
type AspectRatio struct {
	Key      string `json:"key"`
	Width    int    `json:"ratio_width"`
	Height   int    `json:"ratio_height"`
	Token    string `json:"export_name"` // used in export filenames
	Label    string `json:"label"`
	Category string `json:"category,omitempty"`
}

// Ratio returns width/height of the target proportion.
func (ar AspectRatio) Ratio() float64 {
	return float64(ar.Width) / float64(ar.Height)
}

const (
	CategoryHorizontal = "Horizontal"
	CategoryVertical   = "Vertical"
)

var catalog = [...]AspectRatio{
	{Key: "1:1", Width: 1, Height: 1, Token: "square", Label: "1:1 Square"},
	{Key: "3:2", Width: 3, Height: 2, Token: "photo", Label: "3:2 (1.5:1) 35mm", Category: CategoryHorizontal},
	{Key: "16:9", Width: 16, Height: 9, Token: "wide", Label: "16:9 (1.78:1) Widescreen", Category: CategoryHorizontal},
	{Key: "4:3", Width: 4, Height: 3, Token: "classic", Label: "4:3 (1.33:1) Standard", Category: CategoryHorizontal},
	{Key: "4:5", Width: 4, Height: 5, Token: "portrait", Label: "4:5 (0.8:1) Instagram Portrait", Category: CategoryVertical},
	{Key: "9:16", Width: 9, Height: 16, Token: "vertical", Label: "9:16 (0.5625:1) Portrait", Category: CategoryVertical},
	{Key: "2:3", Width: 2, Height: 3, Token: "photo-portrait", Label: "2:3 Photo - 4x6 Print", Category: CategoryVertical},
}

// AspectRatios returns the catalog in display order.
func AspectRatios() []AspectRatio {
	out := make([]AspectRatio, len(catalog))
	copy(out, catalog[:])
	return out
}

// LookupAspectRatio finds a catalog entry by key.
func LookupAspectRatio(key string) (AspectRatio, bool) {
	for _, ar := range catalog {
		if ar.Key == key {
			return ar, true
		}
	}
	return AspectRatio{}, false
}

// MustAspectRatio is LookupAspectRatio for callers that already validated the
// key. An unknown key is a programming error and panics.
func MustAspectRatio(key string) AspectRatio {
	ar, ok := LookupAspectRatio(key)
	if !ok {
		panic(fmt.Sprintf("frame: unknown aspect ratio %q", key))
	}
	return ar
}

// RatioGroup is a labelled set of catalog entries for option lists.
type RatioGroup struct {
	Category string        `json:"category"`
	Ratios   []AspectRatio `json:"ratios"`
}

// Categories groups the catalog the way option pickers present it:
// uncategorised entries first, then Horizontal, then Vertical. Empty groups
// are omitted.
func Categories() []RatioGroup {
	order := []string{"", CategoryHorizontal, CategoryVertical}
	var groups []RatioGroup
	for _, cat := range order {
		var g RatioGroup
		g.Category = cat
		for _, ar := range catalog {
			if ar.Category == cat {
				g.Ratios = append(g.Ratios, ar)
			}
		}
		if len(g.Ratios) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}

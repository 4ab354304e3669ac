// Package imaging renders the deterministic slide fallback and translates
// palette hex codes into words an image model follows more reliably.
package imaging

import (
	"fmt"
	"image/color"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var hexPattern = regexp.MustCompile(`#[0-9A-Fa-f]{6}\b`)

// namedColors covers palette colours the creative step picks most often.
var namedColors = map[string]string{
	"#FF0000": "bright red",
	"#8B0000": "deep crimson red",
	"#DC143C": "vibrant crimson",
	"#FFC0CB": "soft pink",
	"#F7CAC9": "pale blush pink",
	"#FFA500": "warm orange",
	"#FF8C00": "amber orange",
	"#FFD700": "golden yellow",
	"#FDF0D5": "warm cream",
	"#F0EAD6": "soft cream",
	"#E8D5B5": "warm beige",
	"#D6AE8D": "sandy beige",
	"#E0BBE4": "pale lavender",
	"#957DAD": "muted purple",
	"#4A3C4D": "deep plum",
	"#A9DEF9": "soft sky blue",
	"#B6CBE0": "pale blue",
	"#000080": "navy blue",
	"#D0F4DE": "soft mint green",
	"#228B22": "forest green",
	"#FFFFFF": "pure white",
	"#000000": "jet black",
	"#808080": "neutral grey",
}

// ParseHex parses #RRGGBB into an opaque colour.
func ParseHex(hex string) (color.RGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex colour %q", hex)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex colour %q: %w", hex, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// NaturalName describes a hex colour in words, e.g. "#A9DEF9" -> "soft sky blue".
func NaturalName(hex string) string {
	key := strings.ToUpper(strings.TrimSpace(hex))
	if name, ok := namedColors[key]; ok {
		return name
	}

	c, err := ParseHex(key)
	if err != nil {
		return "neutral"
	}

	r, g, b := int(c.R), int(c.G), int(c.B)
	brightness := (r + g + b) / 3
	var prefix string
	switch {
	case brightness > 200:
		prefix = "pale"
	case brightness > 150:
		prefix = "soft"
	case brightness > 100:
		prefix = "muted"
	default:
		prefix = "deep"
	}

	switch {
	case r > g && r > b && g > b:
		return prefix + " coral"
	case r > g && r > b:
		return prefix + " rose"
	case g > r && g > b:
		return prefix + " green"
	case b > r && b > g:
		return prefix + " blue"
	case r > 150 && g > 150:
		return prefix + " cream"
	default:
		return prefix + " neutral"
	}
}

// ReplaceHexCodes rewrites every #RRGGBB in text as its natural name.
func ReplaceHexCodes(text string) string {
	return hexPattern.ReplaceAllStringFunc(text, NaturalName)
}

// Background picks the fallback slide background: the first parseable palette
// colour, or a colour derived from seed so the same post always gets the same one.
func Background(palette []string, seed string) color.RGBA {
	for _, hex := range palette {
		if c, err := ParseHex(hex); err == nil {
			return c
		}
	}

	h := xxhash.Sum64String(seed)
	// keep channels in a mid range so either text colour stays readable
	return color.RGBA{
		R: uint8(64 + h%128),
		G: uint8(64 + (h>>8)%128),
		B: uint8(64 + (h>>16)%128),
		A: 0xff,
	}
}

// TextColor returns black or white, whichever contrasts more with bg.
func TextColor(bg color.RGBA) color.RGBA {
	luminance := 0.299*float64(bg.R) + 0.587*float64(bg.G) + 0.114*float64(bg.B)
	if luminance > 150 {
		return color.RGBA{A: 0xff}
	}
	return color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
}

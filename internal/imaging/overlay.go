package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Default slide size: Instagram 4:5 portrait.
const (
	DefaultWidth  = 1080
	DefaultHeight = 1350
)

// Placements.
const (
	PlaceTop    = "top"
	PlaceCenter = "center"
	PlaceBottom = "bottom"
)

// OverlayOptions controls how slide text is composited.
type OverlayOptions struct {
	Width      int
	Height     int
	Background color.RGBA
	Placement  string
	FontSize   float64
}

var (
	boldFont     *opentype.Font
	boldFontErr  error
	boldFontOnce sync.Once
)

func loadFont() (*opentype.Font, error) {
	boldFontOnce.Do(func() {
		boldFont, boldFontErr = opentype.Parse(gobold.TTF)
	})
	return boldFont, boldFontErr
}

// Compose renders text onto a plain background and returns PNG bytes. The
// output depends only on its inputs.
func Compose(text string, opts OverlayOptions) ([]byte, error) {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.FontSize <= 0 {
		opts.FontSize = float64(opts.Width) / 14
	}
	if opts.Background.A == 0 {
		opts.Background = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
	}

	f, err := loadFont()
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    opts.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	defer face.Close()

	img := image.NewRGBA(image.Rect(0, 0, opts.Width, opts.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: opts.Background}, image.Point{}, draw.Src)

	margin := opts.Width / 12
	lines := wrap(face, strings.TrimSpace(text), opts.Width-2*margin)
	if len(lines) == 0 {
		return encode(img)
	}

	metrics := face.Metrics()
	lineHeight := (metrics.Ascent + metrics.Descent).Ceil() * 6 / 5
	blockHeight := lineHeight * len(lines)

	var top int
	switch opts.Placement {
	case PlaceTop:
		top = opts.Height / 10
	case PlaceCenter:
		top = (opts.Height - blockHeight) / 2
	default:
		top = opts.Height - opts.Height/10 - blockHeight
	}

	fg := TextColor(opts.Background)
	outline := color.RGBA{R: 255 - fg.R, G: 255 - fg.G, B: 255 - fg.B, A: 0xff}
	stroke := int(opts.FontSize / 16)
	if stroke < 1 {
		stroke = 1
	}

	drawer := &font.Drawer{Dst: img, Face: face}
	for i, line := range lines {
		width := drawer.MeasureString(line).Ceil()
		x := (opts.Width - width) / 2
		y := top + i*lineHeight + metrics.Ascent.Ceil()

		drawer.Src = image.NewUniform(outline)
		for dx := -stroke; dx <= stroke; dx += stroke {
			for dy := -stroke; dy <= stroke; dy += stroke {
				if dx == 0 && dy == 0 {
					continue
				}
				drawer.Dot = fixed.P(x+dx, y+dy)
				drawer.DrawString(line)
			}
		}

		drawer.Src = image.NewUniform(fg)
		drawer.Dot = fixed.P(x, y)
		drawer.DrawString(line)
	}

	return encode(img)
}

// wrap breaks text into lines no wider than maxWidth pixels. Single words
// wider than maxWidth get a line of their own.
func wrap(face font.Face, text string, maxWidth int) []string {
	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		words := strings.Fields(paragraph)
		if len(words) == 0 {
			continue
		}
		line := words[0]
		for _, word := range words[1:] {
			candidate := line + " " + word
			if font.MeasureString(face, candidate).Ceil() <= maxWidth {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = word
		}
		lines = append(lines, line)
	}
	return lines
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

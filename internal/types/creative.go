package types

import (
	"strings"
)

// ContentAnalysis is the structured output of the analysis step.
type ContentAnalysis struct {
	Topic     string   `json:"topic"`
	Tone      string   `json:"tone"`
	IsStory   bool     `json:"is_story"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// CarouselStyle controls whether slides read as one story or stand alone.
type CarouselStyle string

// Supported carousel styles.
const (
	CarouselNarrative   CarouselStyle = "narrative"
	CarouselIndependent CarouselStyle = "independent"
)

// ParseCarouselStyle normalizes a model-provided style. Values outside the
// enum fall back to narrative for stories and independent otherwise.
func ParseCarouselStyle(raw string, isStory bool) CarouselStyle {
	switch CarouselStyle(strings.ToLower(strings.TrimSpace(raw))) {
	case CarouselNarrative:
		return CarouselNarrative
	case CarouselIndependent:
		return CarouselIndependent
	}
	if isStory {
		return CarouselNarrative
	}
	return CarouselIndependent
}

// Text placements understood by the overlay compositor.
const (
	PlacementTop    = "top"
	PlacementCenter = "center"
	PlacementBottom = "bottom"
)

// CreativeBrief is the structured output of the creative direction step.
type CreativeBrief struct {
	CarouselStyle CarouselStyle `json:"carousel_style"`
	ArtStyle      string        `json:"art_style"`
	Colors        []string      `json:"colors"`
	TextPlacement string        `json:"text_placement"`
	Reasoning     string        `json:"reasoning,omitempty"`
}

// Placement returns the text placement, defaulting to bottom.
func (b CreativeBrief) Placement() string {
	switch p := strings.ToLower(strings.TrimSpace(b.TextPlacement)); p {
	case PlacementTop, PlacementCenter, PlacementBottom:
		return p
	}
	return PlacementBottom
}

// CopyContent is the structured output of the copywriting step.
type CopyContent struct {
	PostTitle   string   `json:"post_title"`
	ImageTexts  []string `json:"image_texts"`
	PostCaption string   `json:"post_caption"`
	Hashtags    []string `json:"hashtags"`
}

// SlideText returns the overlay text for slide index, or "" when out of range.
func (c CopyContent) SlideText(index int) string {
	if index < 0 || index >= len(c.ImageTexts) {
		return ""
	}
	return c.ImageTexts[index]
}

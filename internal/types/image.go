package types

import (
	"encoding/json"
	"fmt"
)

// ImagePrompt is one slide's generation request.
type ImagePrompt struct {
	Index     int      `json:"index"`
	Text      string   `json:"text"`
	Prompt    string   `json:"prompt"`
	StyleRefs []string `json:"style_refs,omitempty"`
}

// UnmarshalJSON accepts both the compact model form {"i","t","p"} and the
// expanded field names.
func (p *ImagePrompt) UnmarshalJSON(data []byte) error {
	var raw struct {
		I         *int     `json:"i"`
		T         *string  `json:"t"`
		P         *string  `json:"p"`
		Index     *int     `json:"index"`
		Text      *string  `json:"text"`
		Prompt    *string  `json:"prompt"`
		StyleRefs []string `json:"style_refs"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = ImagePrompt{StyleRefs: raw.StyleRefs}
	switch {
	case raw.Index != nil:
		p.Index = *raw.Index
	case raw.I != nil:
		// compact form is 1-based
		p.Index = *raw.I - 1
	}
	if raw.Text != nil {
		p.Text = *raw.Text
	} else if raw.T != nil {
		p.Text = *raw.T
	}
	if raw.Prompt != nil {
		p.Prompt = *raw.Prompt
	} else if raw.P != nil {
		p.Prompt = *raw.P
	}
	if p.Prompt == "" {
		return fmt.Errorf("image prompt missing prompt text")
	}
	if len(p.StyleRefs) > 2 {
		p.StyleRefs = p.StyleRefs[:2]
	}
	return nil
}

// Image sources recorded on generated images.
const (
	SourceModel   = "model"
	SourceOverlay = "overlay"
)

// GeneratedImage is one slot of the fan-out output. Failed slots carry a
// reason and no bytes.
type GeneratedImage struct {
	Index    int    `json:"index"`
	Bytes    []byte `json:"-"`
	MIMEType string `json:"mime_type,omitempty"`
	Source   string `json:"source,omitempty"`
	Failed   bool   `json:"failed,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// FailedImage builds the Failed(index, reason) sentinel.
func FailedImage(index int, reason string) GeneratedImage {
	return GeneratedImage{Index: index, Failed: true, Reason: reason}
}

// Extension returns the file extension for the image's MIME type.
func (g GeneratedImage) Extension() string {
	switch g.MIMEType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

// UploadResult is the per-index outcome of a storage upload.
type UploadResult struct {
	Index int    `json:"index"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// OK reports whether the upload produced a URL.
func (u UploadResult) OK() bool {
	return u.Error == "" && u.URL != ""
}

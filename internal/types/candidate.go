// Package types provides type definitions for structured data used throughout the carousel generator.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"
	"strings"
)

// Input modes recorded on jobs and iterations.
const (
	InputModeSheet = "sheet"
	InputModeText  = "text"
)

// CandidatePost is one row of source content eligible for carousel generation.
// It is immutable once fetched.
type CandidatePost struct {
	ID              string            `json:"id"`
	RowIndex        int               `json:"row_index"`
	ScriptText      string            `json:"script_text"`
	ViralityTag     string            `json:"virality_tag"`
	EngagementTag   string            `json:"engagement_tag"`
	Category        string            `json:"category,omitempty"`
	Theme           string            `json:"theme,omitempty"`
	URL             string            `json:"url,omitempty"`
	PostedDate      string            `json:"posted_date,omitempty"`
	OriginalScript  string            `json:"original_script,omitempty"`
	RewrittenScript string            `json:"rewritten_script,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// Script returns the rewritten script when present, otherwise the original one.
func (p CandidatePost) Script() string {
	if s := strings.TrimSpace(p.RewrittenScript); s != "" {
		return s
	}
	if s := strings.TrimSpace(p.OriginalScript); s != "" {
		return s
	}
	return strings.TrimSpace(p.ScriptText)
}

// Render formats the post as the text block handed to the model steps.
func (p CandidatePost) Render() string {
	var sb strings.Builder
	if p.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", p.Category)
	}
	if p.Theme != "" {
		fmt.Fprintf(&sb, "Theme: %s\n", p.Theme)
	}
	fmt.Fprintf(&sb, "Script:\n%s", p.Script())
	return sb.String()
}

// Reference is an optional image handed to the image model alongside a prompt.
type Reference struct {
	Kind     string `json:"kind"` // "style" or "persona"
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Reference kinds.
const (
	ReferenceStyle   = "style"
	ReferencePersona = "persona"
)

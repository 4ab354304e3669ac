// Package llm - extractor.go describes the JSON shapes requested from the model.
package llm

import (
	"fmt"
	"strings"
)

// ExtractionSchema defines the JSON structure a model step asks for.
type ExtractionSchema struct {
	Name   string        // Schema name (e.g., "CreativeBrief")
	Array  bool          // Whether the output is a JSON array of Fields objects
	Count  int           // Expected array length when Array is set
	Fields []SchemaField // Expected output fields
}

// SchemaField defines a single field in the structured output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint: "\"string\"", "[\"string\"]", "true|false"
	Description string // Description for the LLM
	Required    bool   // Whether this field is required
}

// BuildStructuredPrompt appends the output contract for schema to instruction.
func BuildStructuredPrompt(schema ExtractionSchema, instruction string) string {
	var sb strings.Builder

	sb.WriteString(strings.TrimSpace(instruction))
	sb.WriteString("\n\n")

	if schema.Array {
		if schema.Count > 0 {
			sb.WriteString(fmt.Sprintf("Return ONLY a valid JSON array of exactly %d objects, each with this structure:\n{\n", schema.Count))
		} else {
			sb.WriteString("Return ONLY a valid JSON array of objects, each with this structure:\n{\n")
		}
	} else {
		sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	}
	for i, field := range schema.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "\"string\""
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\": %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(schema.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")
	sb.WriteString("Return ONLY the JSON, no markdown, no explanation, no code blocks.\n")

	return sb.String()
}

// --- Predefined Schemas ---

// ContentAnalysisSchema describes the analysis step output.
func ContentAnalysisSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "ContentAnalysis",
		Fields: []SchemaField{
			{Name: "topic", Description: "Main topic in a few words", Required: true},
			{Name: "tone", Description: "Emotional tone of the script", Required: true},
			{Name: "is_story", Type: "true|false", Description: "Whether the script follows a story arc", Required: true},
			{Name: "key_points", Type: "[\"string\"]", Description: "Key ideas worth a slide each"},
		},
	}
}

// CreativeBriefSchema describes the creative direction step output.
func CreativeBriefSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "CreativeBrief",
		Fields: []SchemaField{
			{Name: "carousel_style", Type: "\"narrative|independent\"", Description: "narrative when slides tell one continuous story, independent otherwise", Required: true},
			{Name: "art_style", Description: "One concrete illustration style", Required: true},
			{Name: "colors", Type: "[\"#RRGGBB\"]", Description: "3 to 5 hex colours", Required: true},
			{Name: "text_placement", Type: "\"top|center|bottom\"", Description: "Where slide text sits", Required: true},
			{Name: "reasoning", Description: "One sentence explaining the choices"},
		},
	}
}

// CopySchema describes the copywriting step output for count slides.
func CopySchema(count int) ExtractionSchema {
	return ExtractionSchema{
		Name: "CopyContent",
		Fields: []SchemaField{
			{Name: "post_title", Description: "Short title for the carousel", Required: true},
			{Name: "image_texts", Type: "[\"string\"]", Description: fmt.Sprintf("Exactly %d short slide texts, one per slide", count), Required: true},
			{Name: "post_caption", Description: "Instagram caption", Required: true},
			{Name: "hashtags", Type: "[\"string\"]", Description: "5 to 15 hashtags without spaces", Required: true},
		},
	}
}

// ImagePromptsSchema describes the prompt engineering step output for count slides.
func ImagePromptsSchema(count int) ExtractionSchema {
	return ExtractionSchema{
		Name:  "ImagePrompts",
		Array: true,
		Count: count,
		Fields: []SchemaField{
			{Name: "i", Type: "1", Description: "Slide number starting at 1", Required: true},
			{Name: "t", Description: "Exact slide text to render in the image", Required: true},
			{Name: "p", Description: "Detailed image generation prompt", Required: true},
			{Name: "style_refs", Type: "[\"style|persona\"]", Description: "Supplied reference images this slide should follow, at most 2"},
		},
	}
}

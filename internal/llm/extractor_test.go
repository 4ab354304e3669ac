package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildStructuredPrompt_Object(t *testing.T) {
	prompt := BuildStructuredPrompt(CreativeBriefSchema(), "  Decide the look of the carousel.  ")

	assert.Contains(t, prompt, "Decide the look of the carousel.\n\n")
	assert.Contains(t, prompt, "Return ONLY valid JSON matching this exact structure")
	assert.Contains(t, prompt, `"carousel_style": "narrative|independent" (required)`)
	assert.Contains(t, prompt, `"reasoning": "string" // One sentence`)
	assert.NotContains(t, prompt, "JSON array")
}

func TestBuildStructuredPrompt_Array(t *testing.T) {
	prompt := BuildStructuredPrompt(ImagePromptsSchema(10), "Write prompts.")

	assert.Contains(t, prompt, "JSON array of exactly 10 objects")
	assert.Contains(t, prompt, `"p": "string" (required)`)
}

func TestCopySchema_Count(t *testing.T) {
	schema := CopySchema(7)
	assert.Contains(t, schema.Fields[1].Description, "Exactly 7")
}

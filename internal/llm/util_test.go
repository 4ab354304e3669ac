package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "json code block",
			input:    "```json\n{\"topic\": \"saving\"}\n```",
			expected: `{"topic": "saving"}`,
		},
		{
			name:     "generic code block",
			input:    "```\n{\"topic\": \"saving\"}\n```",
			expected: `{"topic": "saving"}`,
		},
		{
			name:     "code block with language",
			input:    "```javascript\n{\"topic\": \"saving\"}\n```",
			expected: `{"topic": "saving"}`,
		},
		{
			name:     "plain JSON",
			input:    `{"topic": "saving"}`,
			expected: `{"topic": "saving"}`,
		},
		{
			name:     "preamble before object",
			input:    "Here is the creative brief:\n{\"art_style\": \"flat vector\"}",
			expected: `{"art_style": "flat vector"}`,
		},
		{
			name:     "preamble before array",
			input:    "Prompts:\n[{\"i\": 1, \"t\": \"HOOK\", \"p\": \"a lighthouse\"}]",
			expected: `[{"i": 1, "t": "HOOK", "p": "a lighthouse"}]`,
		},
		{
			name:     "trailing text",
			input:    "{\"tone\": \"warm\"}\n\nLet me know if you want changes!",
			expected: `{"tone": "warm"}`,
		},
		{
			name:     "escaped quotes and braces in strings",
			input:    `Result: {"text": "He said \"hi\" {twice}"}`,
			expected: `{"text": "He said \"hi\" {twice}"}`,
		},
		{
			name:     "no JSON at all",
			input:    "sorry, I cannot help",
			expected: "sorry, I cannot help",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple object", `{"key": "value"}`, `{"key": "value"}`},
		{"nested", `{"outer": {"inner": [1, 2]}}`, `{"outer": {"inner": [1, 2]}}`},
		{"trailing text", `{"key": "value"} and more`, `{"key": "value"}`},
		{"placeholder inside string", `{"template": "Hello {name}!"}`, `{"template": "Hello {name}!"}`},
		{"unbalanced", `{"key": "value"`, ""},
		{"empty input", "", ""},
		{"not an object", "not json", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractJSONObject(tt.input))
		})
	}
}

func TestExtractJSONArray(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple array", `["a", "b"]`, `["a", "b"]`},
		{"array of objects", `[{"i": 1}, {"i": 2}] done`, `[{"i": 1}, {"i": 2}]`},
		{"empty input", "", ""},
		{"not an array", "{}", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractJSONArray(tt.input))
		})
	}
}

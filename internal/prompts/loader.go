// Package prompts holds the instruction templates for the carousel model
// steps, embedded from JSON files.
//
// Templates carry two kinds of placeholders. {{.ImageCount}} is a static
// value filled when the pipeline is built; {key} names a pipeline state key
// and is filled each time the step runs.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
)

//go:embed *.json
var files embed.FS

// CarouselFile holds the carousel step templates.
const CarouselFile = "carousel.json"

// Template keys in CarouselFile.
const (
	KeyContentAnalysis   = "content-analysis"
	KeyCreativeDirection = "creative-direction"
	KeyCopywriting       = "copywriting"
	KeyPromptEngineering = "prompt-engineering"
)

// Set is one parsed template file.
type Set struct {
	name      string
	templates map[string]string
}

var loaded sync.Map // file name -> *Set

// Load parses an embedded template file. Parsed files are cached.
func Load(name string) (*Set, error) {
	if s, ok := loaded.Load(name); ok {
		return s.(*Set), nil
	}

	data, err := files.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", name, err)
	}
	var templates map[string]string
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", name, err)
	}

	s, _ := loaded.LoadOrStore(name, &Set{name: name, templates: templates})
	return s.(*Set), nil
}

// Template returns the raw template for key.
func (s *Set) Template(key string) (string, error) {
	t, ok := s.templates[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, s.name)
	}
	return t, nil
}

// Keys lists the template keys, sorted.
func (s *Set) Keys() []string {
	return slices.Sorted(maps.Keys(s.templates))
}

// Static holds the values filled in when a step is built.
type Static struct {
	ImageCount int
}

// Apply fills the static placeholders. State placeholders are left alone.
func (v Static) Apply(template string) string {
	return strings.NewReplacer(
		"{{.ImageCount}}", strconv.Itoa(v.ImageCount),
	).Replace(template)
}

// Carousel returns the carousel template for key with static values applied.
func Carousel(key string, imageCount int) (string, error) {
	set, err := Load(CarouselFile)
	if err != nil {
		return "", err
	}
	t, err := set.Template(key)
	if err != nil {
		return "", err
	}
	return Static{ImageCount: imageCount}.Apply(t), nil
}

var statePlaceholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Placeholders lists the state keys a template refers to, sorted and
// without duplicates.
func Placeholders(template string) []string {
	seen := map[string]bool{}
	for _, m := range statePlaceholder.FindAllStringSubmatch(template, -1) {
		seen[m[1]] = true
	}
	return slices.Sorted(maps.Keys(seen))
}

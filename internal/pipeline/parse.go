package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jonathan/carousel-generator/internal/llm"
)

// ParseText accepts any non-empty text response.
func ParseText(resp *llm.Response) (Value, error) {
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return Value{}, errors.New("empty text response")
	}
	return Text(strings.TrimSpace(resp.Text)), nil
}

// ParseImage accepts a response carrying image bytes.
func ParseImage(resp *llm.Response) (Value, error) {
	if resp == nil || resp.Image == nil || len(resp.Image.Data) == 0 {
		return Value{}, errors.New("response carried no image")
	}
	return Blob(resp.Image.Data), nil
}

// ParseJSON decodes a structured response into T. validate checks the raw
// JSON before decoding and normalize may adjust or reject the decoded value;
// both are optional.
func ParseJSON[T any](validate func(raw string) error, normalize func(*T) error) ParseFunc {
	return func(resp *llm.Response) (Value, error) {
		if resp == nil {
			return Value{}, errors.New("empty response")
		}
		raw := llm.CleanJSONBlock(resp.Text)
		if raw == "" {
			return Value{}, errors.New("empty JSON response")
		}
		if validate != nil {
			if err := validate(raw); err != nil {
				return Value{}, err
			}
		}

		var out T
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return Value{}, fmt.Errorf("invalid JSON: %w", err)
		}
		if normalize != nil {
			if err := normalize(&out); err != nil {
				return Value{}, err
			}
		}
		return Object(out), nil
	}
}

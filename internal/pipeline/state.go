// Package pipeline provides the step and stage orchestration that turns one
// candidate post into a finished carousel: a shared key-value State, leaf
// Steps backed by a model or a tool, Sequential and fan-out stages, and the
// batch loop that runs the per-post pipeline over many candidates.
package pipeline

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// TempPrefix marks keys that live only until the end of the step that wrote them.
const TempPrefix = "temp:"

// ValueKind identifies which variant a Value holds.
type ValueKind int

// Value kinds.
const (
	KindText ValueKind = iota + 1
	KindObject
	KindBlob
)

func (k ValueKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindObject:
		return "object"
	case KindBlob:
		return "blob"
	default:
		return "unset"
	}
}

// Value is a tagged union of text, a structured object, or a byte blob.
type Value struct {
	kind   ValueKind
	text   string
	object any
	blob   []byte
}

// Text wraps a string value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Object wraps a structured value. Objects are expected to be JSON-encodable.
func Object(v any) Value { return Value{kind: KindObject, object: v} }

// Blob wraps raw bytes such as image data.
func Blob(b []byte) Value { return Value{kind: KindBlob, blob: b} }

// Kind returns the variant held by v.
func (v Value) Kind() ValueKind { return v.kind }

// IsZero reports whether v was never set.
func (v Value) IsZero() bool { return v.kind == 0 }

// AsText returns the text variant.
func (v Value) AsText() (string, bool) { return v.text, v.kind == KindText }

// AsObject returns the object variant.
func (v Value) AsObject() (any, bool) { return v.object, v.kind == KindObject }

// AsBlob returns the blob variant.
func (v Value) AsBlob() ([]byte, bool) { return v.blob, v.kind == KindBlob }

// String renders the value for substitution into an instruction template.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindObject:
		data, err := json.MarshalIndent(v.object, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v.object)
		}
		return string(data)
	case KindBlob:
		return fmt.Sprintf("<blob %d bytes>", len(v.blob))
	default:
		return ""
	}
}

// ErrorEntry is one error recorded into the State's error log.
type ErrorEntry struct {
	Step    string    `json:"step"`
	Message string    `json:"error"`
	Time    time.Time `json:"timestamp"`
	Err     error     `json:"-"`
}

// State is the key-value blackboard shared by the steps of one pipeline run.
// It is owned by a single iteration and is not safe for concurrent mutation;
// concurrent readers work on a Snapshot.
type State struct {
	values map[string]Value
	errors []ErrorEntry
}

// NewState returns an empty State.
func NewState() *State {
	return &State{values: make(map[string]Value)}
}

// Get returns the value stored under key.
func (s *State) Get(key string) (Value, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Set stores v under key, replacing any previous value.
func (s *State) Set(key string, v Value) {
	s.values[key] = v
}

// Apply commits a step's writes.
func (s *State) Apply(writes map[string]Value) {
	for k, v := range writes {
		s.values[k] = v
	}
}

// Keys returns the stored keys in sorted order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ClearTemp removes every temp: key and returns how many were removed.
func (s *State) ClearTemp() int {
	removed := 0
	for k := range s.values {
		if strings.HasPrefix(k, TempPrefix) {
			delete(s.values, k)
			removed++
		}
	}
	return removed
}

// Snapshot returns a copy of the stored values. Blob and object payloads are
// shared, so callers must treat them as read-only.
func (s *State) Snapshot() *State {
	cp := &State{values: make(map[string]Value, len(s.values))}
	for k, v := range s.values {
		cp.values[k] = v
	}
	return cp
}

// RecordError appends to the error log.
func (s *State) RecordError(step string, err error) {
	if err == nil {
		return
	}
	s.errors = append(s.errors, ErrorEntry{
		Step:    step,
		Message: err.Error(),
		Time:    time.Now().UTC(),
		Err:     err,
	})
}

// Errors returns a copy of the error log.
func (s *State) Errors() []ErrorEntry {
	out := make([]ErrorEntry, len(s.errors))
	copy(out, s.errors)
	return out
}

// TextOf returns the text rendering of key, or "" when absent.
func (s *State) TextOf(key string) string {
	v, ok := s.values[key]
	if !ok {
		return ""
	}
	return v.String()
}

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*(?::[A-Za-z0-9_]+)?)\}`)

// Render substitutes {key} placeholders with the current values. Placeholders
// naming absent keys are left untouched.
func (s *State) Render(template string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := match[1 : len(match)-1]
		v, ok := s.values[key]
		if !ok {
			return match
		}
		return v.String()
	})
}

// Decode reads key into a T. Objects already of type T are returned as is;
// other objects and text values are converted through JSON.
func Decode[T any](s *State, key string) (T, error) {
	var zero T
	v, ok := s.values[key]
	if !ok {
		return zero, &MissingInputError{Key: key}
	}

	switch v.kind {
	case KindObject:
		if typed, ok := v.object.(T); ok {
			return typed, nil
		}
		if typed, ok := v.object.(*T); ok && typed != nil {
			return *typed, nil
		}
		data, err := json.Marshal(v.object)
		if err != nil {
			return zero, fmt.Errorf("failed to encode %s: %w", key, err)
		}
		var out T
		if err := json.Unmarshal(data, &out); err != nil {
			return zero, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		return out, nil
	case KindText:
		var out T
		if err := json.Unmarshal([]byte(v.text), &out); err != nil {
			return zero, fmt.Errorf("failed to decode %s: %w", key, err)
		}
		return out, nil
	default:
		return zero, fmt.Errorf("key %s holds a %s, not a structured value", key, v.kind)
	}
}

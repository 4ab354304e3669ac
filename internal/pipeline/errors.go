package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MissingInputError is returned when a step's declared input key is absent.
type MissingInputError struct {
	Step string
	Key  string
}

func (e *MissingInputError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("missing input %q", e.Key)
	}
	return fmt.Sprintf("step %s: missing input %q", e.Step, e.Key)
}

// TransportError wraps a network or API failure from an external collaborator.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError is returned when model output does not match the expected shape.
type ParseError struct {
	Step string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("step %s: unparseable model output: %v", e.Step, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SlotFailure is one failed fan-out slot.
type SlotFailure struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// PartialFanOutFailure lists the slots of a fan-out that failed even after
// their fallback. It does not fail the enclosing stage.
type PartialFanOutFailure struct {
	Stage    string
	Failures []SlotFailure
}

func (e *PartialFanOutFailure) Error() string {
	indexes := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		indexes[i] = fmt.Sprintf("%d", f.Index)
	}
	return fmt.Sprintf("%s: %d slot(s) failed [%s]", e.Stage, len(e.Failures), strings.Join(indexes, ","))
}

// Indexes returns the failed slot indexes in ascending order.
func (e *PartialFanOutFailure) Indexes() []int {
	out := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Index
	}
	sort.Ints(out)
	return out
}

// StageError records which child of a stage failed.
type StageError struct {
	Stage string
	Step  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Stage, e.Step, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IterationFailure is an unrecovered failure inside one batch iteration.
type IterationFailure struct {
	Index  int
	PostID string
	Step   string
	Err    error
}

func (e *IterationFailure) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("iteration %d (%s) failed at %s: %v", e.Index, e.PostID, e.Step, e.Err)
	}
	return fmt.Sprintf("iteration %d (%s) failed: %v", e.Index, e.PostID, e.Err)
}

func (e *IterationFailure) Unwrap() error { return e.Err }

// IsRetriable reports whether err may succeed on another attempt.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var missing *MissingInputError
	if errors.As(err, &missing) {
		return false
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var parse *ParseError
	return errors.As(err, &parse)
}

// FailedStep returns the innermost step name recorded by nested stage errors.
func FailedStep(err error) string {
	step := ""
	for err != nil {
		var stageErr *StageError
		if !errors.As(err, &stageErr) {
			break
		}
		step = stageErr.Step
		err = stageErr.Err
	}
	return step
}

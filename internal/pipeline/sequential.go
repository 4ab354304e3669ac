package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FailureMode decides what a Sequential stage does when a child fails.
type FailureMode int

const (
	// AbortOnFailure stops the stage and propagates the child's error.
	AbortOnFailure FailureMode = iota
	// ContinueOnFailure records the error in the State's error log and moves on.
	// The carousel workflow aborts on failure; this mode is for callers that
	// compose their own best-effort monitoring stages around it.
	ContinueOnFailure
)

func (m FailureMode) String() string {
	if m == ContinueOnFailure {
		return "continue"
	}
	return "abort"
}

// Sequential runs its children strictly in declaration order on one State.
// A successful child's writes are committed before the next child starts and
// temp: keys are cleared after every child.
type Sequential struct {
	name     string
	mode     FailureMode
	children []Step
}

// NewSequential creates a sequential stage.
func NewSequential(name string, mode FailureMode, children ...Step) *Sequential {
	return &Sequential{name: name, mode: mode, children: children}
}

// Name returns the stage name.
func (s *Sequential) Name() string { return s.name }

// Children returns the child steps in execution order.
func (s *Sequential) Children() []Step { return s.children }

// Reads returns the keys the stage needs from outside: every child read that
// no earlier child writes.
func (s *Sequential) Reads() []string {
	produced := make(map[string]bool)
	seen := make(map[string]bool)
	var reads []string
	for _, child := range s.children {
		for _, key := range child.Reads() {
			if produced[key] || seen[key] || strings.HasPrefix(key, TempPrefix) {
				continue
			}
			seen[key] = true
			reads = append(reads, key)
		}
		for _, key := range child.Writes() {
			produced[key] = true
		}
	}
	return reads
}

// Writes returns the union of the children's writes.
func (s *Sequential) Writes() []string {
	seen := make(map[string]bool)
	var writes []string
	for _, child := range s.children {
		for _, key := range child.Writes() {
			if seen[key] || strings.HasPrefix(key, TempPrefix) {
				continue
			}
			seen[key] = true
			writes = append(writes, key)
		}
	}
	return writes
}

// Execute runs the children in order.
func (s *Sequential) Execute(ctx context.Context, state *State) StepResult {
	start := time.Now()

	for _, child := range s.children {
		if err := ctx.Err(); err != nil {
			return s.fail(child.Name(), err, start)
		}

		var res StepResult
		if err := CheckInputs(child, state); err != nil {
			res = Failure(child.Name(), err)
		} else {
			res = child.Execute(ctx, state)
		}

		if res.OK() {
			state.Apply(res.Writes)
		}
		state.ClearTemp()

		if res.OK() {
			continue
		}
		if s.mode == ContinueOnFailure {
			state.RecordError(child.Name(), res.Err)
			continue
		}
		return s.fail(child.Name(), res.Err, start)
	}

	return StepResult{Step: s.name, Attempts: 1, Duration: time.Since(start)}
}

func (s *Sequential) fail(child string, err error, start time.Time) StepResult {
	res := Failure(s.name, &StageError{Stage: s.name, Step: child, Err: err})
	res.Duration = time.Since(start)
	return res
}

// ValidateWiring walks steps in order and reports reads that neither seed nor
// an earlier step provides.
func ValidateWiring(seed []string, steps ...Step) error {
	available := make(map[string]bool, len(seed))
	for _, key := range seed {
		available[key] = true
	}

	var missing []string
	var walk func(step Step)
	walk = func(step Step) {
		step = unwrap(step)
		if seq, ok := step.(*Sequential); ok {
			for _, child := range seq.children {
				walk(child)
			}
			return
		}
		for _, key := range step.Reads() {
			if !available[key] {
				missing = append(missing, fmt.Sprintf("%s needs %s", step.Name(), key))
			}
		}
		for _, key := range step.Writes() {
			available[key] = true
		}
	}
	for _, step := range steps {
		walk(step)
	}

	if len(missing) > 0 {
		return fmt.Errorf("unsatisfied step inputs: %s", strings.Join(missing, "; "))
	}
	return nil
}

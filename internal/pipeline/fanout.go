package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Slot is one fan-out result, index-aligned with the inputs.
type Slot[Out any] struct {
	Index    int
	Value    Out
	Err      error
	FellBack bool
}

// FanOut runs one unit of work per input concurrently. Each unit sees its own
// snapshot of the State and writes only its own slot, so results come back in
// input order regardless of completion order.
type FanOut[In, Out any] struct {
	Name string
	// Limit caps concurrent units; zero or less means one goroutine per input.
	Limit int
	Run   func(ctx context.Context, snapshot *State, index int, in In) (Out, error)
	// Fallback gets one attempt after Run fails.
	Fallback func(ctx context.Context, snapshot *State, index int, in In, cause error) (Out, error)
}

// Execute runs every input to completion and returns one slot per input.
// It never cancels siblings when one unit fails.
func (f *FanOut[In, Out]) Execute(ctx context.Context, state *State, inputs []In) []Slot[Out] {
	slots := make([]Slot[Out], len(inputs))

	var g errgroup.Group
	if f.Limit > 0 {
		g.SetLimit(f.Limit)
	}
	for i, in := range inputs {
		snapshot := state.Snapshot()
		g.Go(func() error {
			slots[i] = f.runOne(ctx, snapshot, i, in)
			return nil
		})
	}
	_ = g.Wait()

	return slots
}

func (f *FanOut[In, Out]) runOne(ctx context.Context, snapshot *State, index int, in In) (slot Slot[Out]) {
	slot.Index = index
	defer func() {
		if r := recover(); r != nil {
			slot = Slot[Out]{Index: index, Err: fmt.Errorf("%s[%d] panicked: %v", f.Name, index, r)}
		}
	}()

	out, err := f.Run(ctx, snapshot, index, in)
	if err == nil {
		slot.Value = out
		return slot
	}
	if f.Fallback == nil {
		slot.Err = err
		return slot
	}

	out, fbErr := f.Fallback(ctx, snapshot, index, in, err)
	if fbErr != nil {
		slot.Err = fmt.Errorf("%w (fallback failed: %v)", err, fbErr)
		return slot
	}
	slot.Value = out
	slot.FellBack = true
	return slot
}

// SlotFailures collects the failed slots, or nil when every slot succeeded.
func SlotFailures[Out any](stage string, slots []Slot[Out]) *PartialFanOutFailure {
	var failures []SlotFailure
	for _, s := range slots {
		if s.Err != nil {
			failures = append(failures, SlotFailure{Index: s.Index, Reason: s.Err.Error()})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &PartialFanOutFailure{Stage: stage, Failures: failures}
}

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_ReportsAroundExecution(t *testing.T) {
	var events []string
	hook := HookFuncs{
		Before: func(_ context.Context, step string) { events = append(events, "before:"+step) },
		After: func(_ context.Context, res StepResult) {
			events = append(events, "after:"+res.Step)
		},
	}

	step := Instrument(NewToolStep("select_post", nil, []string{"current_post"},
		func(context.Context, *State) (map[string]Value, error) {
			events = append(events, "run")
			return map[string]Value{"current_post": Text("x")}, nil
		}), hook)

	state := NewState()
	res := NewSequential("post", AbortOnFailure, step).Execute(context.Background(), state)
	require.True(t, res.OK())

	assert.Equal(t, []string{"before:select_post", "run", "after:select_post"}, events)
	assert.Equal(t, "select_post", step.Name())
	assert.True(t, state.Has("current_post"))
}

func TestInstrument_NoHooksReturnsStep(t *testing.T) {
	step := NewToolStep("a", nil, nil, nil)
	assert.Same(t, step, Instrument(step))
}

func TestLogHook(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	step := Instrument(NewToolStep("write_sheet", nil, nil,
		func(context.Context, *State) (map[string]Value, error) {
			return nil, errors.New("quota")
		}), LogHook(logger))

	step.Execute(context.Background(), NewState())

	out := buf.String()
	assert.Contains(t, out, `"step":"write_sheet"`)
	assert.Contains(t, out, `"error":"quota"`)
	assert.Contains(t, out, `"message":"step finished"`)
}

func TestProgressHook(t *testing.T) {
	var events []ProgressEvent
	step := Instrument(NewToolStep("upload_images", nil, nil,
		func(context.Context, *State) (map[string]Value, error) {
			return nil, errors.New("bucket missing")
		}), ProgressHook(func(e ProgressEvent) { events = append(events, e) }))

	step.Execute(context.Background(), NewState())

	require.Len(t, events, 2)
	assert.Equal(t, ProgressEvent{Step: "upload_images", Status: "started"}, events[0])
	assert.Equal(t, "failed", events[1].Status)
	assert.Equal(t, "bucket missing", events[1].Message)
}

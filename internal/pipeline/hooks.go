package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Hook observes step execution without changing it.
type Hook interface {
	BeforeStep(ctx context.Context, step string)
	AfterStep(ctx context.Context, result StepResult)
}

// HookFuncs adapts plain functions to Hook. Nil fields are skipped.
type HookFuncs struct {
	Before func(ctx context.Context, step string)
	After  func(ctx context.Context, result StepResult)
}

// BeforeStep calls Before when set.
func (h HookFuncs) BeforeStep(ctx context.Context, step string) {
	if h.Before != nil {
		h.Before(ctx, step)
	}
}

// AfterStep calls After when set.
func (h HookFuncs) AfterStep(ctx context.Context, result StepResult) {
	if h.After != nil {
		h.After(ctx, result)
	}
}

type instrumented struct {
	Step
	hooks []Hook
}

// Instrument decorates step so every execution is reported to hooks.
func Instrument(step Step, hooks ...Hook) Step {
	if len(hooks) == 0 {
		return step
	}
	return &instrumented{Step: step, hooks: hooks}
}

func (i *instrumented) Execute(ctx context.Context, state *State) StepResult {
	start := time.Now()
	for _, h := range i.hooks {
		h.BeforeStep(ctx, i.Step.Name())
	}

	res := i.Step.Execute(ctx, state)
	if res.Step == "" {
		res.Step = i.Step.Name()
	}
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}

	for _, h := range i.hooks {
		h.AfterStep(ctx, res)
	}
	return res
}

func unwrap(step Step) Step {
	for {
		inst, ok := step.(*instrumented)
		if !ok {
			return step
		}
		step = inst.Step
	}
}

// LogHook logs step start and completion.
func LogHook(logger zerolog.Logger) Hook {
	return HookFuncs{
		Before: func(_ context.Context, step string) {
			logger.Debug().Str("step", step).Msg("step started")
		},
		After: func(_ context.Context, res StepResult) {
			event := logger.Info()
			if !res.OK() {
				event = logger.Warn().Err(res.Err).Bool("retriable", res.Retriable)
			}
			if instruction, ok := res.Writes[KeyInstruction]; ok {
				text, _ := instruction.AsText()
				event = event.Int("instruction_chars", len(text))
			}
			event.
				Str("step", res.Step).
				Int("attempts", res.Attempts).
				Int64("duration_ms", res.Duration.Milliseconds()).
				Msg("step finished")
		},
	}
}

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	PostID  string `json:"post_id,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// ProgressHook forwards step starts and completions to cb.
func ProgressHook(cb ProgressCallback) Hook {
	return HookFuncs{
		Before: func(_ context.Context, step string) {
			cb(ProgressEvent{Step: step, Status: "started"})
		},
		After: func(_ context.Context, res StepResult) {
			event := ProgressEvent{Step: res.Step, Status: "completed"}
			if !res.OK() {
				event.Status = "failed"
				event.Message = res.Err.Error()
			}
			cb(event)
		},
	}
}

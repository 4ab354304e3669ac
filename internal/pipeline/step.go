package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/jonathan/carousel-generator/internal/llm"
)

// KeyInstruction holds a model step's rendered instruction until the step ends.
const KeyInstruction = TempPrefix + "instruction"

// Step is the smallest unit of work. Reads and Writes declare the State keys
// the step consumes and produces; they are metadata used for early input
// checks and wiring validation.
type Step interface {
	Name() string
	Reads() []string
	Writes() []string
	Execute(ctx context.Context, state *State) StepResult
}

// StepResult is the tagged outcome of a step. A nil Err means success and
// Writes are committed by the enclosing stage; on failure Writes are dropped.
type StepResult struct {
	Step      string
	Output    Value
	Writes    map[string]Value
	Err       error
	Retriable bool
	Attempts  int
	Duration  time.Duration
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool { return r.Err == nil }

// Success builds a successful result.
func Success(step string, output Value, writes map[string]Value) StepResult {
	return StepResult{Step: step, Output: output, Writes: writes, Attempts: 1}
}

// Failure builds a failed result.
func Failure(step string, err error) StepResult {
	return StepResult{Step: step, Err: err, Retriable: IsRetriable(err), Attempts: 1}
}

// CheckInputs returns a MissingInputError for the first declared read absent from state.
func CheckInputs(step Step, state *State) error {
	for _, key := range step.Reads() {
		if !state.Has(key) {
			return &MissingInputError{Step: step.Name(), Key: key}
		}
	}
	return nil
}

// ToolFunc performs a deterministic collaborator call. It must treat state
// as read-only and return the values to write.
type ToolFunc func(ctx context.Context, state *State) (map[string]Value, error)

// ToolStep calls a collaborator directly, with bounded retry on retriable errors.
type ToolStep struct {
	name   string
	reads  []string
	writes []string
	fn     ToolFunc
	retry  RetryPolicy
}

// ToolOption configures a ToolStep.
type ToolOption func(*ToolStep)

// WithRetry sets the retry policy applied to retriable collaborator errors.
func WithRetry(p RetryPolicy) ToolOption {
	return func(s *ToolStep) { s.retry = p }
}

// NewToolStep creates a tool step.
func NewToolStep(name string, reads, writes []string, fn ToolFunc, opts ...ToolOption) *ToolStep {
	s := &ToolStep{
		name:   name,
		reads:  reads,
		writes: writes,
		fn:     fn,
		retry:  NoRetry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the step name.
func (s *ToolStep) Name() string { return s.name }

// Reads returns the declared input keys.
func (s *ToolStep) Reads() []string { return s.reads }

// Writes returns the declared output keys.
func (s *ToolStep) Writes() []string { return s.writes }

// Execute runs the tool function.
func (s *ToolStep) Execute(ctx context.Context, state *State) StepResult {
	start := time.Now()
	if err := CheckInputs(s, state); err != nil {
		return Failure(s.name, err)
	}

	var writes map[string]Value
	attempts, err := Retry(ctx, s.retry, IsRetriable, func(int) error {
		var opErr error
		writes, opErr = s.fn(ctx, state)
		return opErr
	})

	var res StepResult
	if err != nil {
		res = Failure(s.name, err)
	} else {
		var output Value
		if len(s.writes) > 0 {
			output = writes[s.writes[0]]
		}
		res = Success(s.name, output, writes)
	}
	res.Attempts = attempts
	res.Duration = time.Since(start)
	return res
}

// Model is the model-invocation collaborator.
type Model interface {
	Invoke(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ParseFunc converts a model response into the value written by the step.
type ParseFunc func(resp *llm.Response) (Value, error)

// ModelStepConfig configures a ModelStep.
type ModelStepConfig struct {
	Name        string
	Instruction string // template with {key} placeholders
	Reads       []string
	Output      string // key written on success
	Shape       llm.Shape
	Tier        llm.ModelTier
	Model       Model
	Parse       ParseFunc
	// Attachments resolves reference images from the state at call time.
	Attachments func(state *State) []llm.Attachment
	// ParseRetries is how many extra attempts a ParseError earns. Zero means
	// the default of one; a negative value disables parse retries.
	ParseRetries int
	// Transport controls retries of collaborator failures (default none).
	Transport RetryPolicy
}

// ModelStep renders an instruction from the State, invokes the model, and
// parses the response into its output key.
type ModelStep struct {
	cfg          ModelStepConfig
	parseRetries int
}

// NewModelStep creates a model step.
func NewModelStep(cfg ModelStepConfig) *ModelStep {
	parseRetries := cfg.ParseRetries
	switch {
	case parseRetries == 0:
		parseRetries = 1
	case parseRetries < 0:
		parseRetries = 0
	}
	if cfg.Parse == nil {
		cfg.Parse = ParseText
	}
	if cfg.Transport.MaxAttempts == 0 {
		cfg.Transport = NoRetry()
	}
	return &ModelStep{cfg: cfg, parseRetries: parseRetries}
}

// Name returns the step name.
func (s *ModelStep) Name() string { return s.cfg.Name }

// Reads returns the declared input keys.
func (s *ModelStep) Reads() []string { return s.cfg.Reads }

// Writes returns the output key.
func (s *ModelStep) Writes() []string { return []string{s.cfg.Output} }

// Execute renders, invokes and parses. Every attempt renders from the current
// State, which failed attempts never modify.
func (s *ModelStep) Execute(ctx context.Context, state *State) StepResult {
	start := time.Now()
	if err := CheckInputs(s, state); err != nil {
		return Failure(s.cfg.Name, err)
	}

	parseLeft := s.parseRetries
	transportLeft := s.cfg.Transport.MaxAttempts - 1
	transportAttempt := 0
	attempts := 0

	for {
		attempts++
		instruction := state.Render(s.cfg.Instruction)

		req := llm.Request{
			Instruction: instruction,
			Shape:       s.cfg.Shape,
			Tier:        s.cfg.Tier,
		}
		if s.cfg.Attachments != nil {
			req.Attachments = s.cfg.Attachments(state)
		}

		value, err := s.invoke(ctx, req)
		if err == nil {
			res := Success(s.cfg.Name, value, map[string]Value{
				s.cfg.Output:   value,
				KeyInstruction: Text(instruction),
			})
			res.Attempts = attempts
			res.Duration = time.Since(start)
			return res
		}

		var parseErr *ParseError
		var transportErr *TransportError
		switch {
		case errors.As(err, &parseErr) && parseLeft > 0:
			parseLeft--
			continue
		case errors.As(err, &transportErr) && transportLeft > 0:
			transportLeft--
			transportAttempt++
			if waitErr := sleepCtx(ctx, s.cfg.Transport.Backoff(transportAttempt)); waitErr != nil {
				err = waitErr
			} else {
				continue
			}
		}

		res := Failure(s.cfg.Name, err)
		res.Attempts = attempts
		res.Duration = time.Since(start)
		return res
	}
}

func (s *ModelStep) invoke(ctx context.Context, req llm.Request) (Value, error) {
	resp, err := s.cfg.Model.Invoke(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Value{}, ctx.Err()
		}
		return Value{}, &TransportError{Op: s.cfg.Name, Err: err}
	}
	value, err := s.cfg.Parse(resp)
	if err != nil {
		return Value{}, &ParseError{Step: s.cfg.Name, Err: err}
	}
	return value, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"transport", &TransportError{Op: "upload", Err: errors.New("503")}, true},
		{"wrapped transport", fmt.Errorf("ctx: %w", &TransportError{Op: "x", Err: errors.New("y")}), true},
		{"parse", &ParseError{Step: "copywriting", Err: errors.New("bad json")}, true},
		{"missing input", &MissingInputError{Step: "s", Key: "k"}, false},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetriable(tt.err))
		})
	}
}

func TestFailedStep_Innermost(t *testing.T) {
	inner := &StageError{Stage: "finalize", Step: "write_sheet", Err: errors.New("sheet down")}
	outer := &StageError{Stage: "post", Step: "finalize", Err: inner}

	assert.Equal(t, "write_sheet", FailedStep(outer))
	assert.Equal(t, "sheet down", rootMessage(outer))
	assert.Equal(t, "", FailedStep(errors.New("plain")))
}

func TestPartialFanOutFailure(t *testing.T) {
	err := &PartialFanOutFailure{Stage: "generate_images", Failures: []SlotFailure{{Index: 7}, {Index: 3}}}

	assert.Equal(t, []int{3, 7}, err.Indexes())
	assert.Contains(t, err.Error(), "2 slot(s) failed [7,3]")
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `step copywriting: missing input "creative_brief"`,
		(&MissingInputError{Step: "copywriting", Key: "creative_brief"}).Error())
	assert.Equal(t, `missing input "x"`, (&MissingInputError{Key: "x"}).Error())

	iter := &IterationFailure{Index: 2, PostID: "post_2", Step: "write_sheet", Err: errors.New("denied")}
	assert.Equal(t, "iteration 2 (post_2) failed at write_sheet: denied", iter.Error())
}

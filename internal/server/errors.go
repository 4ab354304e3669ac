package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/carousel-generator/internal/generator"
	"github.com/jonathan/carousel-generator/internal/jobs"
	"github.com/jonathan/carousel-generator/internal/storage"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// validationError converts validator output into an *ErrValidation for the
// first failing field.
func validationError(err error) error {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return &ErrValidation{Field: ve[0].Field(), Message: ve[0].Tag()}
	}
	return &ErrValidation{Field: "body", Message: err.Error()}
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var validation *ErrValidation
	var running *jobs.AlreadyRunningError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &running):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrNotFound), errors.Is(err, storage.ErrPostNotFound):
		return http.StatusNotFound
	case errors.Is(err, generator.ErrEmptyText):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

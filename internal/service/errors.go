package service

import (
	"errors"

	"github.com/sayuricruzv/project-YeyosFitness/internal/repository"
)

// ErrInvalidInput wraps request validation failures.
var ErrInvalidInput = errors.New("invalid input")

// ErrForbidden is returned when the caller may not act on a resource.
var ErrForbidden = errors.New("forbidden")

// Error codes shared by metrics labels and the JSON error envelope.
const (
	CodeOK           = "ok"
	CodeFull         = "full"
	CodeDuplicate    = "duplicate"
	CodeNotFound     = "not_found"
	CodeInvalidState = "invalid_state"
	CodeTimeout      = "timeout"
	CodeUnavailable  = "unavailable"
	CodeInvalidInput = "invalid_input"
	CodeForbidden    = "forbidden"
	CodeInternal     = "internal"
)

// Code classifies err into one of the error codes above.
func Code(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, repository.ErrClassFull):
		return CodeFull
	case errors.Is(err, repository.ErrDuplicate):
		return CodeDuplicate
	case errors.Is(err, repository.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, repository.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, repository.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, repository.ErrUnavailable), errors.Is(err, repository.ErrTransient):
		return CodeUnavailable
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	}
	return CodeInternal
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrPermanent     = errors.New("permanent failure")
	ErrTransient     = errors.New("transient failure")
	ErrTimeout       = errors.New("timeout")
	ErrConfiguration = errors.New("configuration error")
	ErrCapacity      = errors.New("capacity exceeded")
	ErrNotFound      = errors.New("not found")
)

// Kind is the coarse failure classification recorded on tasks and surfaced to
// clients. It decides whether the worker retries an attempt.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindPermanent     Kind = "permanent"
	KindTransient     Kind = "transient"
	KindTimeout       Kind = "timeout"
	KindConfiguration Kind = "configuration"
	KindCapacity      Kind = "capacity"
	KindNotFound      Kind = "not_found"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto its failure kind. Unknown errors are treated as
// transient so the retry policy gets a chance to absorb them.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrCapacity):
		return KindCapacity
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindTransient
	}
}

// Retryable reports whether a failure should re-enter the queue for another
// attempt. Timeouts count as transient per the retry policy.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}

// ErrorDetails carries the classification and trimmed message extracted from a
// wrapped error for surfacing on tasks and API responses.
type ErrorDetails struct {
	Kind    Kind
	Message string
}

// Details resolves the classification and trimmed message for an error.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	return ErrorDetails{
		Kind:    Classify(err),
		Message: strings.TrimSpace(err.Error()),
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

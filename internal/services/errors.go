package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrLoadFailure           = errors.New("load failure")
	ErrExecutionFailure      = errors.New("execution failure")
	ErrTimeout               = errors.New("timeout")
	ErrContextFailure        = errors.New("context failure")
	ErrValidation            = errors.New("validation error")
	ErrClosed                = errors.New("client closed")
)

// Kind names used in status updates, API responses and history rows.
const (
	KindCapabilityUnavailable = "CapabilityUnavailable"
	KindLoadFailure           = "LoadFailure"
	KindExecutionFailure      = "ExecutionFailure"
	KindTimeout               = "Timeout"
	KindContextFailure        = "ContextFailure"
	KindValidation            = "Validation"
	KindClosed                = "Closed"
	KindCanceled              = "Canceled"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExecutionFailure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error onto the failure taxonomy. Unmarked errors are
// reported as execution failures; nil yields the empty string.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCapabilityUnavailable):
		return KindCapabilityUnavailable
	case errors.Is(err, ErrLoadFailure):
		return KindLoadFailure
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrContextFailure):
		return KindContextFailure
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrClosed):
		return KindClosed
	case errors.Is(err, ErrExecutionFailure):
		return KindExecutionFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindExecutionFailure
	}
}

// Retryable reports whether re-invoking the operation may succeed without
// caller changes.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindLoadFailure, KindTimeout, KindContextFailure, KindCanceled:
		return true
	default:
		return false
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
		return "bridge failure"
	}
	return strings.Join(parts, ": ")
}

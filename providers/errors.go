package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorClass sorts provider failures into the retry policy's buckets.
type ErrorClass int

// Error classes, from least to most actionable.
const (
	// ClassUnknown is an unclassified failure, treated as terminal.
	ClassUnknown ErrorClass = iota

	// ClassTransient covers network faults and 5xx responses; retryable
	// with backoff.
	ClassTransient

	// ClassRateLimit is a 429; retryable after backoff.
	ClassRateLimit

	// ClassContextLength means the prompt exceeded the model's window;
	// recoverable exactly once via a minimized payload.
	ClassContextLength

	// ClassConfig is a static misconfiguration (missing or rejected
	// credentials); terminal immediately, retrying cannot fix it.
	ClassConfig

	// ClassCanceled means the caller gave up; never retried.
	ClassCanceled
)

// String returns the class name for logs and events.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRateLimit:
		return "rate_limit"
	case ClassContextLength:
		return "context_length"
	case ClassConfig:
		return "config"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider error (%s, HTTP %d): %s", e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider error (%s): %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrMissingAPIKey is returned at construction when no credential is
// available. Config class: terminal, no retry.
var ErrMissingAPIKey = &Error{Class: ClassConfig, Message: "missing API key"}

// contextLengthMarkers are substrings completion services use to report a
// blown context window. Matched case-insensitively against error bodies.
var contextLengthMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"prompt is too long",
	"input is too long",
}

// ClassifyHTTP converts a non-2xx completion-service response into a
// classified error.
func ClassifyHTTP(statusCode int, body []byte) *Error {
	msg := string(body)
	lower := strings.ToLower(msg)

	class := ClassUnknown
	switch {
	case statusCode == 429:
		class = ClassRateLimit
	case statusCode == 401 || statusCode == 403:
		class = ClassConfig
	case statusCode >= 500:
		class = ClassTransient
	case statusCode == 400 || statusCode == 413:
		for _, marker := range contextLengthMarkers {
			if strings.Contains(lower, marker) {
				class = ClassContextLength
				break
			}
		}
	}

	return &Error{Class: class, StatusCode: statusCode, Message: msg}
}

// Classify returns the class of any error, unwrapping as needed.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassUnknown
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	return ClassUnknown
}

// IsRetryable reports whether the in-flight channel may retry the call.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ClassTransient, ClassRateLimit:
		return true
	default:
		return false
	}
}

// IsContextLength reports whether the single minimized-payload retry applies.
func IsContextLength(err error) bool {
	return Classify(err) == ClassContextLength
}

// IsConfig reports whether the failure is a static misconfiguration.
func IsConfig(err error) bool {
	return Classify(err) == ClassConfig
}

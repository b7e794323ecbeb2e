// Package usecase implements the application services of the Gateway:
// admission, status lookup, user feedback, aggregate feedback and the
// worker-facing internal operations.
package usecase

import (
	"fmt"

	"github.com/fairyhunter13/ml-serving-stack/internal/domain"
)

// EnvelopeError is an error whose message is meant for the client response
// envelope. It wraps a domain sentinel so transport code can branch on the
// error class while relaying Message verbatim.
type EnvelopeError struct {
	Sentinel error
	Message  string
}

func (e *EnvelopeError) Error() string { return e.Message }

// Unwrap exposes the domain sentinel for errors.Is.
func (e *EnvelopeError) Unwrap() error { return e.Sentinel }

func envErr(sentinel error, format string, args ...any) error {
	return &EnvelopeError{Sentinel: sentinel, Message: fmt.Sprintf(format, args...)}
}

// RateLimitError is an EnvelopeError that also carries the timestamp after
// which a new aggregate-feedback request will be accepted.
type RateLimitError struct {
	EnvelopeError
	NextFeedbackTimestamp float64
}

func rateLimitErr(next float64, format string, args ...any) error {
	return &RateLimitError{
		EnvelopeError:         EnvelopeError{Sentinel: domain.ErrRateLimited, Message: fmt.Sprintf(format, args...)},
		NextFeedbackTimestamp: next,
	}
}

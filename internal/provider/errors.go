package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cvforge/backend/pkg/circuitbreaker"
)

// RetryableError marks a transient provider failure: timeout, 5xx, rate
// limiting. These count toward the circuit breaker threshold and may be
// retried or routed to the next model candidate.
type RetryableError struct {
	Provider string
	Err      error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: retryable provider error: %v", e.Provider, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// NonRetryableError marks a failure caused by the request itself: bad
// payload, auth. It indicates a caller bug rather than provider instability,
// so it neither trips the breaker nor triggers fallback.
type NonRetryableError struct {
	Provider string
	Err      error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("%s: non-retryable provider error: %v", e.Provider, e.Err)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should count as provider instability.
// Breaker short-circuits are excluded: the call was never attempted.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return false
	}

	var nonRetryable *NonRetryableError
	if errors.As(err, &nonRetryable) {
		return false
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	// Timeouts and cancellations behave like transient failures.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	// Unclassified transport errors are treated as transient.
	return true
}

// classifyStatus wraps err according to its HTTP status code. Status 0 means
// no response was received (network error, timeout) and is retryable.
func classifyStatus(providerName string, status int, err error) error {
	switch {
	case status == 0:
		return &RetryableError{Provider: providerName, Err: err}
	case status == 408 || status == 429:
		return &RetryableError{Provider: providerName, Err: err}
	case status >= 500:
		return &RetryableError{Provider: providerName, Err: err}
	case status >= 400:
		return &NonRetryableError{Provider: providerName, Err: err}
	default:
		return &RetryableError{Provider: providerName, Err: err}
	}
}

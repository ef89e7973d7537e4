package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cvforge/backend/pkg/circuitbreaker"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{0, true},
		{408, true},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{400, false},
		{401, false},
		{403, false},
		{404, false},
		{422, false},
	}

	for _, tc := range cases {
		err := classifyStatus(NameOpenAI, tc.status, errors.New("boom"))
		assert.Equal(t, tc.retryable, IsRetryable(err), "status %d", tc.status)
	}
}

func TestIsRetryableWrappedErrors(t *testing.T) {
	retryable := &RetryableError{Provider: NameGemini, Err: errors.New("rate limited")}
	wrapped := fmt.Errorf("embed: %w", retryable)
	assert.True(t, IsRetryable(wrapped))

	nonRetryable := &NonRetryableError{Provider: NameGemini, Err: errors.New("bad key")}
	wrapped = fmt.Errorf("complete: %w", nonRetryable)
	assert.False(t, IsRetryable(wrapped))
}

func TestIsRetryableTimeouts(t *testing.T) {
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(fmt.Errorf("call: %w", context.DeadlineExceeded)))
}

func TestIsRetryableExcludesBreakerShortCircuit(t *testing.T) {
	assert.False(t, IsRetryable(circuitbreaker.ErrCircuitOpen))
	assert.False(t, IsRetryable(fmt.Errorf("gate: %w", circuitbreaker.ErrCircuitOpen)))
}

func TestIsRetryableNil(t *testing.T) {
	assert.False(t, IsRetryable(nil))
}

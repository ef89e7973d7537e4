package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")
var errCallerBug = errors.New("caller bug")

func testConfig(cooldown time.Duration) Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         cooldown,
		IsFailure: func(err error) bool {
			return err != nil && !errors.Is(err, errCallerBug)
		},
	}
}

func fail(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return errTransient })
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func() error { return nil })
}

func TestBreakerOpensAtThresholdExactly(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(time.Minute))

	require.Equal(t, StateClosed, cb.State())

	fail(cb)
	fail(cb)
	assert.Equal(t, StateClosed, cb.State(), "must not open before the threshold")

	fail(cb)
	assert.Equal(t, StateOpen, cb.State(), "must open at exactly the threshold")
}

func TestOpenShortCircuitsWithoutInvokingCall(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(time.Minute))
	for i := 0; i < 3; i++ {
		fail(cb)
	}

	invoked := false
	err := cb.Execute(context.Background(), func() error {
		invoked = true
		return nil
	})

	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked, "open breaker must not attempt the call")
}

func TestNonRetryableFailuresDoNotCount(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(time.Minute))

	for i := 0; i < 10; i++ {
		cb.Execute(context.Background(), func() error { return errCallerBug })
	}

	assert.Equal(t, StateClosed, cb.State())
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(time.Minute))

	fail(cb)
	fail(cb)
	succeed(cb)
	fail(cb)
	fail(cb)
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(20*time.Millisecond))
	for i := 0; i < 3; i++ {
		fail(cb)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, succeed(cb))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(20*time.Millisecond))
	for i := 0; i < 3; i++ {
		fail(cb)
	}

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	fail(cb)
	assert.Equal(t, StateOpen, cb.State())
}

func TestHalfOpenAdmitsExactlyOneProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", testConfig(20*time.Millisecond))
	for i := 0; i < 3; i++ {
		fail(cb)
	}

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	probeDone := make(chan error, 1)

	go func() {
		probeDone <- cb.Execute(context.Background(), func() error {
			close(probeStarted)
			<-release
			return nil
		})
	}()

	<-probeStarted

	invoked := false
	err := cb.Execute(context.Background(), func() error {
		invoked = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen, "second caller must not get a concurrent probe")
	assert.False(t, invoked)

	close(release)
	require.NoError(t, <-probeDone)
	assert.Equal(t, StateClosed, cb.State())
}

func TestReopenCooldownBacksOff(t *testing.T) {
	cb := NewCircuitBreaker("test", Config{
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
		MaxCooldown:      80 * time.Millisecond,
	})

	fail(cb)
	require.Equal(t, StateOpen, cb.State())

	// First reopen: probe fails, cooldown doubles to 20ms.
	time.Sleep(15 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())
	fail(cb)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(12 * time.Millisecond)
	assert.Equal(t, StateOpen, cb.State(), "doubled cooldown must still be in effect")

	time.Sleep(15 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestSnapshotReflectsState(t *testing.T) {
	cb := NewCircuitBreaker("openai/completion", testConfig(time.Minute))
	fail(cb)

	snap := cb.Snapshot()
	assert.Equal(t, "openai/completion", snap.Name)
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, uint32(1), snap.ConsecutiveFailures)
	assert.False(t, snap.LastFailure.IsZero())
}

func TestRegistryReturnsSameBreakerPerKey(t *testing.T) {
	registry := NewRegistry(testConfig(time.Minute))

	a := registry.Get("openai", CapabilityCompletion)
	b := registry.Get("openai", CapabilityCompletion)
	c := registry.Get("openai", CapabilityEmbedding)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestRegistrySnapshotsSorted(t *testing.T) {
	registry := NewRegistry(testConfig(time.Minute))
	registry.Get("openai", CapabilityCompletion)
	registry.Get("gemini", CapabilityEmbedding)
	registry.Get("gemini", CapabilityCompletion)

	snapshots := registry.Snapshots()
	require.Len(t, snapshots, 3)
	assert.Equal(t, "gemini/completion", snapshots[0].Name)
	assert.Equal(t, "gemini/embedding", snapshots[1].Name)
	assert.Equal(t, "openai/completion", snapshots[2].Name)
}

package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when the breaker short-circuits a call without
// attempting it. Concurrent callers racing a half-open probe get the same
// error: only one probe is admitted per half-open window.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

type Config struct {
	FailureThreshold uint32
	Cooldown         time.Duration
	MaxCooldown      time.Duration
	// IsFailure decides whether a call outcome counts toward the failure
	// threshold. Non-retryable errors (auth, malformed request) indicate a
	// caller bug, not provider instability, and must not trip the breaker.
	IsFailure     func(err error) bool
	OnStateChange func(name string, from State, to State)
	Logger        *zap.Logger
}

// CircuitBreaker guards one (provider, capability) pair. Closed passes calls
// through and counts consecutive failures; Open rejects immediately until the
// cooldown elapses; HalfOpen admits a single probe whose outcome decides
// between reopening and closing.
type CircuitBreaker struct {
	name             string
	failureThreshold uint32
	cooldown         time.Duration
	maxCooldown      time.Duration
	isFailure        func(err error) bool
	onStateChange    func(name string, from State, to State)
	logger           *zap.Logger

	mu           sync.Mutex
	state        State
	generation   uint64
	failures     uint32
	probeInRun   bool
	reopens      uint32
	lastFailure  time.Time
	expiry       time.Time
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		failureThreshold: cfg.FailureThreshold,
		cooldown:         cfg.Cooldown,
		maxCooldown:      cfg.MaxCooldown,
		isFailure:        cfg.IsFailure,
		onStateChange:    cfg.OnStateChange,
		logger:           cfg.Logger,
	}

	if cb.failureThreshold == 0 {
		cb.failureThreshold = 5
	}
	if cb.cooldown == 0 {
		cb.cooldown = 30 * time.Second
	}
	if cb.maxCooldown == 0 {
		cb.maxCooldown = 8 * cb.cooldown
	}
	if cb.isFailure == nil {
		cb.isFailure = func(err error) bool { return err != nil }
	}

	return cb
}

// Execute runs fn under the breaker gate. It returns ErrCircuitOpen without
// invoking fn when the breaker is open or a half-open probe is already in
// flight; otherwise it returns fn's error unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	generation, err := cb.beforeRequest()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, true)
			panic(r)
		}
	}()

	err = fn()
	cb.afterRequest(generation, cb.isFailure(err))
	return err
}

func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)

	switch state {
	case StateOpen:
		return cb.generation, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probeInRun {
			return cb.generation, ErrCircuitOpen
		}
		cb.probeInRun = true
	}

	return cb.generation, nil
}

func (cb *CircuitBreaker) afterRequest(before uint64, failure bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state := cb.currentState(now)
	if cb.generation != before {
		return
	}

	if failure {
		cb.onFailure(state, now)
	} else {
		cb.onSuccess(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state State, now time.Time) {
	cb.failures = 0

	if state == StateHalfOpen {
		cb.reopens = 0
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state State, now time.Time) {
	cb.lastFailure = now

	switch state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.reopens++
		cb.setState(StateOpen, now)
	}
}

// currentState must be called with cb.mu held. It promotes Open to HalfOpen
// once the cooldown has elapsed.
func (cb *CircuitBreaker) currentState(now time.Time) State {
	if cb.state == StateOpen && cb.expiry.Before(now) {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.generation++
	cb.probeInRun = false

	switch state {
	case StateOpen:
		cb.expiry = now.Add(cb.currentCooldown())
	default:
		cb.expiry = time.Time{}
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	if cb.logger != nil {
		cb.logger.Info("Circuit breaker state changed",
			zap.String("name", cb.name),
			zap.String("from", prev.String()),
			zap.String("to", state.String()),
			zap.Uint32("consecutive_failures", cb.failures),
			zap.Uint32("reopens", cb.reopens),
		)
	}
}

// currentCooldown doubles the base cooldown per consecutive reopening, capped
// at maxCooldown, so a flapping provider backs off progressively.
func (cb *CircuitBreaker) currentCooldown() time.Duration {
	cooldown := cb.cooldown
	for i := uint32(0); i < cb.reopens; i++ {
		cooldown *= 2
		if cooldown >= cb.maxCooldown {
			return cb.maxCooldown
		}
	}
	return cooldown
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.currentState(time.Now())
}

// Snapshot is a point-in-time view of one breaker, for status endpoints.
type Snapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	RetryAt             time.Time `json:"retry_at,omitempty"`
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState(time.Now())
	return Snapshot{
		Name:                cb.name,
		State:               state.String(),
		ConsecutiveFailures: cb.failures,
		LastFailure:         cb.lastFailure,
		RetryAt:             cb.expiry,
	}
}

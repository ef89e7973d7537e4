package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvforge/backend/internal/budget"
	"github.com/cvforge/backend/internal/provider"
	"github.com/cvforge/backend/internal/tracker"
	"github.com/cvforge/backend/pkg/circuitbreaker"
)

type fixture struct {
	selector *Selector
	registry *circuitbreaker.Registry
	tracker  *tracker.Tracker
}

func newFixture(t *testing.T, userCeiling float64) *fixture {
	t.Helper()

	registry := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: 5,
		Cooldown:         time.Minute,
		IsFailure:        provider.IsRetryable,
	})
	trk := tracker.New(nil, time.Hour)
	t.Cleanup(trk.Close)
	guard := budget.NewGuard(trk, userCeiling, 0, time.Hour)

	return &fixture{
		selector: New(registry, guard, trk),
		registry: registry,
		tracker:  trk,
	}
}

func tripBreaker(f *fixture, providerName string, capability circuitbreaker.Capability) {
	cb := f.registry.Get(providerName, capability)
	failure := &provider.RetryableError{Provider: providerName, Err: errors.New("timeout")}
	for i := 0; i < 5; i++ {
		cb.Execute(context.Background(), func() error { return failure })
	}
}

func TestSelectReturnsFullPreferenceList(t *testing.T) {
	f := newFixture(t, 100.0)

	candidates, err := f.selector.Select(TaskContentGeneration, StrategyQualityFocused, "alice", 1000)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.Equal(t, "gpt-4o", candidates[0].Model)
}

func TestSelectFiltersOpenBreakers(t *testing.T) {
	f := newFixture(t, 100.0)
	tripBreaker(f, provider.NameOpenAI, circuitbreaker.CapabilityCompletion)

	candidates, err := f.selector.Select(TaskContentGeneration, StrategyQualityFocused, "alice", 1000)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, provider.NameGemini, candidates[0].Provider)
}

func TestSelectAllBreakersOpen(t *testing.T) {
	f := newFixture(t, 100.0)
	tripBreaker(f, provider.NameOpenAI, circuitbreaker.CapabilityCompletion)
	tripBreaker(f, provider.NameGemini, circuitbreaker.CapabilityCompletion)

	_, err := f.selector.Select(TaskContentGeneration, StrategyBalanced, "alice", 1000)
	var noModel *NoAvailableModelError
	require.ErrorAs(t, err, &noModel)
	assert.Equal(t, TaskContentGeneration, noModel.TaskType)
	assert.Len(t, noModel.Rejected, 3)
	for _, rejection := range noModel.Rejected {
		assert.Contains(t, rejection.Reason, "circuit breaker open")
	}
}

func TestSelectFiltersBudgetExhaustedUser(t *testing.T) {
	f := newFixture(t, 1.0)

	f.tracker.Record(tracker.CallRecord{
		Provider: "openai", Model: "gpt-4o", UserID: "alice", CostUSD: 1.5, Success: true,
	})
	f.tracker.Flush()

	_, err := f.selector.Select(TaskContentGeneration, StrategyBalanced, "alice", 1000)
	var noModel *NoAvailableModelError
	require.ErrorAs(t, err, &noModel)
	for _, rejection := range noModel.Rejected {
		assert.Contains(t, rejection.Reason, "budget exceeded")
	}
}

func TestSelectEmbeddingCandidates(t *testing.T) {
	f := newFixture(t, 100.0)

	candidates, err := f.selector.Select(TaskEmbedding, StrategyBalanced, "alice", 500)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for _, candidate := range candidates {
		assert.Equal(t, circuitbreaker.CapabilityEmbedding, candidate.Capability)
	}
}

func TestSelectReordersByRecentSuccessRate(t *testing.T) {
	f := newFixture(t, 100.0)

	// gpt-4o has been failing; the gemini candidate should be promoted.
	for i := 0; i < 10; i++ {
		f.tracker.Record(tracker.CallRecord{
			Provider: provider.NameOpenAI, Model: "gpt-4o", UserID: "alice", Success: false,
		})
	}
	f.tracker.Flush()

	candidates, err := f.selector.Select(TaskContentGeneration, StrategyBalanced, "alice", 1000)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	assert.NotEqual(t, "gpt-4o", candidates[0].Model)
	assert.Equal(t, "gpt-4o", candidates[2].Model, "failing model drops to the end")
}

func TestCostOptimizedKeepsTableOrder(t *testing.T) {
	f := newFixture(t, 100.0)

	for i := 0; i < 10; i++ {
		f.tracker.Record(tracker.CallRecord{
			Provider: provider.NameGemini, Model: "gemini-2.0-flash-lite", UserID: "alice", Success: false,
		})
	}
	f.tracker.Flush()

	candidates, err := f.selector.Select(TaskJobParsing, StrategyCostOptimized, "alice", 1000)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash-lite", candidates[0].Model,
		"cost-optimized ignores performance reordering")
}

func TestUnknownStrategyFallsBackToBalanced(t *testing.T) {
	f := newFixture(t, 100.0)

	candidates, err := f.selector.Select(TaskJobParsing, Strategy("nonsense"), "alice", 1000)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", candidates[0].Model)
}

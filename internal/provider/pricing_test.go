package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateCostKnownModel(t *testing.T) {
	// gpt-4o: $2.50 in, $10.00 out per million tokens.
	cost := CalculateCost("gpt-4o", 1_000_000, 100_000)
	assert.InDelta(t, 2.50+1.00, cost, 1e-9)
}

func TestCalculateCostEmbeddingModel(t *testing.T) {
	cost := CalculateCost("text-embedding-3-small", 500_000, 0)
	assert.InDelta(t, 0.01, cost, 1e-9)
}

func TestCalculateCostUnknownModelIsFree(t *testing.T) {
	assert.Zero(t, CalculateCost("self-hosted-llama", 1_000_000, 1_000_000))
}

func TestEstimateCostUsesCharHeuristic(t *testing.T) {
	// 4000 chars ~ 1000 input tokens plus the full output ceiling.
	estimate := EstimateCost("gpt-4o-mini", 4000, 1000)
	exact := CalculateCost("gpt-4o-mini", 1000, 1000)
	assert.InDelta(t, exact, estimate, 1e-9)
}

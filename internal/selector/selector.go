package selector

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cvforge/backend/internal/budget"
	"github.com/cvforge/backend/internal/provider"
	"github.com/cvforge/backend/internal/tracker"
	"github.com/cvforge/backend/pkg/circuitbreaker"
	"github.com/cvforge/backend/pkg/logger"
)

type TaskType string

const (
	TaskJobParsing        TaskType = "job-parsing"
	TaskContentGeneration TaskType = "content-generation"
	TaskRanking           TaskType = "ranking"
	TaskEmbedding         TaskType = "embedding"
)

type Strategy string

const (
	StrategyCostOptimized  Strategy = "cost-optimized"
	StrategyBalanced       Strategy = "balanced"
	StrategyQualityFocused Strategy = "quality-focused"
)

// Candidate is one (provider, model) pair the selector may route a task to.
type Candidate struct {
	Provider   string
	Model      string
	Capability circuitbreaker.Capability
	MaxTokens  int
}

// Rejection explains why a candidate was filtered out of a selection.
type Rejection struct {
	Candidate Candidate
	Reason    string
}

// NoAvailableModelError is returned when every candidate for a task is
// filtered out. The caller degrades to a non-LLM fallback where one exists.
type NoAvailableModelError struct {
	TaskType TaskType
	Strategy Strategy
	Rejected []Rejection
}

func (e *NoAvailableModelError) Error() string {
	return fmt.Sprintf("no available model for task %q with strategy %q (%d candidates rejected)",
		e.TaskType, e.Strategy, len(e.Rejected))
}

// Static task preference tables, most preferred first. The breaker and
// budget filters are applied on top at selection time.
var preferenceTables = map[Strategy]map[TaskType][]Candidate{
	StrategyQualityFocused: {
		TaskJobParsing: {
			{Provider: provider.NameOpenAI, Model: "gpt-4o", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 1024},
			{Provider: provider.NameGemini, Model: "gemini-2.0-flash", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 1024},
			{Provider: provider.NameOpenAI, Model: "gpt-4o-mini", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 1024},
		},
		TaskContentGeneration: {
			{Provider: provider.NameOpenAI, Model: "gpt-4o", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 2048},
			{Provider: provider.NameGemini, Model: "gemini-2.0-flash", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 2048},
			{Provider: provider.NameOpenAI, Model: "gpt-4o-mini", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 2048},
		},
		TaskRanking: {
			{Provider: provider.NameOpenAI, Model: "gpt-4o-mini", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 512},
			{Provider: provider.NameGemini, Model: "gemini-2.0-flash", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 512},
		},
		TaskEmbedding: {
			{Provider: provider.NameOpenAI, Model: "text-embedding-3-large", Capability: circuitbreaker.CapabilityEmbedding},
			{Provider: provider.NameOpenAI, Model: "text-embedding-3-small", Capability: circuitbreaker.CapabilityEmbedding},
			{Provider: provider.NameGemini, Model: "text-embedding-004", Capability: circuitbreaker.CapabilityEmbedding},
		},
	},
	StrategyBalanced: {
		TaskJobParsing: {
			{Provider: provider.NameOpenAI, Model: "gpt-4o-mini", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 1024},
			{Provider: provider.NameGemini, Model: "gemini-2.0-flash", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 1024},
			{Provider: provider.NameOpenAI, Model: "gpt-4o", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 1024},
		},
		TaskContentGeneration: {
			{Provider: provider.NameOpenAI, Model: "gpt-4o", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 2048},
			{Provider: provider.NameGemini, Model: "gemini-2.0-flash", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 2048},
			{Provider: provider.NameOpenAI, Model: "gpt-4o-mini", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 2048},
		},
		TaskRanking: {
			{Provider: provider.NameOpenAI, Model: "gpt-4o-mini", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 512},
			{Provider: provider.NameGemini, Model: "gemini-2.0-flash-lite", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 512},
		},
		TaskEmbedding: {
			{Provider: provider.NameOpenAI, Model: "text-embedding-3-small", Capability: circuitbreaker.CapabilityEmbedding},
			{Provider: provider.NameGemini, Model: "text-embedding-004", Capability: circuitbreaker.CapabilityEmbedding},
		},
	},
	StrategyCostOptimized: {
		TaskJobParsing: {
			{Provider: provider.NameGemini, Model: "gemini-2.0-flash-lite", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 1024},
			{Provider: provider.NameOpenAI, Model: "gpt-4o-mini", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 1024},
		},
		TaskContentGeneration: {
			{Provider: provider.NameOpenAI, Model: "gpt-4o-mini", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 2048},
			{Provider: provider.NameGemini, Model: "gemini-2.0-flash-lite", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 2048},
		},
		TaskRanking: {
			{Provider: provider.NameGemini, Model: "gemini-2.0-flash-lite", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 512},
			{Provider: provider.NameOpenAI, Model: "gpt-4o-mini", Capability: circuitbreaker.CapabilityCompletion, MaxTokens: 512},
		},
		TaskEmbedding: {
			{Provider: provider.NameGemini, Model: "text-embedding-004", Capability: circuitbreaker.CapabilityEmbedding},
			{Provider: provider.NameOpenAI, Model: "text-embedding-3-small", Capability: circuitbreaker.CapabilityEmbedding},
		},
	},
}

// Selector chooses an ordered preference list of candidates for a task,
// filtering out breaker-open and budget-breaching entries. Selection never
// fails silently: every rejection is logged with its reason.
type Selector struct {
	registry *circuitbreaker.Registry
	guard    *budget.Guard
	tracker  *tracker.Tracker
}

func New(registry *circuitbreaker.Registry, guard *budget.Guard, t *tracker.Tracker) *Selector {
	return &Selector{
		registry: registry,
		guard:    guard,
		tracker:  t,
	}
}

// Select returns the surviving candidates for (taskType, strategy), most
// preferred first. estimatedInputChars sizes the budget estimate. An empty
// survivor list yields a NoAvailableModelError carrying every rejection.
func (s *Selector) Select(taskType TaskType, strategy Strategy, userID string, estimatedInputChars int) ([]Candidate, error) {
	table, ok := preferenceTables[strategy]
	if !ok {
		table = preferenceTables[StrategyBalanced]
		strategy = StrategyBalanced
	}

	candidates, ok := table[taskType]
	if !ok {
		return nil, &NoAvailableModelError{TaskType: taskType, Strategy: strategy}
	}

	var selected []Candidate
	var rejected []Rejection

	for _, candidate := range candidates {
		if s.registry.Get(candidate.Provider, candidate.Capability).State() == circuitbreaker.StateOpen {
			rejected = append(rejected, Rejection{Candidate: candidate, Reason: "circuit breaker open"})
			continue
		}

		estimatedCost := provider.EstimateCost(candidate.Model, estimatedInputChars, candidate.MaxTokens)
		if err := s.guard.Check(userID, estimatedCost); err != nil {
			rejected = append(rejected, Rejection{Candidate: candidate, Reason: err.Error()})
			continue
		}

		selected = append(selected, candidate)
	}

	if strategy != StrategyCostOptimized && len(selected) > 1 {
		s.reorderByPerformance(selected)
	}

	s.logDecision(taskType, strategy, userID, selected, rejected)

	if len(selected) == 0 {
		return nil, &NoAvailableModelError{TaskType: taskType, Strategy: strategy, Rejected: rejected}
	}

	return selected, nil
}

// reorderByPerformance prefers candidates with a higher recent success rate.
// Candidates without recorded calls keep their table position (assumed
// healthy). The sort is stable so the static preference breaks ties.
func (s *Selector) reorderByPerformance(candidates []Candidate) {
	rate := func(c Candidate) float64 {
		r, ok := s.tracker.SuccessRate(c.Provider, c.Model)
		if !ok {
			return 1.0
		}
		return r
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return rate(candidates[i]) > rate(candidates[j])
	})
}

func (s *Selector) logDecision(taskType TaskType, strategy Strategy, userID string, selected []Candidate, rejected []Rejection) {
	selectedModels := make([]string, len(selected))
	for i, c := range selected {
		selectedModels[i] = c.Provider + "/" + c.Model
	}

	rejectedModels := make([]string, len(rejected))
	for i, r := range rejected {
		rejectedModels[i] = r.Candidate.Provider + "/" + r.Candidate.Model + ": " + r.Reason
	}

	logger.Info("Model selection decided",
		zap.String("task_type", string(taskType)),
		zap.String("strategy", string(strategy)),
		zap.String("user_id", userID),
		zap.Strings("selected", selectedModels),
		zap.Strings("rejected", rejectedModels),
	)
}

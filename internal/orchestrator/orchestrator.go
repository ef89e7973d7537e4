package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cvforge/backend/internal/budget"
	"github.com/cvforge/backend/internal/embedding"
	"github.com/cvforge/backend/internal/metrics"
	"github.com/cvforge/backend/internal/provider"
	"github.com/cvforge/backend/internal/ranking"
	"github.com/cvforge/backend/internal/selector"
	"github.com/cvforge/backend/internal/tracker"
	"github.com/cvforge/backend/pkg/circuitbreaker"
	"github.com/cvforge/backend/pkg/config"
	"github.com/cvforge/backend/pkg/logger"
	"github.com/cvforge/backend/pkg/retry"
)

// GenerationPayload is the model-independent part of a completion request;
// the selector supplies the concrete (provider, model).
type GenerationPayload struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// Orchestrator is the in-process boundary the task dispatcher invokes: model
// selection, breaker gating, provider calls, cost accounting, embedding and
// ranking all hang off it.
type Orchestrator struct {
	providers   map[string]provider.Provider
	registry    *circuitbreaker.Registry
	tracker     *tracker.Tracker
	guard       *budget.Guard
	selector    *selector.Selector
	embeddings  *embedding.Service
	ranker      *ranking.Ranker
	retryCfg    retry.Config
	callTimeout time.Duration
}

// New wires the full layer from configuration. The redis cache is used when
// configured, otherwise the in-process cache serves single-worker setups.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	providers := make(map[string]provider.Provider)

	if cfg.Providers.OpenAI.APIKey != "" {
		providers[provider.NameOpenAI] = provider.NewOpenAI(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Temperature,
			cfg.Providers.OpenAI.MaxTokens,
		)
	}
	if cfg.Providers.Gemini.APIKey != "" {
		gemini, err := provider.NewGemini(ctx, cfg.Providers.Gemini.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini provider: %w", err)
		}
		providers[provider.NameGemini] = gemini
	}
	if len(providers) == 0 {
		return nil, errors.New("no llm provider configured")
	}

	registry := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		MaxCooldown:      cfg.Breaker.MaxCooldown,
		IsFailure:        provider.IsRetryable,
		OnStateChange: func(name string, _, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		Logger: logger.GetLogger(),
	})

	var store *tracker.Store
	if cfg.Ledger.Path != "" {
		var err error
		store, err = tracker.NewStore(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open call record store: %w", err)
		}
	}

	trk := tracker.New(store, cfg.Budget.Window)
	guard := budget.NewGuard(trk, cfg.Budget.UserDailyCeilingUSD, cfg.Budget.GlobalDailyCeilingUSD, cfg.Budget.Window)
	sel := selector.New(registry, guard, trk)

	var cache embedding.Cache
	if cfg.Redis.Enabled {
		redisCache, err := embedding.NewRedisCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis cache: %w", err)
		}
		cache = redisCache
	} else {
		cache = embedding.NewMemoryCache()
	}

	retryCfg := retry.Config{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialDelay:   cfg.Retry.InitialDelay,
		MaxDelay:       cfg.Retry.MaxDelay,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		IsRetryable:    provider.IsRetryable,
		Logger:         logger.GetLogger(),
	}

	embeddings := embedding.NewService(embedding.Config{
		Cache:       cache,
		Providers:   providers,
		Registry:    registry,
		Tracker:     trk,
		Selector:    sel,
		Retry:       retryCfg,
		CallTimeout: cfg.Retry.CallTimeout,
		CacheTTL:    cfg.Embedding.CacheTTL,
		BatchSize:   cfg.Embedding.BatchSize,
	})

	o := &Orchestrator{
		providers:   providers,
		registry:    registry,
		tracker:     trk,
		guard:       guard,
		selector:    sel,
		embeddings:  embeddings,
		ranker:      ranking.NewRanker(embeddings),
		retryCfg:    retryCfg,
		callTimeout: cfg.Retry.CallTimeout,
	}

	logger.Info("LLM orchestration layer initialized",
		zap.Int("providers", len(providers)),
		zap.Bool("redis_cache", cfg.Redis.Enabled),
		zap.Bool("persistent_ledger", store != nil),
	)

	return o, nil
}

// SelectAndCall picks a model for the task, gates it through the breaker and
// budget guard, and returns the first candidate's successful completion.
// Retryable failures fall through to the next candidate; non-retryable ones
// surface immediately.
func (o *Orchestrator) SelectAndCall(ctx context.Context, taskType selector.TaskType, strategy selector.Strategy, userID string, payload GenerationPayload) (*provider.CompletionResult, error) {
	if err := o.guard.Check(userID, 0); err != nil {
		return nil, err
	}

	inputChars := len(payload.SystemPrompt) + len(payload.UserPrompt)
	candidates, err := o.selector.Select(taskType, strategy, userID, inputChars)
	if err != nil {
		return nil, err
	}

	var rejected []selector.Rejection
	for _, candidate := range candidates {
		result, err := o.callCandidate(ctx, taskType, userID, candidate, payload)
		if err == nil {
			return result, nil
		}

		var nonRetryable *provider.NonRetryableError
		if errors.As(err, &nonRetryable) {
			return nil, err
		}

		logger.Warn("Candidate call failed, falling back",
			zap.String("provider", candidate.Provider),
			zap.String("model", candidate.Model),
			zap.String("task_type", string(taskType)),
			zap.Error(err),
		)
		rejected = append(rejected, selector.Rejection{Candidate: candidate, Reason: err.Error()})
	}

	return nil, &selector.NoAvailableModelError{TaskType: taskType, Strategy: strategy, Rejected: rejected}
}

func (o *Orchestrator) callCandidate(ctx context.Context, taskType selector.TaskType, userID string, candidate selector.Candidate, payload GenerationPayload) (*provider.CompletionResult, error) {
	prov, ok := o.providers[candidate.Provider]
	if !ok {
		return nil, &provider.NonRetryableError{
			Provider: candidate.Provider,
			Err:      fmt.Errorf("provider %q is not configured", candidate.Provider),
		}
	}

	maxTokens := payload.MaxTokens
	if maxTokens == 0 {
		maxTokens = candidate.MaxTokens
	}

	cb := o.registry.Get(candidate.Provider, candidate.Capability)

	var result *provider.CompletionResult
	start := time.Now()

	err := cb.Execute(ctx, func() error {
		return retry.Do(ctx, o.retryCfg, func() error {
			callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
			defer cancel()

			var err error
			result, err = prov.Complete(callCtx, provider.CompletionRequest{
				Model:        candidate.Model,
				SystemPrompt: payload.SystemPrompt,
				UserPrompt:   payload.UserPrompt,
				Temperature:  payload.Temperature,
				MaxTokens:    maxTokens,
			})
			return err
		})
	})

	o.recordCompletion(taskType, userID, candidate, result, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (o *Orchestrator) recordCompletion(taskType selector.TaskType, userID string, candidate selector.Candidate, result *provider.CompletionResult, latency time.Duration, err error) {
	rec := tracker.CallRecord{
		TaskType:   string(taskType),
		Provider:   candidate.Provider,
		Model:      candidate.Model,
		UserID:     userID,
		Capability: string(candidate.Capability),
		Latency:    latency,
		Success:    err == nil,
	}

	switch {
	case err == nil:
		if result != nil {
			rec.PromptTokens = result.Usage.PromptTokens
			rec.CompletionTokens = result.Usage.CompletionTokens
			rec.CostUSD = provider.CalculateCost(candidate.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
		}
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		rec.Skipped = true
		rec.ErrorClass = tracker.ErrorClassCircuitOpen
		metrics.BreakerShortCircuits.WithLabelValues(candidate.Provider + "/" + string(candidate.Capability)).Inc()
	case provider.IsRetryable(err):
		rec.ErrorClass = tracker.ErrorClassRetryable
	default:
		rec.ErrorClass = tracker.ErrorClassNonRetryable
	}

	o.tracker.Record(rec)
}

// GetOrCreateEmbedding returns the cached or freshly generated vector for
// (text, modelID).
func (o *Orchestrator) GetOrCreateEmbedding(ctx context.Context, text, modelID string) ([]float32, error) {
	return o.embeddings.GetOrCreate(ctx, text, modelID)
}

// GetOrCreateEmbeddings is the batch form: cache hits cost no remote call and
// misses are batched, with output order matching the input.
func (o *Orchestrator) GetOrCreateEmbeddings(ctx context.Context, texts []string, modelID, userID string) ([][]float32, error) {
	return o.embeddings.GetOrCreateBatch(ctx, texts, modelID, userID)
}

// RankArtifacts scores artifacts against the job description and returns an
// ordered list. A keyword-based result with the same shape is returned when
// embeddings are unavailable.
func (o *Orchestrator) RankArtifacts(ctx context.Context, jobText string, artifacts []ranking.Artifact, userID string, strategy selector.Strategy) []ranking.RankingResult {
	return o.ranker.RankArtifacts(ctx, jobText, artifacts, userID, strategy)
}

// BreakerStatus exposes every breaker's state for operational visibility.
func (o *Orchestrator) BreakerStatus() []circuitbreaker.Snapshot {
	return o.registry.Snapshots()
}

// CostSummary reports a user's cumulative spend against their ceiling.
func (o *Orchestrator) CostSummary(userID string) budget.Status {
	o.tracker.Flush()
	return o.guard.UserStatus(userID)
}

// GlobalCostSummary reports total spend over the budget window.
func (o *Orchestrator) GlobalCostSummary() budget.Status {
	o.tracker.Flush()
	return o.guard.GlobalStatus()
}

// Close flushes the tracker and releases resources.
func (o *Orchestrator) Close() {
	o.tracker.Close()
}

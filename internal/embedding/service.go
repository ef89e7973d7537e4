package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cvforge/backend/internal/metrics"
	"github.com/cvforge/backend/internal/provider"
	"github.com/cvforge/backend/internal/selector"
	"github.com/cvforge/backend/internal/tracker"
	"github.com/cvforge/backend/pkg/circuitbreaker"
	"github.com/cvforge/backend/pkg/logger"
	"github.com/cvforge/backend/pkg/retry"
	"github.com/cvforge/backend/pkg/utils"
)

var modelProviders = map[string]string{
	"text-embedding-3-small": provider.NameOpenAI,
	"text-embedding-3-large": provider.NameOpenAI,
	"text-embedding-004":     provider.NameGemini,
}

// Service generates embeddings through the selector/breaker/provider path
// and caches them keyed by content fingerprint. At most one remote call is
// issued per distinct fingerprint under sequential access; concurrent misses
// for the same fingerprint tolerate duplicate calls (last write wins).
type Service struct {
	cache       Cache
	providers   map[string]provider.Provider
	registry    *circuitbreaker.Registry
	tracker     *tracker.Tracker
	sel         *selector.Selector
	retryCfg    retry.Config
	callTimeout time.Duration
	cacheTTL    time.Duration
	batchSize   int
}

type Config struct {
	Cache       Cache
	Providers   map[string]provider.Provider
	Registry    *circuitbreaker.Registry
	Tracker     *tracker.Tracker
	Selector    *selector.Selector
	Retry       retry.Config
	CallTimeout time.Duration
	CacheTTL    time.Duration
	BatchSize   int
}

func NewService(cfg Config) *Service {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	return &Service{
		cache:       cfg.Cache,
		providers:   cfg.Providers,
		registry:    cfg.Registry,
		tracker:     cfg.Tracker,
		sel:         cfg.Selector,
		retryCfg:    cfg.Retry,
		callTimeout: cfg.CallTimeout,
		cacheTTL:    cfg.CacheTTL,
		batchSize:   cfg.BatchSize,
	}
}

// GetOrCreate returns the embedding for text under modelID, from cache when
// the fingerprint is known, otherwise via one remote call.
func (s *Service) GetOrCreate(ctx context.Context, text, modelID string) ([]float32, error) {
	vectors, err := s.GetOrCreateBatch(ctx, []string{text}, modelID, "")
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// GetOrCreateBatch partitions texts into cache hits (returned with no remote
// call) and misses (batched into remote calls up to the provider batch
// limit). Output order matches input order.
func (s *Service) GetOrCreateBatch(ctx context.Context, texts []string, modelID, userID string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		fingerprint := utils.Fingerprint(text, modelID)
		vector, ok, err := s.cache.Get(ctx, fingerprint)
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if ok {
			metrics.EmbeddingCacheHits.WithLabelValues(s.cache.Type()).Inc()
			vectors[i] = vector
			continue
		}
		metrics.EmbeddingCacheMisses.WithLabelValues(s.cache.Type()).Inc()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	for start := 0; start < len(missTexts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(missTexts) {
			end = len(missTexts)
		}
		batch := missTexts[start:end]

		generated, err := s.generate(ctx, modelID, userID, batch)
		if err != nil {
			return nil, err
		}

		for j, vector := range generated {
			i := missIdx[start+j]
			vectors[i] = vector

			fingerprint := utils.Fingerprint(texts[i], modelID)
			if err := s.cache.Set(ctx, fingerprint, vector, s.cacheTTL); err != nil {
				logger.Warn("Embedding cache write failed", zap.Error(err))
			}
		}
	}

	return vectors, nil
}

// EmbedWithFallback embeds texts using the selector's candidate chain for
// the embedding task: a candidate whose call fails with a retryable or
// circuit-open error is skipped in favor of the next one. It returns the
// model that produced the vectors so callers can keep fingerprints coherent.
func (s *Service) EmbedWithFallback(ctx context.Context, texts []string, userID string, strategy selector.Strategy) ([][]float32, string, error) {
	candidates, err := s.sel.Select(selector.TaskEmbedding, strategy, userID, totalChars(texts))
	if err != nil {
		return nil, "", err
	}

	var rejected []selector.Rejection
	for _, candidate := range candidates {
		vectors, err := s.GetOrCreateBatch(ctx, texts, candidate.Model, userID)
		if err == nil {
			return vectors, candidate.Model, nil
		}

		var nonRetryable *provider.NonRetryableError
		if errors.As(err, &nonRetryable) {
			return nil, "", err
		}

		logger.Warn("Embedding candidate failed, trying next",
			zap.String("provider", candidate.Provider),
			zap.String("model", candidate.Model),
			zap.Error(err),
		)
		rejected = append(rejected, selector.Rejection{Candidate: candidate, Reason: err.Error()})
	}

	return nil, "", &selector.NoAvailableModelError{
		TaskType: selector.TaskEmbedding,
		Strategy: strategy,
		Rejected: rejected,
	}
}

func (s *Service) generate(ctx context.Context, modelID, userID string, texts []string) ([][]float32, error) {
	providerName, ok := modelProviders[modelID]
	if !ok {
		return nil, &provider.NonRetryableError{
			Provider: "unknown",
			Err:      fmt.Errorf("no provider registered for embedding model %q", modelID),
		}
	}

	prov, ok := s.providers[providerName]
	if !ok {
		return nil, &provider.NonRetryableError{
			Provider: providerName,
			Err:      fmt.Errorf("provider %q is not configured", providerName),
		}
	}

	cb := s.registry.Get(providerName, circuitbreaker.CapabilityEmbedding)

	var result *provider.EmbeddingResult
	start := time.Now()

	err := cb.Execute(ctx, func() error {
		return retry.Do(ctx, s.retryCfg, func() error {
			callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
			defer cancel()

			var err error
			result, err = prov.Embed(callCtx, provider.EmbeddingRequest{Model: modelID, Texts: texts})
			return err
		})
	})

	latency := time.Since(start)
	s.record(modelID, providerName, userID, result, latency, err)

	if err != nil {
		return nil, err
	}

	return result.Vectors, nil
}

func (s *Service) record(modelID, providerName, userID string, result *provider.EmbeddingResult, latency time.Duration, err error) {
	rec := tracker.CallRecord{
		TaskType:   string(selector.TaskEmbedding),
		Provider:   providerName,
		Model:      modelID,
		UserID:     userID,
		Capability: string(circuitbreaker.CapabilityEmbedding),
		Latency:    latency,
		Success:    err == nil,
	}

	switch {
	case err == nil:
		if result != nil {
			rec.PromptTokens = result.Usage.PromptTokens
			rec.CostUSD = provider.CalculateCost(modelID, result.Usage.PromptTokens, 0)
		}
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		rec.Skipped = true
		rec.ErrorClass = tracker.ErrorClassCircuitOpen
		metrics.BreakerShortCircuits.WithLabelValues(providerName + "/" + string(circuitbreaker.CapabilityEmbedding)).Inc()
	case provider.IsRetryable(err):
		rec.ErrorClass = tracker.ErrorClassRetryable
	default:
		rec.ErrorClass = tracker.ErrorClassNonRetryable
	}

	s.tracker.Record(rec)
}

func totalChars(texts []string) int {
	n := 0
	for _, text := range texts {
		n += len(text)
	}
	return n
}

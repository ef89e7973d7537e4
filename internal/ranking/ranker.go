package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cvforge/backend/internal/embedding"
	"github.com/cvforge/backend/internal/metrics"
	"github.com/cvforge/backend/internal/selector"
	"github.com/cvforge/backend/pkg/logger"
)

// ScoreSource identifies which path produced a relevance score.
type ScoreSource string

const (
	SourceEmbedding ScoreSource = "embedding"
	SourceKeyword   ScoreSource = "keyword"
)

// Artifact is one unit of user work to score against a job description.
type Artifact struct {
	ID           string
	Title        string
	Description  string
	Technologies []string
}

func (a Artifact) text() string {
	parts := []string{a.Title, a.Description}
	parts = append(parts, a.Technologies...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

// RankingResult carries one artifact's relevance score in [0,10], the path
// that produced it, and a short human-readable explanation.
type RankingResult struct {
	ArtifactID  string      `json:"artifact_id"`
	Score       float64     `json:"score"`
	Source      ScoreSource `json:"source"`
	Explanation string      `json:"explanation"`
}

// Ranker scores artifacts against a job description by embedding cosine
// similarity, degrading to lexical overlap when no embedding model is
// reachable. Both paths share the output contract and the 0-10 scale.
type Ranker struct {
	embeddings *embedding.Service
}

func NewRanker(embeddings *embedding.Service) *Ranker {
	return &Ranker{embeddings: embeddings}
}

// RankArtifacts returns one result per artifact, sorted by score descending.
// It never propagates an embedding failure: when vectors cannot be produced
// the keyword fallback fills the same shape with Source marked keyword.
func (r *Ranker) RankArtifacts(ctx context.Context, jobText string, artifacts []Artifact, userID string, strategy selector.Strategy) []RankingResult {
	if len(artifacts) == 0 {
		return []RankingResult{}
	}

	jobTerms := significantTerms(jobText)

	texts := make([]string, 0, len(artifacts)+1)
	texts = append(texts, jobText)
	for _, artifact := range artifacts {
		texts = append(texts, artifact.text())
	}

	vectors, model, err := r.embeddings.EmbedWithFallback(ctx, texts, userID, strategy)
	if err != nil {
		logger.Warn("Embedding path unavailable, using keyword fallback",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		metrics.RankingRequests.WithLabelValues(string(SourceKeyword)).Inc()
		return r.rankByKeywords(jobTerms, artifacts)
	}

	logger.Debug("Ranking by embedding similarity",
		zap.String("model", model),
		zap.Int("artifacts", len(artifacts)),
	)
	metrics.RankingRequests.WithLabelValues(string(SourceEmbedding)).Inc()

	jobVector := vectors[0]
	results := make([]RankingResult, len(artifacts))
	for i, artifact := range artifacts {
		similarity := cosineSimilarity(jobVector, vectors[i+1])
		matched := intersectTerms(jobTerms, significantTerms(artifact.text()))

		results[i] = RankingResult{
			ArtifactID:  artifact.ID,
			Score:       mapScore(similarity),
			Source:      SourceEmbedding,
			Explanation: explain(matched),
		}
	}

	sortByScore(results)
	return results
}

// rankByKeywords scores by normalized term overlap between the job
// description and each artifact, on the same 0-10 scale as the embedding
// path so scores stay comparable.
func (r *Ranker) rankByKeywords(jobTerms map[string]struct{}, artifacts []Artifact) []RankingResult {
	results := make([]RankingResult, len(artifacts))
	for i, artifact := range artifacts {
		matched := intersectTerms(jobTerms, significantTerms(artifact.text()))

		overlap := 0.0
		if len(jobTerms) > 0 {
			overlap = float64(len(matched)) / float64(len(jobTerms))
		}

		results[i] = RankingResult{
			ArtifactID:  artifact.ID,
			Score:       mapScore(overlap),
			Source:      SourceKeyword,
			Explanation: explain(matched),
		}
	}

	sortByScore(results)
	return results
}

func sortByScore(results []RankingResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// mapScore maps a similarity in [-1,1] onto the 0-10 relevance scale with a
// fixed linear transform: negative similarity clamps to 0. The same mapping
// serves both paths.
func mapScore(similarity float64) float64 {
	clamped := math.Max(0, math.Min(1, similarity))
	return math.Round(clamped*100) / 10
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func intersectTerms(jobTerms, artifactTerms map[string]struct{}) []string {
	var matched []string
	for term := range artifactTerms {
		if _, ok := jobTerms[term]; ok {
			matched = append(matched, term)
		}
	}
	sort.Strings(matched)
	return matched
}

func explain(matched []string) string {
	if len(matched) == 0 {
		return "no shared skill or technology terms with the job description"
	}
	if len(matched) > 6 {
		matched = matched[:6]
	}
	return fmt.Sprintf("matches job terms: %s", strings.Join(matched, ", "))
}

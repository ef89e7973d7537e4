package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/cvforge/backend/pkg/logger"
)

type Gemini struct {
	client *genai.Client
}

func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	logger.Info("Gemini provider initialized")

	return &Gemini{client: client}, nil
}

func (p *Gemini) Name() string { return NameGemini }

func (p *Gemini) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	config := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.Temperature != 0 {
		config.Temperature = genai.Ptr(req.Temperature)
	}
	if req.MaxTokens != 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.UserPrompt), config)
	if err != nil {
		return nil, p.classify(err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(part.Text)
		}
	}

	content := strings.TrimSpace(builder.String())
	if content == "" {
		return nil, &RetryableError{Provider: NameGemini, Err: errors.New("empty response from gemini api")}
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	logger.Debug("Gemini completion generated",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
	)

	return &CompletionResult{
		Content:  content,
		Provider: NameGemini,
		Model:    req.Model,
		Usage:    usage,
	}, nil
}

func (p *Gemini) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResult, error) {
	contents := make([]*genai.Content, len(req.Texts))
	for i, text := range req.Texts {
		contents[i] = &genai.Content{
			Parts: []*genai.Part{{Text: text}},
		}
	}

	resp, err := p.client.Models.EmbedContent(ctx, req.Model, contents, nil)
	if err != nil {
		return nil, p.classify(err)
	}

	if len(resp.Embeddings) != len(req.Texts) {
		return nil, &RetryableError{
			Provider: NameGemini,
			Err:      fmt.Errorf("expected %d embeddings, got %d", len(req.Texts), len(resp.Embeddings)),
		}
	}

	vectors := make([][]float32, len(resp.Embeddings))
	for i, embedding := range resp.Embeddings {
		vector := make([]float32, len(embedding.Values))
		copy(vector, embedding.Values)
		vectors[i] = vector
	}

	logger.Debug("Gemini embeddings generated",
		zap.String("model", req.Model),
		zap.Int("count", len(vectors)),
	)

	return &EmbeddingResult{
		Provider: NameGemini,
		Model:    req.Model,
		Vectors:  vectors,
	}, nil
}

func (p *Gemini) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(NameGemini, apiErr.Code, err)
	}

	return classifyStatus(NameGemini, 0, err)
}

package provider

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cvforge/backend/pkg/logger"
)

type OpenAI struct {
	client      *openai.Client
	temperature float32
	maxTokens   int
}

func NewOpenAI(apiKey string, temperature float32, maxTokens int) *OpenAI {
	logger.Info("OpenAI provider initialized")

	return &OpenAI{
		client:      openai.NewClient(apiKey),
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

func (p *OpenAI) Name() string { return NameOpenAI }

func (p *OpenAI) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	resp, err := p.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: req.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: req.SystemPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: req.UserPrompt,
				},
			},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		},
	)
	if err != nil {
		return nil, p.classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, &RetryableError{Provider: NameOpenAI, Err: errors.New("empty choices in completion response")}
	}

	logger.Debug("OpenAI completion generated",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &CompletionResult{
		Content:  resp.Choices[0].Message.Content,
		Provider: NameOpenAI,
		Model:    req.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAI) Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResult, error) {
	resp, err := p.client.CreateEmbeddings(
		ctx,
		openai.EmbeddingRequest{
			Input: req.Texts,
			Model: openai.EmbeddingModel(req.Model),
		},
	)
	if err != nil {
		return nil, p.classify(err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vector := make([]float32, len(data.Embedding))
		copy(vector, data.Embedding)
		vectors[i] = vector
	}

	logger.Debug("OpenAI embeddings generated",
		zap.String("model", req.Model),
		zap.Int("count", len(vectors)),
	)

	return &EmbeddingResult{
		Provider: NameOpenAI,
		Model:    req.Model,
		Vectors:  vectors,
		Usage: Usage{
			PromptTokens: resp.Usage.PromptTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAI) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(NameOpenAI, apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(NameOpenAI, reqErr.HTTPStatusCode, err)
	}

	return classifyStatus(NameOpenAI, 0, err)
}

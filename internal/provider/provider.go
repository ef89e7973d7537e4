package provider

import (
	"context"
)

const (
	NameOpenAI = "openai"
	NameGemini = "gemini"
)

type CompletionRequest struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type CompletionResult struct {
	Content  string
	Provider string
	Model    string
	Usage    Usage
}

type EmbeddingRequest struct {
	Model string
	Texts []string
}

type EmbeddingResult struct {
	Provider string
	Model    string
	Vectors  [][]float32
	Usage    Usage
}

// Provider is the uniform surface over one remote LLM vendor. Adapters hide
// per-provider request and response shapes; callers observe only latency,
// token counts, success or a classified failure.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
	Embed(ctx context.Context, req EmbeddingRequest) (*EmbeddingResult, error)
}

// Package llm provides the generation and embedding backends.
package llm

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/compliance-intelligence/pkg/metrics"
)

// ErrEmptyCompletion is returned when a provider answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// DefaultTimeout bounds one completion when the caller sets no timeout.
const DefaultTimeout = 30 * time.Second

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Embedder turns texts into vectors for similarity search.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// NewClient creates a new LLM client based on provider.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	default:
		return NewAnthropicClient(apiKey)
	}
}

// Prompt builds a single-turn request.
func Prompt(model, system, user string, maxTokens int) *CompletionRequest {
	return &CompletionRequest{
		Model:     model,
		System:    system,
		Messages:  []ChatMessage{{Role: "user", Content: user}},
		MaxTokens: maxTokens,
	}
}

// CompleteWithin runs one completion bounded by timeout. A non-positive
// timeout means DefaultTimeout.
func CompleteWithin(ctx context.Context, c Client, req *CompletionRequest, timeout time.Duration) (*CompletionResponse, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Complete(ctx, req)
}

// Instrumented records call metrics around another client.
type Instrumented struct {
	Client
}

// Complete implements Client.
func (c Instrumented) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := c.Client.Complete(ctx, req)
	if err != nil {
		metrics.RecordLLMCall(req.Model, "error", time.Since(start).Seconds(), 0, 0)
		return nil, err
	}
	metrics.RecordLLMCall(resp.Model, "ok", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	if resp.Content == "" {
		return nil, ErrEmptyCompletion
	}
	return resp, nil
}

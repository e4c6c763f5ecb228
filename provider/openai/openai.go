// Package openai adapts OpenAI-compatible APIs (OpenAI, LocalAI, vLLM, ...)
// to the provider interfaces.
package openai

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/adaojoaquim/agi-core/provider"
)

const (
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultCompletionModel = "gpt-4o-mini"
)

// Config configures the client.
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint for self-hosted compatible servers.
	BaseURL string

	EmbeddingModel  string
	CompletionModel string

	// Dimensions is the embedding size reported to the memory tiers.
	// Default: 1536 (text-embedding-3-small).
	Dimensions int
}

// Client implements provider.Embedder and provider.Completer.
type Client struct {
	client          *goopenai.Client
	embeddingModel  string
	completionModel string
	dimensions      int
}

// New creates a client from cfg.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("openai: APIKey is required when BaseURL is not set")
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.CompletionModel == "" {
		cfg.CompletionModel = DefaultCompletionModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}

	return &Client{
		client:          goopenai.NewClientWithConfig(clientCfg),
		embeddingModel:  cfg.EmbeddingModel,
		completionModel: cfg.CompletionModel,
		dimensions:      cfg.Dimensions,
	}, nil
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: goopenai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("create embeddings: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the configured embedding size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Complete runs a single-turn chat completion.
func (c *Client) Complete(ctx context.Context, prompt string, opts provider.CompletionOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.completionModel
	}

	var messages []goopenai.ChatCompletionMessage
	if opts.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: opts.System,
		})
	}
	messages = append(messages, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := goopenai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// Name identifies the provider in logs.
func (c *Client) Name() string {
	return "openai"
}

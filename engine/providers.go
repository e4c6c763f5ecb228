package engine

import (
	"fmt"
	"io"

	"github.com/mudler/xlog"

	"github.com/adaojoaquim/agi-core/config"
	"github.com/adaojoaquim/agi-core/memory"
	"github.com/adaojoaquim/agi-core/memory/store/chromem"
	"github.com/adaojoaquim/agi-core/provider"
	"github.com/adaojoaquim/agi-core/provider/anthropic"
	"github.com/adaojoaquim/agi-core/provider/hash"
	"github.com/adaojoaquim/agi-core/provider/openai"
)

// buildEmbedder constructs the configured embedder, wrapped in a guard for
// network providers and a cache when CacheSize > 0. The returned closers
// must be closed on shutdown.
func buildEmbedder(cfg config.EmbedderConfig) (provider.Embedder, []io.Closer, error) {
	var (
		emb     provider.Embedder
		closers []io.Closer
	)

	switch cfg.Provider {
	case config.EmbedderHash:
		emb = hash.New(cfg.Dimensions)
	case config.EmbedderOpenAI:
		client, err := openai.New(openai.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			EmbeddingModel: cfg.Model,
			Dimensions:     cfg.Dimensions,
		})
		if err != nil {
			return nil, nil, err
		}
		emb = provider.NewGuardedEmbedder(client, cfg.Guard)
	case config.EmbedderONNX:
		local, err := newONNXEmbedder(cfg)
		if err != nil {
			return nil, nil, err
		}
		emb = local
		closers = append(closers, local)
	default:
		return nil, nil, fmt.Errorf("unsupported embedder %q", cfg.Provider)
	}

	if cfg.CacheSize > 0 {
		cached, err := provider.NewCachedEmbedder(emb, cfg.CacheSize)
		if err != nil {
			return nil, nil, fmt.Errorf("embedding cache: %w", err)
		}
		emb = cached
		closers = append(closers, cached)
	}

	return emb, closers, nil
}

// buildCompleter constructs the configured completer. It returns nil when
// the provider is "none" or no API key is available.
func buildCompleter(cfg *config.Config) (provider.Completer, error) {
	cc := cfg.Completer

	var inner provider.Completer
	switch cfg.LLMProvider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderAnthropic:
		if cc.APIKey == "" {
			xlog.Warn("No Anthropic API key, running without a completer", "component", "engine", "env", config.EnvAnthropicKey)
			return nil, nil
		}
		c, err := anthropic.New(anthropic.Config{
			APIKey:    cc.APIKey,
			BaseURL:   cc.BaseURL,
			Model:     cc.Model,
			MaxTokens: int64(cc.MaxTokens),
		})
		if err != nil {
			return nil, err
		}
		inner = c
	case config.ProviderOpenAI, config.ProviderLocal:
		if cc.APIKey == "" && cc.BaseURL == "" {
			xlog.Warn("No OpenAI API key, running without a completer", "component", "engine", "env", config.EnvOpenAIKey)
			return nil, nil
		}
		c, err := openai.New(openai.Config{
			APIKey:          cc.APIKey,
			BaseURL:         cc.BaseURL,
			CompletionModel: cc.Model,
		})
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLMProvider)
	}

	return provider.NewGuardedCompleter(inner, cc.Guard), nil
}

// buildBackend opens the configured vector backend.
func buildBackend(name string) (memory.Backend, error) {
	switch name {
	case config.BackendChromem, config.BackendChroma:
		return chromem.New(), nil
	}
	return nil, fmt.Errorf("unsupported memory backend %q", name)
}

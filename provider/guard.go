package provider

import (
	"context"
	"errors"
	"time"

	"github.com/mudler/xlog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// GuardConfig configures the resilience wrapper around a provider.
type GuardConfig struct {
	// Timeout bounds a single attempt. Default: 10s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxRetries is the number of retries after the first attempt. Default: 2.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Backoff is the delay before the first retry, doubled on each retry.
	// Default: 200ms.
	Backoff time.Duration `yaml:"backoff" json:"backoff"`

	// MaxConcurrent caps in-flight calls. Default: 4.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`

	// RatePerSecond enables client-side rate limiting when > 0.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
}

// DefaultGuardConfig returns sensible defaults for network providers.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:       10 * time.Second,
		MaxRetries:    2,
		Backoff:       200 * time.Millisecond,
		MaxConcurrent: 4,
	}
}

func (c *GuardConfig) applyDefaults() {
	d := DefaultGuardConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = d.Backoff
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
}

// Guard wraps provider calls with bounded concurrency, per-attempt timeouts,
// rate limiting and retry with exponential backoff. No call blocks longer
// than its context allows.
type Guard struct {
	name    string
	cfg     GuardConfig
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewGuard creates a guard. name is used in errors and logs.
func NewGuard(name string, cfg GuardConfig) *Guard {
	cfg.applyDefaults()
	g := &Guard{
		name: name,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return g
}

// Do runs fn under the guard's policy. Failures after the last attempt are
// returned as *UnavailableError. Context cancellation is returned as is.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)

	backoff := g.cfg.Backoff
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		lastErr = fn(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}

		// The caller gave up; don't retry and don't disguise it.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		xlog.Debug("Provider call failed", "component", "provider", "provider", g.name, "op", op, "attempt", attempts, "error", lastErr)

		if attempt == g.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	xlog.Warn("Provider unavailable", "component", "provider", "provider", g.name, "op", op, "attempts", attempts, "error", lastErr)

	var ue *UnavailableError
	if errors.As(lastErr, &ue) {
		return lastErr
	}
	return &UnavailableError{Op: op, Provider: g.name, Attempts: attempts, Err: lastErr}
}

// GuardedEmbedder applies a Guard to every Embed call.
type GuardedEmbedder struct {
	inner Embedder
	guard *Guard
}

// NewGuardedEmbedder wraps inner with the given guard configuration.
func NewGuardedEmbedder(inner Embedder, cfg GuardConfig) *GuardedEmbedder {
	return &GuardedEmbedder{
		inner: inner,
		guard: NewGuard(NameOf(inner), cfg),
	}
}

// Embed calls the inner embedder under the guard.
func (e *GuardedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
		v, err := e.inner.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions returns the inner embedder's vector size.
func (e *GuardedEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Name returns the inner embedder's name.
func (e *GuardedEmbedder) Name() string {
	return NameOf(e.inner)
}

// GuardedCompleter applies a Guard to every Complete call.
type GuardedCompleter struct {
	inner Completer
	guard *Guard
}

// NewGuardedCompleter wraps inner with the given guard configuration.
func NewGuardedCompleter(inner Completer, cfg GuardConfig) *GuardedCompleter {
	return &GuardedCompleter{
		inner: inner,
		guard: NewGuard(NameOf(inner), cfg),
	}
}

// Complete calls the inner completer under the guard.
func (c *GuardedCompleter) Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error) {
	var out string
	err := c.guard.Do(ctx, "complete", func(ctx context.Context) error {
		text, err := c.inner.Complete(ctx, prompt, opts)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	return out, err
}

// Name returns the inner completer's name.
func (c *GuardedCompleter) Name() string {
	return NameOf(c.inner)
}

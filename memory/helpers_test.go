package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adaojoaquim/agi-core/memory"
	"github.com/adaojoaquim/agi-core/memory/store/chromem"
	"github.com/adaojoaquim/agi-core/provider"
	"github.com/adaojoaquim/agi-core/provider/hash"
)

var errEmbeddingDown = errors.New("embedding service down")

// switchEmbedder wraps the hash embedder and fails on demand.
type switchEmbedder struct {
	provider.Embedder
	fail atomic.Bool
}

func newSwitchEmbedder() *switchEmbedder {
	return &switchEmbedder{Embedder: hash.New(128)}
}

func (e *switchEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.fail.Load() {
		return nil, errEmbeddingDown
	}
	return e.Embedder.Embed(ctx, text)
}

// failingQueries rejects every similarity query.
type failingQueries struct {
	memory.VectorStore
}

func (failingQueries) Query(ctx context.Context, vector []float32, topK int) ([]memory.Match, error) {
	return nil, errors.New("index corrupted")
}

// failingUpserts rejects writes on demand.
type failingUpserts struct {
	memory.VectorStore
	fail atomic.Bool
}

func (f *failingUpserts) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	if f.fail.Load() {
		return errors.New("upsert down")
	}
	return f.VectorStore.Upsert(ctx, id, vector, payload)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newSystem(t *testing.T, cfg *memory.Config, embedder provider.Embedder, opts ...memory.Option) *memory.System {
	t.Helper()
	if embedder == nil {
		embedder = hash.New(128)
	}
	sys, err := memory.NewSystem(context.Background(), chromem.New(), embedder, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	return sys
}

func newEpisodic(t *testing.T, embedder provider.Embedder, cfg memory.TierConfig) *memory.EpisodicMemory {
	t.Helper()
	vs, err := chromem.New().Open(context.Background(), "episodic")
	require.NoError(t, err)
	return memory.NewEpisodicMemory(vs, embedder, cfg)
}

func contents(entries []memory.Entry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}

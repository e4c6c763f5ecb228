package memory_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaojoaquim/agi-core/memory"
)

const (
	workers = 8
	rounds  = 20
)

// hammer runs fn from workers goroutines, rounds times each.
func hammer(fn func(worker, round int)) {
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rounds {
				fn(w, i)
			}
		}()
	}
	wg.Wait()
}

func TestConcurrent_TierOperations(t *testing.T) {
	tests := []struct {
		name memory.TierName
		// kept is the expected Len after every worker stored rounds entries
		// and forgot every other one.
		kept func(cfg *memory.Config) int
	}{
		{
			name: memory.TierWorking,
			kept: func(cfg *memory.Config) int { return cfg.Working.Capacity },
		},
		{
			name: memory.TierEpisodic,
			kept: func(*memory.Config) int { return workers * rounds / 2 },
		},
		{
			name: memory.TierSemantic,
			kept: func(*memory.Config) int { return workers * rounds / 2 },
		},
		{
			name: memory.TierProcedural,
			kept: func(*memory.Config) int { return workers * rounds / 2 },
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			ctx := context.Background()
			cfg := memory.DefaultConfig()
			sys := newSystem(t, cfg, nil)
			tier, err := sys.Tier(tt.name)
			require.NoError(t, err)

			hammer(func(w, i int) {
				text := fmt.Sprintf("worker %d note %d", w, i)
				id, err := sys.Store(ctx, tt.name, memory.NewEntry(text).WithImportance(0.5))
				if !assert.NoError(t, err) {
					return
				}
				got, err := sys.Retrieve(ctx, tt.name, text, 3)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(got), 3)
				if i%2 == 0 {
					_, err := sys.Forget(ctx, tt.name, id)
					assert.NoError(t, err)
				}
				if tt.name == memory.TierWorking {
					assert.LessOrEqual(t, tier.Len(), cfg.Working.Capacity)
				}
			})

			assert.Equal(t, tt.kept(cfg), tier.Len())
		})
	}
}

func TestConcurrent_ConsolidateWhileStoring(t *testing.T) {
	ctx := context.Background()
	cfg := memory.DefaultConfig()
	sys := newSystem(t, cfg, nil)

	hammer(func(w, i int) {
		switch w % 4 {
		case 0:
			_, err := sys.Consolidate(ctx)
			assert.NoError(t, err)
		case 1:
			_, err := sys.Reflect(ctx, fmt.Sprintf("note %d", i), 3)
			assert.NoError(t, err)
		default:
			_, err := sys.Working.Store(ctx, memory.NewEntry(fmt.Sprintf("worker %d note %d", w, i)).WithImportance(0.9))
			assert.NoError(t, err)
			assert.LessOrEqual(t, sys.Working.Len(), cfg.Working.Capacity)
		}
	})

	_, err := sys.Consolidate(ctx)
	require.NoError(t, err)

	seen := make(map[any]bool)
	for _, e := range sys.Episodic.Entries() {
		from := e.Metadata[memory.MetaConsolidatedFrom]
		require.NotNil(t, from)
		assert.False(t, seen[from], "%v promoted twice", from)
		seen[from] = true
	}
	for _, e := range sys.Working.Entries() {
		assert.True(t, seen[e.ID], "%s still unconsolidated", e.ID)
	}
}

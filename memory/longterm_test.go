package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adaojoaquim/agi-core/memory"
	"github.com/adaojoaquim/agi-core/memory/store/chromem"
	"github.com/adaojoaquim/agi-core/provider/hash"
)

var episodes = []string{
	"deployed the billing service to production on friday",
	"the user prefers dark roast coffee in the morning",
	"debugged a flaky integration test in the payments module",
	"went hiking in the alps with the team",
}

func TestEpisodic_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ep := newEpisodic(t, hash.New(128), memory.DefaultConfig().Episodic)

	ids := make(map[string]string)
	for _, text := range episodes {
		id, err := ep.Store(ctx, memory.NewEntry(text))
		require.NoError(t, err)
		ids[text] = id
	}

	for _, text := range episodes {
		got, err := ep.Retrieve(ctx, text, 2)
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, text, got[0].Content)
		assert.Equal(t, ids[text], got[0].ID)
	}
}

func TestEpisodic_ImportanceBreaksSimilarityTies(t *testing.T) {
	ctx := context.Background()
	ep := newEpisodic(t, hash.New(128), memory.DefaultConfig().Episodic)

	_, err := ep.Store(ctx, memory.NewEntry("release checklist").WithImportance(0.2))
	require.NoError(t, err)
	important, err := ep.Store(ctx, memory.NewEntry("release checklist").WithImportance(0.9))
	require.NoError(t, err)

	got, err := ep.Retrieve(ctx, "release checklist", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, important, got[0].ID)
}

func TestEpisodic_IDsAndForget(t *testing.T) {
	ctx := context.Background()
	ep := newEpisodic(t, hash.New(128), memory.DefaultConfig().Episodic)

	id, err := ep.Store(ctx, memory.NewEntry("a one-off event"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "ep_"))

	_, err = ep.Get(id)
	require.NoError(t, err)

	assert.True(t, ep.Forget(ctx, id))
	assert.False(t, ep.Forget(ctx, id))
	assert.False(t, ep.Forget(ctx, "ep_unknown"))

	_, err = ep.Get(id)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	got, err := ep.Retrieve(ctx, "a one-off event", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, ep.Len())
}

func TestTierPrefixes(t *testing.T) {
	ctx := context.Background()
	sys := newSystem(t, nil, nil)

	tests := []struct {
		tier   memory.TierName
		prefix string
	}{
		{memory.TierWorking, "wm_"},
		{memory.TierEpisodic, "ep_"},
		{memory.TierSemantic, "sem_"},
		{memory.TierProcedural, "proc_"},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			id, err := sys.Store(ctx, tt.tier, memory.NewEntry("content"))
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(id, tt.prefix), id)
		})
	}
}

func TestRetrieve_Bounds(t *testing.T) {
	ctx := context.Background()
	ep := newEpisodic(t, hash.New(128), memory.DefaultConfig().Episodic)

	got, err := ep.Retrieve(ctx, "anything", 3)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	for _, text := range episodes {
		_, err := ep.Store(ctx, memory.NewEntry(text))
		require.NoError(t, err)
	}

	for _, k := range []int{-1, 0, 1, 3, 4, 10} {
		got, err := ep.Retrieve(ctx, "team coffee", k)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.LessOrEqual(t, len(got), max(k, 0))
		assert.LessOrEqual(t, len(got), ep.Len())
	}
}

func TestStore_EmbedderFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	emb := newSwitchEmbedder()
	ep := newEpisodic(t, emb, memory.DefaultConfig().Episodic)

	emb.fail.Store(true)
	_, err := ep.Store(ctx, memory.NewEntry("lost"))
	require.ErrorIs(t, err, errEmbeddingDown)
	assert.Equal(t, 0, ep.Len())
}

func TestRetrieve_EmbedderFailureDegradesToRecency(t *testing.T) {
	ctx := context.Background()
	emb := newSwitchEmbedder()
	ep := newEpisodic(t, emb, memory.DefaultConfig().Episodic)

	for _, text := range episodes {
		_, err := ep.Store(ctx, memory.NewEntry(text))
		require.NoError(t, err)
	}

	emb.fail.Store(true)
	got, err := ep.Retrieve(ctx, episodes[0], 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, memory.ErrProviderUnavailable)
	assert.ErrorIs(t, err, errEmbeddingDown)
	assert.Equal(t, []any{episodes[3], episodes[2]}, contents(got))
}

func TestRetrieve_VectorStoreFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	vs, err := chromem.New().Open(ctx, "episodic")
	require.NoError(t, err)
	ep := memory.NewEpisodicMemory(failingQueries{vs}, hash.New(128), memory.DefaultConfig().Episodic)

	for _, text := range episodes {
		_, err := ep.Store(ctx, memory.NewEntry(text))
		require.NoError(t, err)
	}

	got, err := ep.Retrieve(ctx, episodes[0], 1)
	require.NoError(t, err)
	assert.Equal(t, []any{episodes[3]}, contents(got))
}

func TestCapacity_EvictsLeastImportant(t *testing.T) {
	ctx := context.Background()
	cfg := memory.DefaultConfig().Episodic
	cfg.MaxEntries = 2
	ep := newEpisodic(t, hash.New(128), cfg)

	low, err := ep.Store(ctx, memory.NewEntry("low").WithImportance(0.1))
	require.NoError(t, err)
	mid, err := ep.Store(ctx, memory.NewEntry("mid").WithImportance(0.5))
	require.NoError(t, err)
	high, err := ep.Store(ctx, memory.NewEntry("high").WithImportance(0.8))
	require.NoError(t, err)

	assert.Equal(t, 2, ep.Len())
	_, err = ep.Get(low)
	assert.ErrorIs(t, err, memory.ErrNotFound)
	for _, id := range []string{mid, high} {
		_, err := ep.Get(id)
		assert.NoError(t, err)
	}
}

func TestCapacity_PinnedEntriesAreNeverEvicted(t *testing.T) {
	ctx := context.Background()
	cfg := memory.DefaultConfig().Episodic
	cfg.MaxEntries = 1
	ep := newEpisodic(t, hash.New(128), cfg)

	pinned, err := ep.Store(ctx, memory.NewEntry("pinned").WithImportance(0.95))
	require.NoError(t, err)

	_, err = ep.Store(ctx, memory.NewEntry("newcomer"))
	assert.ErrorIs(t, err, memory.ErrCapacityExceeded)

	assert.Equal(t, 1, ep.Len())
	_, err = ep.Get(pinned)
	assert.NoError(t, err)
}

func TestCapacity_FailedUpsertKeepsEntries(t *testing.T) {
	ctx := context.Background()
	vs, err := chromem.New().Open(ctx, "episodic")
	require.NoError(t, err)
	store := &failingUpserts{VectorStore: vs}
	cfg := memory.DefaultConfig().Episodic
	cfg.MaxEntries = 2
	ep := memory.NewEpisodicMemory(store, hash.New(128), cfg)

	first, err := ep.Store(ctx, memory.NewEntry("first").WithImportance(0.1))
	require.NoError(t, err)
	second, err := ep.Store(ctx, memory.NewEntry("second").WithImportance(0.2))
	require.NoError(t, err)

	store.fail.Store(true)
	_, err = ep.Store(ctx, memory.NewEntry("third"))
	require.Error(t, err)

	assert.Equal(t, 2, ep.Len())
	assert.Equal(t, 2, vs.Count())
	for _, id := range []string{first, second} {
		_, err := ep.Get(id)
		assert.NoError(t, err)
	}

	store.fail.Store(false)
	_, err = ep.Store(ctx, memory.NewEntry("third"))
	require.NoError(t, err)
	assert.Equal(t, 2, ep.Len())
	assert.Equal(t, 2, vs.Count())
	_, err = ep.Get(first)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestProcedural_Applicable(t *testing.T) {
	ctx := context.Background()
	sys := newSystem(t, nil, nil)
	pm := sys.Procedural

	deploy := memory.Procedure{
		Task:          "deploy the web service",
		Preconditions: []string{"docker", "kubectl"},
		Steps:         []string{"build image", "push image", "apply manifests"},
	}
	deployLocal := memory.Procedure{
		Task:          "deploy the web service locally",
		Preconditions: []string{"docker"},
		Steps:         []string{"docker compose up"},
	}
	bake := memory.Procedure{
		Task:  "bake sourdough bread",
		Steps: []string{"feed starter", "mix", "proof", "bake"},
	}
	for _, p := range []memory.Procedure{deploy, deployLocal, bake} {
		_, err := pm.StoreProcedure(ctx, p, 0.6)
		require.NoError(t, err)
	}

	got, err := pm.Applicable(ctx, "deploy the web service", []string{"Docker"}, 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, deployLocal, got[0].Content)
	assert.Equal(t, bake, got[1].Content)

	got, err = pm.Applicable(ctx, "deploy the web service", []string{"docker", "kubectl"}, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, deploy, got[0].Content)
}

func TestProcedure_FormatForEmbedding(t *testing.T) {
	p := memory.Procedure{
		Task:          "rotate credentials",
		Preconditions: []string{"vault access"},
		Steps:         []string{"generate", "swap"},
	}
	assert.Equal(t, "Task: rotate credentials\nPreconditions: vault access", p.FormatForEmbedding())
	assert.Equal(t, p.FormatForEmbedding(), memory.Text(p))
	assert.Contains(t, p.String(), "2. swap")
}

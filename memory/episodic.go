package memory

import "github.com/adaojoaquim/agi-core/provider"

// EpisodicMemory stores experiences and events for similarity recall.
// Ids are prefixed with "ep_".
type EpisodicMemory struct {
	*vectorTier
}

// NewEpisodicMemory creates an episodic tier over store.
func NewEpisodicMemory(store VectorStore, embedder provider.Embedder, cfg TierConfig) *EpisodicMemory {
	return &EpisodicMemory{vectorTier: newVectorTier(TierEpisodic, "ep_", store, embedder, cfg)}
}

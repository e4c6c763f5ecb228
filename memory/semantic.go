package memory

import "github.com/adaojoaquim/agi-core/provider"

// SemanticMemory stores facts and knowledge for RAG-style lookup.
// Ids are prefixed with "sem_".
type SemanticMemory struct {
	*vectorTier
}

// NewSemanticMemory creates a semantic tier over store.
func NewSemanticMemory(store VectorStore, embedder provider.Embedder, cfg TierConfig) *SemanticMemory {
	return &SemanticMemory{vectorTier: newVectorTier(TierSemantic, "sem_", store, embedder, cfg)}
}

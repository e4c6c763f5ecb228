// Package memory provides the multi-tier memory system of the agent.
//
// Four independent tiers share one storage contract (Tier):
//   - Working: bounded FIFO buffer of immediate context, recency-ranked
//   - Episodic: long-term experiences, embedding-ranked
//   - Semantic: facts and knowledge, embedding-ranked with recency re-ranking
//   - Procedural: reusable action sequences, matched by task similarity
//
// Architecture:
//   - VectorStore: nearest-neighbour index per long-term tier (chromem-go
//     in-process, see store/chromem)
//   - provider.Embedder: text-to-vector conversion (hash for offline use,
//     OpenAI or ONNX for real semantic search)
//   - System: owns the tiers, consolidates working memory into long-term
//     memory and reflects a query across every tier
//
// Retrieval ranks by a weighted sum of similarity, importance and recency.
// When the embedder is unavailable, long-term tiers degrade to recency
// ranking and report the provider error next to the results.
package memory

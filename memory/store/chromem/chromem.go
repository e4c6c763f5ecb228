// Package chromem implements memory.Backend on chromem-go, a pure Go
// embedded vector database.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mudler/xlog"

	"github.com/adaojoaquim/agi-core/memory"
)

// Store is an in-process memory.Backend. Each long-term tier gets its own
// collection.
type Store struct {
	db          *chromem.DB
	collections map[string]*Collection
	mu          sync.RWMutex
}

// New creates an in-memory chromem backend.
func New() *Store {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*Collection),
	}
}

// Open returns the named collection, creating it on first use.
func (s *Store) Open(ctx context.Context, name string) (memory.VectorStore, error) {
	if name == "" {
		return nil, errors.New("chromem: collection name is required")
	}

	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	// No embedding func: vectors are always supplied by the caller.
	c, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %q: %w", name, err)
	}

	col = &Collection{name: name, col: c}
	s.collections[name] = col
	xlog.Debug("Opened vector collection", "component", "chromem", "collection", name)
	return col, nil
}

// Close releases resources. chromem keeps everything in memory, so there
// is nothing to flush.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections = make(map[string]*Collection)
	return nil
}

// Collection is a single chromem collection exposed as a memory.VectorStore.
//
// chromem-go reads the document count outside its own lock in Delete, so
// writes are serialized here and queries hold the read side while they
// clamp topK to the count.
type Collection struct {
	name string
	col  *chromem.Collection
	mu   sync.RWMutex
}

// Upsert stores vector under id. chromem overwrites documents with an
// existing id.
func (c *Collection) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	if len(vector) == 0 {
		return fmt.Errorf("chromem: empty vector for %s", id)
	}
	doc := chromem.Document{
		ID:        id,
		Content:   payload["content"],
		Embedding: vector,
		Metadata:  payload,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Query returns up to topK nearest ids by cosine similarity.
func (c *Collection) Query(ctx context.Context, vector []float32, topK int) ([]memory.Match, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// chromem-go requires nResults <= collection size
	topK = min(topK, c.col.Count())
	if topK <= 0 {
		return []memory.Match{}, nil
	}

	results, err := c.col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	matches := make([]memory.Match, len(results))
	for i, r := range results {
		matches[i] = memory.Match{ID: r.ID, Similarity: float64(r.Similarity)}
	}
	return matches, nil
}

// Delete removes id. Absent ids are ignored.
func (c *Collection) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Count returns the number of stored vectors.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.col.Count()
}

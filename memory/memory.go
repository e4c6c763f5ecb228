package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// DefaultImportance is assigned to entries created without an importance.
const DefaultImportance = 0.5

// Entry is a unit of memory.
//
// Entries are immutable once stored. Tiers copy Metadata on the way in and
// on the way out, so callers can't mutate stored state through a returned
// entry. Consolidation is the only writer of metadata annotations.
type Entry struct {
	// ID is assigned by the tier on Store and set on every returned copy.
	ID string `json:"id,omitempty"`

	// Content is any serializable payload.
	Content any `json:"content"`

	// Timestamp is the creation time. Store sets it when zero.
	Timestamp time.Time `json:"timestamp"`

	Metadata map[string]any `json:"metadata,omitempty"`

	// Importance in [0,1] drives ranking, eviction and consolidation.
	Importance float64 `json:"importance"`
}

// NewEntry creates an entry with the current time and default importance.
func NewEntry(content any) Entry {
	return Entry{
		Content:    content,
		Timestamp:  time.Now(),
		Metadata:   make(map[string]any),
		Importance: DefaultImportance,
	}
}

// WithImportance returns a copy of e with the given importance.
func (e Entry) WithImportance(importance float64) Entry {
	e.Importance = importance
	return e
}

// WithMetadata returns a copy of e with key set to value.
func (e Entry) WithMetadata(key string, value any) Entry {
	md := maps.Clone(e.Metadata)
	if md == nil {
		md = make(map[string]any)
	}
	md[key] = value
	e.Metadata = md
	return e
}

// Validate checks the importance range.
func (e Entry) Validate() error {
	if e.Importance < 0 || e.Importance > 1 {
		return fmt.Errorf("%w: importance must be in [0,1], got %v", ErrInvalidEntry, e.Importance)
	}
	return nil
}

// Text renders the content for embedding and context blocks.
func (e Entry) Text() string {
	return Text(e.Content)
}

// clone returns a deep-enough copy for handing across the tier boundary.
func (e Entry) clone() Entry {
	e.Metadata = maps.Clone(e.Metadata)
	return e
}

// prepare fills defaults for a freshly stored entry.
func (e Entry) prepare(id string, now time.Time) Entry {
	e = e.clone()
	e.ID = id
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	return e
}

// Embeddable content controls the text it is embedded and rendered with.
type Embeddable interface {
	FormatForEmbedding() string
}

// Text renders arbitrary content as text: strings as is, Embeddable and
// fmt.Stringer through their methods, everything else as JSON.
func Text(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case Embeddable:
		return c.FormatForEmbedding()
	case fmt.Stringer:
		return c.String()
	case []byte:
		return string(c)
	}
	if b, err := json.Marshal(content); err == nil {
		return string(b)
	}
	return fmt.Sprint(content)
}

// TierName identifies a memory tier.
type TierName string

const (
	TierWorking    TierName = "working"
	TierEpisodic   TierName = "episodic"
	TierSemantic   TierName = "semantic"
	TierProcedural TierName = "procedural"
)

// TierNames lists every tier in reflection order.
var TierNames = []TierName{TierWorking, TierEpisodic, TierSemantic, TierProcedural}

// Tier is the storage contract shared by all memory tiers.
type Tier interface {
	// Name identifies the tier.
	Name() TierName

	// Store assigns a unique id to entry, persists it and returns the id.
	Store(ctx context.Context, entry Entry) (string, error)

	// Retrieve returns at most topK entries ranked by relevance to query.
	// topK <= 0 yields an empty slice. An empty tier is not an error.
	Retrieve(ctx context.Context, query string, topK int) ([]Entry, error)

	// Forget removes the entry and reports whether removal occurred.
	Forget(ctx context.Context, id string) bool

	// Get looks up an entry by id. Returns ErrNotFound when absent.
	Get(id string) (Entry, error)

	// Len returns the number of stored entries.
	Len() int
}

// Match is a nearest-neighbour hit from a VectorStore.
type Match struct {
	ID         string
	Similarity float64
}

// VectorStore is the persistent vector index behind a long-term tier.
// Implementations: chromem (in-process). Must be safe for concurrent use.
type VectorStore interface {
	// Upsert inserts or replaces the vector and payload stored under id.
	Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error

	// Query returns up to topK ids ordered by similarity (highest first).
	Query(ctx context.Context, vector []float32, topK int) ([]Match, error)

	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error

	// Count returns the number of stored vectors.
	Count() int
}

// Backend opens named vector collections, one per long-term tier.
type Backend interface {
	Open(ctx context.Context, collection string) (VectorStore, error)
	Close() error
}

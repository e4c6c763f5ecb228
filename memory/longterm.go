package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/xlog"

	"github.com/adaojoaquim/agi-core/provider"
)

// vectorTier is the long-term tier machinery shared by episodic, semantic
// and procedural memory.
//
// The local index is authoritative for entries, access counts and insertion
// order. The VectorStore only answers similarity queries; matches whose id is
// not in the index are skipped.
type vectorTier struct {
	name     TierName
	prefix   string
	cfg      TierConfig
	store    VectorStore
	embedder provider.Embedder
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*record
	seq     uint64
}

func newVectorTier(name TierName, prefix string, store VectorStore, embedder provider.Embedder, cfg TierConfig) *vectorTier {
	if cfg.Ranking.Oversample <= 0 {
		cfg.Ranking.Oversample = 1
	}
	return &vectorTier{
		name:     name,
		prefix:   prefix,
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		now:      time.Now,
		entries:  make(map[string]*record),
	}
}

// Name identifies the tier.
func (t *vectorTier) Name() TierName {
	return t.name
}

// Store embeds the entry text and persists it under a fresh id. A failed
// embedding stores nothing.
func (t *vectorTier) Store(ctx context.Context, entry Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := entry.Validate(); err != nil {
		return "", err
	}

	id := t.prefix + uuid.NewString()
	e := entry.prepare(id, t.now())
	text := e.Text()

	vec, err := t.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed %s entry: %w", t.name, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var victim *record
	if t.cfg.MaxEntries > 0 && len(t.entries) >= t.cfg.MaxEntries {
		if victim, err = t.victimLocked(); err != nil {
			return "", err
		}
	}

	payload := map[string]string{
		"tier":       string(t.name),
		"content":    text,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		"importance": strconv.FormatFloat(e.Importance, 'f', -1, 64),
	}
	if err := t.store.Upsert(ctx, id, vec, payload); err != nil {
		return "", fmt.Errorf("store %s vector: %w", t.name, err)
	}

	if victim != nil {
		t.evictLocked(ctx, victim)
	}
	t.seq++
	t.entries[id] = &record{entry: e, seq: t.seq}

	xlog.Debug("Stored memory entry", "component", "memory", "tier", t.name, "id", id, "importance", e.Importance)
	return id, nil
}

// victimLocked picks the least important, least accessed, oldest unpinned
// entry. Must be called with mu held.
func (t *vectorTier) victimLocked() (*record, error) {
	var victim *record
	for _, rec := range t.entries {
		if rec.entry.Importance >= t.cfg.PinImportance {
			continue
		}
		if victim == nil || evictsBefore(rec, victim) {
			victim = rec
		}
	}
	if victim == nil {
		return nil, fmt.Errorf("%w: %s tier holds %d pinned entries", ErrCapacityExceeded, t.name, len(t.entries))
	}
	return victim, nil
}

// evictLocked drops victim from the index and the vector store. Must be
// called with mu held, after the replacement vector is stored.
func (t *vectorTier) evictLocked(ctx context.Context, victim *record) {
	id := victim.entry.ID
	delete(t.entries, id)
	if err := t.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		xlog.Warn("Failed to delete evicted vector", "component", "memory", "tier", t.name, "id", id, "error", err)
	}
	xlog.Debug("Evicted memory entry", "component", "memory", "tier", t.name, "id", id, "max_entries", t.cfg.MaxEntries)
}

func evictsBefore(a, b *record) bool {
	if a.entry.Importance != b.entry.Importance {
		return a.entry.Importance < b.entry.Importance
	}
	if a.accesses != b.accesses {
		return a.accesses < b.accesses
	}
	if !a.entry.Timestamp.Equal(b.entry.Timestamp) {
		return a.entry.Timestamp.Before(b.entry.Timestamp)
	}
	return a.seq < b.seq
}

// Retrieve ranks entries by relevance to query.
//
// If the embedder fails, results fall back to recency ranking and are
// returned together with an error matching ErrProviderUnavailable. If the
// vector store fails, results fall back to recency ranking without error.
func (t *vectorTier) Retrieve(ctx context.Context, query string, topK int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Entry{}, nil
	}
	n := t.Len()
	if n == 0 {
		return []Entry{}, nil
	}

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, provider.ErrUnavailable) {
			err = provider.Unavailable("embed", provider.NameOf(t.embedder), err)
		}
		xlog.Warn("Embedding failed, ranking by recency", "component", "memory", "tier", t.name, "error", err)
		return t.recent(topK), fmt.Errorf("%s retrieval degraded to recency ranking: %w", t.name, err)
	}

	k := min(topK*t.cfg.Ranking.Oversample, n, t.store.Count())
	if k <= 0 {
		return t.recent(topK), nil
	}
	matches, err := t.store.Query(ctx, vec, k)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		xlog.Warn("Vector query failed, ranking by recency", "component", "memory", "tier", t.name, "error", err)
		return t.recent(topK), nil
	}

	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	cands := make([]scored, 0, len(matches))
	for _, m := range matches {
		rec, ok := t.entries[m.ID]
		if !ok {
			continue
		}
		score := t.cfg.Ranking.relevance(m.Similarity, rec.entry.Importance, now.Sub(rec.entry.Timestamp))
		cands = append(cands, scored{rec: rec, score: score})
	}
	rank(cands)

	return take(cands, topK), nil
}

// recent returns the topK newest entries and counts the access.
func (t *vectorTier) recent(topK int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	recs := make([]*record, 0, len(t.entries))
	for _, rec := range t.entries {
		recs = append(recs, rec)
	}
	return take(byRecency(recs), topK)
}

// take copies out the first topK candidates and bumps their access counts.
// Must be called with the owning tier's mu held.
func take(cands []scored, topK int) []Entry {
	if topK > len(cands) {
		topK = len(cands)
	}
	out := make([]Entry, topK)
	for i := range out {
		cands[i].rec.accesses++
		out[i] = cands[i].rec.entry.clone()
	}
	return out
}

// Forget removes id and reports whether it was present. Vector store
// failures are logged; the entry is gone from the tier either way.
func (t *vectorTier) Forget(ctx context.Context, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	if err := t.store.Delete(context.WithoutCancel(ctx), id); err != nil {
		xlog.Warn("Failed to delete vector", "component", "memory", "tier", t.name, "id", id, "error", err)
	}
	xlog.Debug("Forgot memory entry", "component", "memory", "tier", t.name, "id", id)
	return true
}

// Get looks up an entry by id without counting an access.
func (t *vectorTier) Get(id string) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.entry.clone(), nil
}

// Len returns the number of stored entries.
func (t *vectorTier) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns every stored entry, oldest first.
func (t *vectorTier) Entries() []Entry {
	t.mu.RLock()
	recs := make([]*record, 0, len(t.entries))
	for _, rec := range t.entries {
		recs = append(recs, rec)
	}
	t.mu.RUnlock()

	cands := byRecency(recs)
	out := make([]Entry, len(cands))
	for i, c := range cands {
		out[len(cands)-1-i] = c.rec.entry.clone()
	}
	return out
}

// prune forgets never-retrieved entries below importance that are older
// than cutoff and returns how many were removed.
func (t *vectorTier) prune(ctx context.Context, cutoff time.Time, importance float64) int {
	t.mu.RLock()
	var ids []string
	for id, rec := range t.entries {
		if rec.accesses == 0 && rec.entry.Importance < importance && rec.entry.Timestamp.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()

	pruned := 0
	for _, id := range ids {
		if t.Forget(ctx, id) {
			pruned++
		}
	}
	if pruned > 0 {
		xlog.Info("Pruned memory entries", "component", "memory", "tier", t.name, "count", pruned)
	}
	return pruned
}

package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mudler/xlog"
)

// DefaultWorkingCapacity is the buffer size used when none is configured.
const DefaultWorkingCapacity = 10

// record is a stored entry plus the bookkeeping tiers need for ranking,
// eviction and consolidation.
type record struct {
	entry    Entry
	seq      uint64 // insertion order within the tier
	accesses int    // times returned by Retrieve
}

// WorkingItem is a working-memory entry with its access count, as seen by
// consolidation.
type WorkingItem struct {
	Entry    Entry
	Accesses int
}

// WorkingMemory is a bounded FIFO buffer of immediate context.
//
// Storing beyond capacity evicts the oldest entry unconditionally. Retrieve
// is recency-ranked: the buffer is context, not a searchable archive.
type WorkingMemory struct {
	mu       sync.RWMutex
	capacity int
	buffer   []*record
	next     atomic.Uint64
	now      func() time.Time
}

// NewWorkingMemory creates a buffer holding at most capacity entries.
// If capacity is 0 or negative, defaults to DefaultWorkingCapacity.
func NewWorkingMemory(capacity int) *WorkingMemory {
	if capacity <= 0 {
		capacity = DefaultWorkingCapacity
	}
	return &WorkingMemory{
		capacity: capacity,
		buffer:   make([]*record, 0, capacity+1),
		now:      time.Now,
	}
}

// Name identifies the tier.
func (w *WorkingMemory) Name() TierName {
	return TierWorking
}

// Capacity returns the configured buffer size.
func (w *WorkingMemory) Capacity() int {
	return w.capacity
}

// Store appends entry and evicts the oldest entries while over capacity.
func (w *WorkingMemory) Store(ctx context.Context, entry Entry) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := entry.Validate(); err != nil {
		return "", err
	}

	seq := w.next.Add(1)
	id := fmt.Sprintf("wm_%d", seq)
	rec := &record{entry: entry.prepare(id, w.now()), seq: seq}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffer = append(w.buffer, rec)
	for len(w.buffer) > w.capacity {
		evicted := w.buffer[0]
		w.buffer[0] = nil
		w.buffer = w.buffer[1:]
		xlog.Debug("Evicted working memory entry", "component", "memory", "id", evicted.entry.ID, "capacity", w.capacity)
	}

	return id, nil
}

// Retrieve returns the topK most recent entries, most recent first.
// The query is not used.
func (w *WorkingMemory) Retrieve(ctx context.Context, query string, topK int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []Entry{}, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if topK > len(w.buffer) {
		topK = len(w.buffer)
	}
	out := make([]Entry, 0, topK)
	for i := len(w.buffer) - 1; i >= len(w.buffer)-topK; i-- {
		rec := w.buffer[i]
		rec.accesses++
		out = append(out, rec.entry.clone())
	}
	return out, nil
}

// Forget is a no-op that reports true: capacity eviction is the only
// removal policy of a rolling context window.
func (w *WorkingMemory) Forget(ctx context.Context, id string) bool {
	return true
}

// Get looks up a buffered entry by id.
func (w *WorkingMemory) Get(id string) (Entry, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if i := w.indexOf(id); i >= 0 {
		return w.buffer[i].entry.clone(), nil
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Len returns the number of buffered entries.
func (w *WorkingMemory) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.buffer)
}

// Entries returns the buffer in insertion order.
func (w *WorkingMemory) Entries() []Entry {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Entry, len(w.buffer))
	for i, rec := range w.buffer {
		out[i] = rec.entry.clone()
	}
	return out
}

// Context renders the buffer as a newline-separated block in insertion
// order, ready to hand to a reasoning step.
func (w *WorkingMemory) Context() string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	lines := make([]string, len(w.buffer))
	for i, rec := range w.buffer {
		lines[i] = rec.entry.Text()
	}
	return strings.Join(lines, "\n")
}

// Snapshot returns the buffer with access counts, in insertion order.
func (w *WorkingMemory) Snapshot() []WorkingItem {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]WorkingItem, len(w.buffer))
	for i, rec := range w.buffer {
		out[i] = WorkingItem{Entry: rec.entry.clone(), Accesses: rec.accesses}
	}
	return out
}

// remove drops an entry. Only consolidation removes individual entries.
func (w *WorkingMemory) remove(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	i := w.indexOf(id)
	if i < 0 {
		return false
	}
	w.buffer = append(w.buffer[:i], w.buffer[i+1:]...)
	return true
}

// annotate sets a metadata key on a buffered entry.
func (w *WorkingMemory) annotate(id, key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if i := w.indexOf(id); i >= 0 {
		rec := w.buffer[i]
		rec.entry = rec.entry.WithMetadata(key, value)
	}
}

// indexOf must be called with mu held.
func (w *WorkingMemory) indexOf(id string) int {
	for i, rec := range w.buffer {
		if rec.entry.ID == id {
			return i
		}
	}
	return -1
}

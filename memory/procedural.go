package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/adaojoaquim/agi-core/provider"
)

// Procedure is a learned skill: how to accomplish a task.
type Procedure struct {
	Task          string   `json:"task"`
	Preconditions []string `json:"preconditions,omitempty"`
	Steps         []string `json:"steps"`
}

// FormatForEmbedding renders the task description and preconditions.
// Steps are left out so retrieval matches on what a procedure is for.
func (p Procedure) FormatForEmbedding() string {
	var sb strings.Builder
	sb.WriteString("Task: ")
	sb.WriteString(p.Task)
	if len(p.Preconditions) > 0 {
		sb.WriteString("\nPreconditions: ")
		sb.WriteString(strings.Join(p.Preconditions, ", "))
	}
	return sb.String()
}

// String renders the full procedure with numbered steps.
func (p Procedure) String() string {
	var sb strings.Builder
	sb.WriteString(p.FormatForEmbedding())
	for i, step := range p.Steps {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, step)
	}
	return sb.String()
}

// satisfiedBy reports whether every precondition appears in available.
// Matching is case-insensitive.
func (p Procedure) satisfiedBy(available map[string]struct{}) bool {
	for _, pre := range p.Preconditions {
		if _, ok := available[strings.ToLower(strings.TrimSpace(pre))]; !ok {
			return false
		}
	}
	return true
}

// ProceduralMemory stores skills retrieved by task similarity.
// Ids are prefixed with "proc_".
type ProceduralMemory struct {
	*vectorTier
}

// NewProceduralMemory creates a procedural tier over store.
func NewProceduralMemory(store VectorStore, embedder provider.Embedder, cfg TierConfig) *ProceduralMemory {
	return &ProceduralMemory{vectorTier: newVectorTier(TierProcedural, "proc_", store, embedder, cfg)}
}

// StoreProcedure stores p with the given importance.
func (m *ProceduralMemory) StoreProcedure(ctx context.Context, p Procedure, importance float64) (string, error) {
	return m.Store(ctx, NewEntry(p).WithImportance(importance))
}

// Applicable returns up to topK procedures for task whose preconditions are
// all in available, ranked by task similarity. Entries whose content is not
// a Procedure have no preconditions and always qualify.
//
// A degraded retrieval error is returned alongside the filtered results.
func (m *ProceduralMemory) Applicable(ctx context.Context, task string, available []string, topK int) ([]Entry, error) {
	if topK <= 0 {
		return []Entry{}, nil
	}

	have := make(map[string]struct{}, len(available))
	for _, a := range available {
		have[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}

	candidates, err := m.Retrieve(ctx, task, m.Len())
	if candidates == nil {
		return nil, err
	}

	out := make([]Entry, 0, topK)
	for _, e := range candidates {
		if p, ok := asProcedure(e.Content); ok && !p.satisfiedBy(have) {
			continue
		}
		out = append(out, e)
		if len(out) == topK {
			break
		}
	}
	return out, err
}

func asProcedure(content any) (Procedure, bool) {
	switch p := content.(type) {
	case Procedure:
		return p, true
	case *Procedure:
		if p != nil {
			return *p, true
		}
	}
	return Procedure{}, false
}

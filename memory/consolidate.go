package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mudler/xlog"
)

// Metadata keys written by consolidation.
const (
	MetaMemoryKind         = "memory_kind"
	MetaConsolidatedFrom   = "consolidated_from"
	MetaConsolidatedAt     = "consolidated_at"
	MetaConsolidationScore = "consolidation_score"
	MetaConsolidatedTo     = "consolidated_to"
)

// KindFact marks a working entry for promotion into semantic memory.
const KindFact = "fact"

// Promotion records one working entry copied into long-term memory.
type Promotion struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Tier  TierName `json:"tier"`
	Score float64  `json:"score"`
}

// ConsolidationReport summarizes a consolidation pass.
type ConsolidationReport struct {
	Scanned             int         `json:"scanned"`
	Promoted            []Promotion `json:"promoted"`
	Skipped             int         `json:"skipped"`
	AlreadyConsolidated int         `json:"already_consolidated"`
	Failed              int         `json:"failed"`
	Removed             int         `json:"removed"`
	Pruned              int         `json:"pruned"`
}

// Consolidate promotes important or frequently retrieved working entries
// into long-term memory.
//
// Each entry is scored as
//
//	ImportanceWeight*importance + AccessWeight*min(accesses/AccessSaturation, 1)
//
// and promoted when the score reaches Threshold: into semantic memory when
// its memory_kind metadata is "fact", episodic memory otherwise. Promoted
// ids are remembered, so repeated passes never duplicate an entry. Failed
// promotions stay in working memory for the next pass and are joined into
// the returned error.
func (s *System) Consolidate(ctx context.Context) (report *ConsolidationReport, err error) {
	ctx, span := s.start(ctx, "system", "consolidate")
	defer func() { end(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	cc := s.cfg.Consolidation
	items := s.Working.Snapshot()

	present := make(map[string]struct{}, len(items))
	for _, it := range items {
		present[it.Entry.ID] = struct{}{}
	}
	for id := range s.consolidated {
		if _, ok := present[id]; !ok {
			delete(s.consolidated, id)
		}
	}

	report = &ConsolidationReport{Scanned: len(items), Promoted: []Promotion{}}
	var errs []error

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		id := it.Entry.ID
		if _, done := s.consolidated[id]; done {
			report.AlreadyConsolidated++
			continue
		}

		score := cc.score(it)
		if score < cc.Threshold {
			report.Skipped++
			continue
		}

		var target Tier = s.Episodic
		if kind, _ := it.Entry.Metadata[MetaMemoryKind].(string); kind == KindFact {
			target = s.Semantic
		}

		promoted := it.Entry.
			WithMetadata(MetaConsolidatedFrom, id).
			WithMetadata(MetaConsolidatedAt, s.now().UTC().Format(time.RFC3339Nano)).
			WithMetadata(MetaConsolidationScore, score)
		promoted.ID = ""

		newID, err := target.Store(ctx, promoted)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Failed++
			errs = append(errs, fmt.Errorf("promote %s: %w", id, err))
			xlog.Warn("Consolidation failed", "component", "memory", "id", id, "tier", target.Name(), "error", err)
			continue
		}

		s.consolidated[id] = newID
		s.Working.annotate(id, MetaConsolidatedTo, newID)
		report.Promoted = append(report.Promoted, Promotion{From: id, To: newID, Tier: target.Name(), Score: score})

		if cc.RemovePromoted && s.Working.remove(id) {
			delete(s.consolidated, id)
			report.Removed++
		}
	}

	if cc.PruneAfter > 0 {
		report.Pruned = s.Episodic.prune(ctx, s.now().Add(-cc.PruneAfter), cc.PruneImportance)
	}

	span.SetAttributes(
		attribute.Int("agicore.memory.scanned", report.Scanned),
		attribute.Int("agicore.memory.promoted", len(report.Promoted)),
		attribute.Int("agicore.memory.pruned", report.Pruned),
	)
	xlog.Info("Consolidated working memory", "component", "memory",
		"scanned", report.Scanned,
		"promoted", len(report.Promoted),
		"skipped", report.Skipped,
		"failed", report.Failed,
		"pruned", report.Pruned)

	return report, errors.Join(errs...)
}

// score rates a working entry for promotion.
func (c ConsolidationConfig) score(it WorkingItem) float64 {
	access := 1.0
	if c.AccessSaturation > 0 {
		access = min(float64(it.Accesses)/float64(c.AccessSaturation), 1)
	}
	return c.ImportanceWeight*it.Entry.Importance + c.AccessWeight*access
}

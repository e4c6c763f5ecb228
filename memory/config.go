package memory

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the memory system configuration.
type Config struct {
	Working       WorkingConfig       `yaml:"working" json:"working"`
	Episodic      TierConfig          `yaml:"episodic" json:"episodic"`
	Semantic      TierConfig          `yaml:"semantic" json:"semantic"`
	Procedural    TierConfig          `yaml:"procedural" json:"procedural"`
	Consolidation ConsolidationConfig `yaml:"consolidation" json:"consolidation"`
}

// WorkingConfig configures the working memory buffer.
type WorkingConfig struct {
	// Capacity is the maximum number of buffered entries.
	// Default: 10.
	Capacity int `yaml:"capacity" json:"capacity"`
}

// TierConfig configures a long-term (vector-backed) tier.
type TierConfig struct {
	// Collection names the vector collection backing the tier.
	// Defaults: "episodic", "semantic", "procedural".
	Collection string `yaml:"collection" json:"collection"`

	// MaxEntries is a hard ceiling on stored entries. 0 means unbounded.
	MaxEntries int `yaml:"max_entries" json:"max_entries"`

	// PinImportance protects entries at or above this importance from
	// capacity eviction. Default: 0.9.
	PinImportance float64 `yaml:"pin_importance" json:"pin_importance"`

	Ranking RankingConfig `yaml:"ranking" json:"ranking"`
}

// RankingConfig weights the relevance score:
//
//	score = SimilarityWeight*similarity + ImportanceWeight*importance
//	      + RecencyWeight*0.5^(age/RecencyHalfLife)
type RankingConfig struct {
	SimilarityWeight float64       `yaml:"similarity_weight" json:"similarity_weight"`
	ImportanceWeight float64       `yaml:"importance_weight" json:"importance_weight"`
	RecencyWeight    float64       `yaml:"recency_weight" json:"recency_weight"`
	RecencyHalfLife  time.Duration `yaml:"recency_half_life" json:"recency_half_life"`

	// Oversample multiplies topK when asking the vector store for
	// candidates to re-rank. Default: 4.
	Oversample int `yaml:"oversample" json:"oversample"`
}

// ConsolidationConfig configures promotion from working memory into
// long-term memory.
type ConsolidationConfig struct {
	// Threshold is the minimum score for promotion. Default: 0.6.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// ImportanceWeight and AccessWeight combine into the score.
	// Defaults: 0.7 and 0.3.
	ImportanceWeight float64 `yaml:"importance_weight" json:"importance_weight"`
	AccessWeight     float64 `yaml:"access_weight" json:"access_weight"`

	// AccessSaturation is the retrieval count at which the access
	// component reaches 1. Default: 3.
	AccessSaturation int `yaml:"access_saturation" json:"access_saturation"`

	// RemovePromoted drops promoted entries from working memory.
	RemovePromoted bool `yaml:"remove_promoted" json:"remove_promoted"`

	// PruneImportance and PruneAfter enable pruning of never-retrieved
	// episodic entries below PruneImportance and older than PruneAfter.
	// Disabled while PruneAfter is 0.
	PruneImportance float64       `yaml:"prune_importance" json:"prune_importance"`
	PruneAfter      time.Duration `yaml:"prune_after" json:"prune_after"`
}

// DefaultConfig returns a fresh configuration with defaults applied.
func DefaultConfig() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Working.Capacity <= 0 {
		c.Working.Capacity = 10
	}
	c.Episodic.applyDefaults(string(TierEpisodic), 0)
	c.Semantic.applyDefaults(string(TierSemantic), 0.1)
	c.Procedural.applyDefaults(string(TierProcedural), 0)
	c.Consolidation.applyDefaults()
}

func (c *TierConfig) applyDefaults(collection string, recency float64) {
	if c.Collection == "" {
		c.Collection = collection
	}
	if c.PinImportance == 0 {
		c.PinImportance = 0.9
	}
	r := &c.Ranking
	if r.SimilarityWeight == 0 && r.ImportanceWeight == 0 && r.RecencyWeight == 0 {
		r.SimilarityWeight = 0.75
		r.ImportanceWeight = 0.25
		r.RecencyWeight = recency
	}
	if r.RecencyHalfLife <= 0 {
		r.RecencyHalfLife = 7 * 24 * time.Hour
	}
	if r.Oversample <= 0 {
		r.Oversample = 4
	}
}

func (c *ConsolidationConfig) applyDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 0.6
	}
	if c.ImportanceWeight == 0 && c.AccessWeight == 0 {
		c.ImportanceWeight = 0.7
		c.AccessWeight = 0.3
	}
	if c.AccessSaturation <= 0 {
		c.AccessSaturation = 3
	}
}

// Validate checks ranges after defaults are applied.
func (c *Config) Validate() error {
	if c.Working.Capacity <= 0 {
		return fmt.Errorf("working capacity must be greater than 0, got %d", c.Working.Capacity)
	}
	for name, tc := range map[TierName]TierConfig{
		TierEpisodic:   c.Episodic,
		TierSemantic:   c.Semantic,
		TierProcedural: c.Procedural,
	} {
		if err := tc.validate(); err != nil {
			return fmt.Errorf("%s memory config: %w", name, err)
		}
	}
	if c.Episodic.Collection == c.Semantic.Collection ||
		c.Episodic.Collection == c.Procedural.Collection ||
		c.Semantic.Collection == c.Procedural.Collection {
		return errors.New("long-term tiers must use distinct collections")
	}

	cc := c.Consolidation
	if cc.Threshold < 0 || cc.Threshold > 1 {
		return fmt.Errorf("consolidation threshold must be in [0,1], got %v", cc.Threshold)
	}
	if cc.ImportanceWeight < 0 || cc.AccessWeight < 0 {
		return errors.New("consolidation weights must be non-negative")
	}
	if cc.PruneAfter < 0 {
		return fmt.Errorf("consolidation prune_after must be non-negative, got %s", cc.PruneAfter)
	}
	return nil
}

func (c TierConfig) validate() error {
	if c.Collection == "" {
		return errors.New("collection is required")
	}
	if c.MaxEntries < 0 {
		return fmt.Errorf("max_entries must be non-negative, got %d", c.MaxEntries)
	}
	if c.PinImportance < 0 || c.PinImportance > 1 {
		return fmt.Errorf("pin_importance must be in [0,1], got %v", c.PinImportance)
	}
	r := c.Ranking
	if r.SimilarityWeight < 0 || r.ImportanceWeight < 0 || r.RecencyWeight < 0 {
		return errors.New("ranking weights must be non-negative")
	}
	return nil
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mudler/xlog"

	"github.com/adaojoaquim/agi-core/provider"
)

// DefaultReflectTopK is the per-tier result count Reflect uses when topK is
// not positive.
const DefaultReflectTopK = 5

const tracerName = "github.com/adaojoaquim/agi-core/memory"

// System coordinates the four tiers: routing, consolidation and
// cross-tier reflection.
type System struct {
	Working    *WorkingMemory
	Episodic   *EpisodicMemory
	Semantic   *SemanticMemory
	Procedural *ProceduralMemory

	backend Backend
	cfg     Config
	tracer  trace.Tracer
	now     func() time.Time

	// mu serializes consolidation passes.
	mu sync.Mutex
	// consolidated maps promoted working ids to their long-term ids.
	consolidated map[string]string
}

// Option configures a System.
type Option func(*System)

// WithTracer sets the tracer used for System spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *System) {
		s.tracer = tracer
	}
}

// WithClock overrides the time source used for timestamps, recency decay
// and pruning.
func WithClock(now func() time.Time) Option {
	return func(s *System) {
		s.now = now
	}
}

// NewSystem opens one collection per long-term tier from backend.
// If cfg is nil, DefaultConfig is used.
func NewSystem(ctx context.Context, backend Backend, embedder provider.Embedder, cfg *Config, opts ...Option) (*System, error) {
	if backend == nil {
		return nil, errors.New("memory: backend is required")
	}
	if embedder == nil {
		return nil, errors.New("memory: embedder is required")
	}

	var c Config
	if cfg != nil {
		c = *cfg
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("memory config: %w", err)
	}

	s := &System{
		backend:      backend,
		cfg:          c,
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
		consolidated: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}

	open := func(tc TierConfig) (VectorStore, error) {
		vs, err := backend.Open(ctx, tc.Collection)
		if err != nil {
			return nil, fmt.Errorf("open collection %q: %w", tc.Collection, err)
		}
		return vs, nil
	}

	episodic, err := open(c.Episodic)
	if err != nil {
		return nil, err
	}
	semantic, err := open(c.Semantic)
	if err != nil {
		return nil, err
	}
	procedural, err := open(c.Procedural)
	if err != nil {
		return nil, err
	}

	s.Working = NewWorkingMemory(c.Working.Capacity)
	s.Episodic = NewEpisodicMemory(episodic, embedder, c.Episodic)
	s.Semantic = NewSemanticMemory(semantic, embedder, c.Semantic)
	s.Procedural = NewProceduralMemory(procedural, embedder, c.Procedural)

	s.Working.now = s.now
	s.Episodic.now = s.now
	s.Semantic.now = s.now
	s.Procedural.now = s.now

	xlog.Info("Memory system ready", "component", "memory",
		"working_capacity", c.Working.Capacity,
		"embedder", provider.NameOf(embedder))
	return s, nil
}

// Config returns the effective configuration.
func (s *System) Config() Config {
	return s.cfg
}

// Tier resolves a tier by name.
func (s *System) Tier(name TierName) (Tier, error) {
	switch name {
	case TierWorking:
		return s.Working, nil
	case TierEpisodic:
		return s.Episodic, nil
	case TierSemantic:
		return s.Semantic, nil
	case TierProcedural:
		return s.Procedural, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTier, name)
}

// Store stores entry in the named tier.
func (s *System) Store(ctx context.Context, name TierName, entry Entry) (id string, err error) {
	ctx, span := s.start(ctx, name, "store")
	defer func() { end(span, err) }()

	tier, err := s.Tier(name)
	if err != nil {
		return "", err
	}
	id, err = tier.Store(ctx, entry)
	span.SetAttributes(attribute.String("agicore.memory.id", id))
	return id, err
}

// Retrieve queries the named tier.
func (s *System) Retrieve(ctx context.Context, name TierName, query string, topK int) (entries []Entry, err error) {
	ctx, span := s.start(ctx, name, "retrieve")
	defer func() { end(span, err) }()

	tier, err := s.Tier(name)
	if err != nil {
		return nil, err
	}
	entries, err = tier.Retrieve(ctx, query, topK)
	span.SetAttributes(
		attribute.Int("agicore.memory.top_k", topK),
		attribute.Int("agicore.memory.results", len(entries)),
	)
	return entries, err
}

// Forget removes id from the named tier.
func (s *System) Forget(ctx context.Context, name TierName, id string) (bool, error) {
	ctx, span := s.start(ctx, name, "forget")
	defer span.End()

	tier, err := s.Tier(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	removed := tier.Forget(ctx, id)
	span.SetAttributes(attribute.Bool("agicore.memory.removed", removed))
	return removed, nil
}

// Get looks up id in the named tier.
func (s *System) Get(name TierName, id string) (Entry, error) {
	tier, err := s.Tier(name)
	if err != nil {
		return Entry{}, err
	}
	return tier.Get(id)
}

// Reflect queries every tier concurrently. The result always holds all four
// tier keys. Per-tier errors are joined and returned next to whatever
// results the tiers produced. If topK is not positive, DefaultReflectTopK is
// used.
func (s *System) Reflect(ctx context.Context, query string, topK int) (map[TierName][]Entry, error) {
	ctx, span := s.start(ctx, "system", "reflect")
	defer span.End()

	if topK <= 0 {
		topK = DefaultReflectTopK
	}

	tiers := []Tier{s.Working, s.Episodic, s.Semantic, s.Procedural}
	results := make([][]Entry, len(tiers))
	errs := make([]error, len(tiers))

	var g errgroup.Group
	for i, tier := range tiers {
		g.Go(func() error {
			entries, err := tier.Retrieve(ctx, query, topK)
			results[i] = entries
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", tier.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[TierName][]Entry, len(tiers))
	total := 0
	for i, tier := range tiers {
		entries := results[i]
		if entries == nil {
			entries = []Entry{}
		}
		out[tier.Name()] = entries
		total += len(entries)
	}

	err := errors.Join(errs...)
	span.SetAttributes(attribute.Int("agicore.memory.results", total))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

// Close releases the backend.
func (s *System) Close() error {
	return s.backend.Close()
}

func (s *System) start(ctx context.Context, tier TierName, op string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "agicore.memory."+string(tier)+"."+op,
		trace.WithAttributes(
			attribute.String("agicore.memory.tier", string(tier)),
			attribute.String("agicore.memory.operation", op),
		))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

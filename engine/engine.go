// Package engine is the AGI-Core orchestrator: it wires the configured
// providers and memory system together and runs goals against them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/mudler/xlog"

	"github.com/adaojoaquim/agi-core/config"
	"github.com/adaojoaquim/agi-core/core"
	"github.com/adaojoaquim/agi-core/memory"
	"github.com/adaojoaquim/agi-core/provider"
)

// Version of the agent.
const Version = "0.1.0"

// ErrEmptyGoal is returned by Run when the goal is blank.
var ErrEmptyGoal = errors.New("engine: goal is required")

// Engine runs goals through memory recall and an optional completion.
// Components are built once, on the first call to Initialize or Run.
type Engine struct {
	cfg *config.Config

	mu          sync.Mutex
	initialized bool
	memory      *memory.System
	ownsMemory  bool
	embedder    provider.Embedder
	completer   provider.Completer
	closers     []io.Closer
	memoryOpts  []memory.Option
	noCompleter bool
}

// Option configures the engine.
type Option func(*Engine)

// WithMemory uses an existing memory system instead of building one. The
// caller keeps ownership: Close leaves it open.
func WithMemory(m *memory.System) Option {
	return func(e *Engine) {
		e.memory = m
	}
}

// WithEmbedder overrides the configured embedder.
func WithEmbedder(emb provider.Embedder) Option {
	return func(e *Engine) {
		e.embedder = emb
	}
}

// WithCompleter overrides the configured completer.
func WithCompleter(c provider.Completer) Option {
	return func(e *Engine) {
		e.completer = c
	}
}

// WithoutCompleter disables completions regardless of configuration.
func WithoutCompleter() Option {
	return func(e *Engine) {
		e.noCompleter = true
	}
}

// WithMemoryOptions passes options to the memory system built by the engine.
func WithMemoryOptions(opts ...memory.Option) Option {
	return func(e *Engine) {
		e.memoryOpts = append(e.memoryOpts, opts...)
	}
}

// New creates an engine. If cfg is nil, config.Default is used.
func New(cfg *config.Config, opts ...Option) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Initialize builds the embedder, memory system and completer. Calling it
// again after success is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	if e.memory == nil {
		if e.embedder == nil {
			emb, closers, err := buildEmbedder(e.cfg.Embedder)
			if err != nil {
				return fmt.Errorf("build embedder: %w", err)
			}
			e.embedder = emb
			e.closers = append(e.closers, closers...)
		}

		backend, err := buildBackend(e.cfg.MemoryBackend)
		if err != nil {
			return err
		}
		sys, err := memory.NewSystem(ctx, backend, e.embedder, &e.cfg.Memory, e.memoryOpts...)
		if err != nil {
			_ = backend.Close()
			return fmt.Errorf("build memory system: %w", err)
		}
		e.memory = sys
		e.ownsMemory = true
	}

	if e.completer == nil && !e.noCompleter {
		c, err := buildCompleter(e.cfg)
		if err != nil {
			return fmt.Errorf("build completer: %w", err)
		}
		e.completer = c
	}
	if e.noCompleter {
		e.completer = nil
	}

	e.initialized = true
	xlog.Info("Engine initialized", "component", "engine",
		"llm", e.cfg.LLMProvider,
		"memory", e.cfg.MemoryBackend,
		"embedder", provider.NameOf(e.embedder),
		"completer", e.completer != nil)
	return nil
}

// Memory returns the memory system, initializing the engine if needed.
func (e *Engine) Memory(ctx context.Context) (*memory.System, error) {
	if err := e.Initialize(ctx); err != nil {
		return nil, err
	}
	return e.memory, nil
}

// Run executes a goal:
//
//  1. recall relevant memories from every tier
//  2. record the goal in working memory
//  3. complete the enriched prompt when a completer is configured
//
// Without a completer the output status is pending_implementation and the
// recalled memories are returned as is. Degraded recall is reported in
// Output.Warnings, not as an error.
func (e *Engine) Run(ctx context.Context, input *core.Input) (*core.Output, error) {
	if input == nil || strings.TrimSpace(input.Goal) == "" {
		return nil, ErrEmptyGoal
	}
	if err := e.Initialize(ctx); err != nil {
		return nil, err
	}

	out := &core.Output{
		Goal:         input.Goal,
		Architecture: e.Architecture(),
	}

	// === PHASE 1: RECALL ===
	recalled, err := e.memory.Reflect(ctx, input.Goal, memory.DefaultReflectTopK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		xlog.Warn("Recall degraded", "component", "engine", "error", err)
		out.Warnings = append(out.Warnings, fmt.Sprintf("recall degraded: %v", err))
	}
	out.Recalled = recalled
	workingContext := e.memory.Working.Context()

	// === PHASE 2: RECORD GOAL ===
	goal := memory.NewEntry(input.Goal).WithMetadata("role", "goal")
	if input.Importance != nil {
		goal = goal.WithImportance(*input.Importance)
	}
	if len(input.Context) > 0 {
		goal = goal.WithMetadata("context", maps.Clone(input.Context))
	}
	out.GoalID, err = e.memory.Working.Store(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("record goal: %w", err)
	}

	e.mu.Lock()
	completer := e.completer
	e.mu.Unlock()

	if completer == nil {
		out.Status = core.StatusPendingImplementation
		out.Message = "No completion provider configured; returning recalled memory only."
		return out, nil
	}

	// === PHASE 3: COMPLETE ===
	prompt := buildPrompt(input, recalled, workingContext)
	response, err := completer.Complete(ctx, prompt, provider.CompletionOptions{
		System:    e.cfg.Completer.System,
		Model:     e.cfg.Completer.Model,
		MaxTokens: e.cfg.Completer.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("complete goal: %w", err)
	}
	out.Status = core.StatusCompleted
	out.Response = response

	// === PHASE 4: RECORD RESPONSE ===
	reply := memory.NewEntry(response).
		WithMetadata("role", "response").
		WithMetadata("goal_id", out.GoalID)
	if _, err := e.memory.Working.Store(ctx, reply); err != nil {
		xlog.Warn("Failed to record response", "component", "engine", "error", err)
	}

	return out, nil
}

// Architecture describes the implementation behind each cognitive module.
func (e *Engine) Architecture() map[string]string {
	return map[string]string{
		"executive":  "single-pass goal runner",
		"memory":     fmt.Sprintf("working buffer + %s vector tiers", e.cfg.MemoryBackend),
		"reasoning":  fmt.Sprintf("%s completion, depth %d", e.cfg.LLMProvider, e.cfg.ReasoningDepth),
		"tools":      strings.Join(e.cfg.ToolsEnabled, ", "),
		"perception": "text",
	}
}

// String renders the engine configuration.
func (e *Engine) String() string {
	return fmt.Sprintf("AGICore(llm=%s, memory=%s, depth=%d)",
		e.cfg.LLMProvider, e.cfg.MemoryBackend, e.cfg.ReasoningDepth)
}

// Close releases the memory system and provider resources built by
// Initialize.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.memory != nil && e.ownsMemory {
		errs = append(errs, e.memory.Close())
	}
	for _, c := range slices.Backward(e.closers) {
		errs = append(errs, c.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}

// buildPrompt renders the goal with its context and recalled memories.
func buildPrompt(input *core.Input, recalled map[memory.TierName][]memory.Entry, workingContext string) string {
	var sb strings.Builder
	sb.WriteString("GOAL:\n")
	sb.WriteString(input.Goal)
	sb.WriteString("\n")

	if len(input.Context) > 0 {
		sb.WriteString("\nCONTEXT:\n")
		keys := slices.Collect(maps.Keys(input.Context))
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %v\n", k, input.Context[k])
		}
	}

	if workingContext != "" {
		sb.WriteString("\n=== WORKING MEMORY ===\n")
		sb.WriteString(workingContext)
		sb.WriteString("\n")
	}

	for _, tier := range memory.TierNames[1:] {
		entries := recalled[tier]
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n=== RELEVANT %s MEMORY ===\n", strings.ToUpper(string(tier)))
		for i, entry := range entries {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, entry.Text())
		}
	}

	return sb.String()
}

// Package core holds the request and result types shared by the engine,
// the websocket server and the CLI.
package core

import "github.com/adaojoaquim/agi-core/memory"

// Status values reported in Output.
const (
	StatusCompleted             = "completed"
	StatusPendingImplementation = "pending_implementation"
)

// Input is a goal submitted to the engine.
type Input struct {
	// Goal is the goal or task to accomplish.
	Goal string `json:"goal"`

	// Context carries optional caller-supplied context. It is rendered into
	// the prompt and recorded alongside the goal.
	Context map[string]any `json:"context,omitempty"`

	// Importance overrides the importance of the recorded goal.
	Importance *float64 `json:"importance,omitempty"`
}

// Output is the result of a run.
type Output struct {
	Status string `json:"status"`
	Goal   string `json:"goal"`

	// Response is the completion text when a completer is configured.
	Response string `json:"response,omitempty"`

	// Message explains a status that carries no response.
	Message string `json:"message,omitempty"`

	// Recalled holds the per-tier memories used to enrich the goal.
	Recalled map[memory.TierName][]memory.Entry `json:"recalled"`

	// GoalID is the working-memory id of the recorded goal.
	GoalID string `json:"goal_id,omitempty"`

	// Architecture maps each cognitive module to its implementation.
	Architecture map[string]string `json:"architecture"`

	// Warnings lists non-fatal problems, such as degraded recall.
	Warnings []string `json:"warnings,omitempty"`
}

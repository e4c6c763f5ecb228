package server

import (
	"context"
	"errors"
	"time"

	"github.com/adaojoaquim/agi-core/core"
	"github.com/adaojoaquim/agi-core/memory"
)

// Message types accepted over the websocket.
const (
	TypeStore       = "store"
	TypeRetrieve    = "retrieve"
	TypeForget      = "forget"
	TypeGet         = "get"
	TypeReflect     = "reflect"
	TypeConsolidate = "consolidate"
	TypeContext     = "context"
	TypeRun         = "run"

	TypeError = "error"
)

// Error codes carried in error responses.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeUnknownType         = "unknown_type"
	CodeUnknownTier         = "unknown_tier"
	CodeNotFound            = "not_found"
	CodeInvalidEntry        = "invalid_entry"
	CodeCapacityExceeded    = "capacity_exceeded"
	CodeProviderUnavailable = "provider_unavailable"
	CodeCanceled            = "canceled"
	CodeInternal            = "internal"
)

// Request is a client message.
type Request struct {
	Type string `json:"type"`

	// RequestID is echoed on the response.
	RequestID string `json:"request_id,omitempty"`

	Tier  memory.TierName `json:"tier,omitempty"`
	ID    string          `json:"id,omitempty"`
	Query string          `json:"query,omitempty"`
	TopK  *int            `json:"top_k,omitempty"`
	Entry *EntryPayload   `json:"entry,omitempty"`

	// Run fields.
	Goal       string         `json:"goal,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Importance *float64       `json:"importance,omitempty"`
}

// EntryPayload is an entry submitted for storage.
type EntryPayload struct {
	Content    any            `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Importance *float64       `json:"importance,omitempty"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
}

func (p *EntryPayload) entry() memory.Entry {
	e := memory.NewEntry(p.Content)
	for k, v := range p.Metadata {
		e = e.WithMetadata(k, v)
	}
	if p.Importance != nil {
		e = e.WithImportance(*p.Importance)
	}
	if p.Timestamp != nil {
		e.Timestamp = *p.Timestamp
	}
	return e
}

// Response is a server message. Type is the request type with a "_result"
// suffix, or "error".
type Response struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	ID         string                             `json:"id,omitempty"`
	Removed    *bool                              `json:"removed,omitempty"`
	Entry      *memory.Entry                      `json:"entry,omitempty"`
	Entries    []memory.Entry                     `json:"entries,omitempty"`
	Reflection map[memory.TierName][]memory.Entry `json:"reflection,omitempty"`
	Report     *memory.ConsolidationReport        `json:"report,omitempty"`
	Context    *string                            `json:"context,omitempty"`
	Output     *core.Output                       `json:"output,omitempty"`

	// Warning reports degraded results, such as recency-ranked retrieval
	// while the embedding provider is unavailable.
	Warning string `json:"warning,omitempty"`

	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

func result(req *Request) *Response {
	return &Response{Type: req.Type + "_result", RequestID: req.RequestID}
}

func errorResponse(req *Request, code string, err error) *Response {
	resp := &Response{Type: TypeError, Code: code, Error: err.Error()}
	if req != nil {
		resp.RequestID = req.RequestID
	}
	return resp
}

// codeFor maps an error to its wire code.
func codeFor(err error) string {
	switch {
	case errors.Is(err, memory.ErrUnknownTier):
		return CodeUnknownTier
	case errors.Is(err, memory.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, memory.ErrInvalidEntry):
		return CodeInvalidEntry
	case errors.Is(err, memory.ErrCapacityExceeded):
		return CodeCapacityExceeded
	case errors.Is(err, memory.ErrProviderUnavailable):
		return CodeProviderUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	}
	return CodeInternal
}

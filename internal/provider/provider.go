// Package provider implements the uniform callLLM capability over
// heterogeneous backends (spec C3).
//
// Grounded on pkg/model/model.go's LLM interface and per-backend
// packages, generalized from their a2a.Message-based Request/Response
// shape to this module's own internal/thread.Thread, since A2A
// protocol is entirely out of scope for this spec (see DESIGN.md).
package provider

import (
	"context"

	"github.com/thinksuit/thinksuit/internal/thread"
)

// FinishReason is the closed enumeration the adapter normalizes every
// backend's completion reason into (spec §4.3, §9: "never let
// backend-specific enums leak past the adapter").
type FinishReason string

const (
	FinishComplete  FinishReason = "complete"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishToolUse   FinishReason = "tool_use"
	FinishSafety    FinishReason = "safety"
	FinishOther     FinishReason = "other"
)

// Usage reports token accounting for one call.
type Usage struct {
	Prompt     int
	Completion int
}

// ToolSchema is a tool definition offered to the model for tool_use.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is the uniform input to CallLLM (spec §4.3).
type Request struct {
	Model              string
	SystemInstructions string
	Thread             thread.Thread
	MaxTokens          int
	Temperature        *float64
	Stop               []string
	ResponseFormat     string
	Tools              []string
	ToolSchemas        []ToolSchema
}

// Response is the uniform output of CallLLM (spec §4.3).
type Response struct {
	Output       string
	Usage        Usage
	Model        string
	FinishReason FinishReason
	ToolCalls    []thread.ToolCall
	Raw          any
}

// Capabilities describes what a model supports, so the adapter can
// omit unsupported request fields (spec §4.3).
type Capabilities struct {
	MaxContext int
	MaxOutput  int
	Supports   struct {
		ToolCalls   bool
		Temperature bool
	}
}

// LLM is the uniform adapter capability every backend implements.
type LLM interface {
	// CallLLM issues one request, honoring ctx cancellation so
	// in-flight calls can be aborted (spec §4.3, §5 suspension points).
	CallLLM(ctx context.Context, req Request) (Response, error)
	Capabilities() Capabilities
}

// Registry resolves an LLM by model name, the minimal lookup the Plan
// Executor needs; provider construction itself is the caller's concern
// (API keys, base URLs) since those come from Configuration.
type Registry struct {
	llms map[string]LLM
}

// NewRegistry constructs a Registry from a name->LLM map.
func NewRegistry(llms map[string]LLM) *Registry {
	return &Registry{llms: llms}
}

// Get resolves model by name.
func (r *Registry) Get(model string) (LLM, bool) {
	llm, ok := r.llms[model]
	return llm, ok
}

// SanitizeRequest drops fields a backend doesn't support, so the
// request passed to a backend-specific translator never references
// capabilities it lacks (spec §4.3: "the adapter omits unsupported
// options").
func SanitizeRequest(req Request, caps Capabilities) Request {
	if !caps.Supports.Temperature {
		req.Temperature = nil
	}
	if !caps.Supports.ToolCalls {
		req.Tools = nil
		req.ToolSchemas = nil
	}
	if caps.MaxOutput > 0 && req.MaxTokens > caps.MaxOutput {
		req.MaxTokens = caps.MaxOutput
	}
	return req
}

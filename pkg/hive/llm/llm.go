// Package llm implements the provider plug shared by the Orchestrator
// (C2) and Executor (C4): a small Route/Complete capability interface
// with two concrete, composed (never subclassed) implementations — an
// Anthropic-backed provider using native tool-use blocks, and an
// OpenAI-compatible HTTP provider grounded on
// pkg/goclaw/copilot/llm.go, with tool calls translated to/from the
// Anthropic-shaped tool_use/tool_result contract at the boundary so
// callers stay provider-agnostic.
package llm

import (
	"context"
)

// Role is the speaker of one Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolDefinition declares one callable tool, mirroring the teacher's
// ToolDefinition{Type, Function{Name, Description, Parameters}} shape.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-schema fragment
}

// ToolUse is a model-requested invocation of a registered tool.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is the outcome of one ToolUse, fed back to the model.
type ToolResult struct {
	ToolUseID string
	Content   string // JSON-encoded result, or {"error": "..."}
}

// Message is one turn in the running conversation sent to a provider.
// Assistant turns that requested tools carry ToolUses; tool turns carry
// ToolResults. Exactly one of Content/ToolUses/ToolResults is normally
// populated, matching how the Anthropic Messages API frames a turn.
type Message struct {
	Role        Role
	Content     string
	ToolUses    []ToolUse
	ToolResults []ToolResult
}

// StopReason mirrors the Anthropic Messages API's terminal states.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Usage is token accounting for one Complete call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Request is one call to a provider's Complete method.
type Request struct {
	Model       string // concrete backend model id, already resolved from a logical tier
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
}

// Response is the provider's reply to a Complete call.
type Response struct {
	Content    string
	ToolUses   []ToolUse
	StopReason StopReason
	Usage      Usage
}

// Provider is the capability every backend implements: a cheap Route
// for the Orchestrator's single-shot classification prompt, and a full
// Complete for the Executor's tool-use loop.
type Provider interface {
	// Route sends a single user-role prompt with no tools and returns
	// the raw text response, for the Orchestrator's classification call.
	Route(ctx context.Context, prompt string) (string, error)
	// Complete runs one turn of the tool-use loop.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Pricing is per-model USD cost per 1M tokens (input, output).
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// ModelPricing is the spec's fixed per-tier pricing table.
var ModelPricing = map[string]Pricing{
	"haiku":  {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	"sonnet": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"opus":   {InputPerMillion: 15.0, OutputPerMillion: 75.0},
}

// CostCents computes the spec's costCents = (tIn*pin + tOut*pout)/1e6*100.
func CostCents(tier string, usage Usage) float64 {
	p, ok := ModelPricing[tier]
	if !ok {
		return 0
	}
	return (float64(usage.InputTokens)*p.InputPerMillion + float64(usage.OutputTokens)*p.OutputPerMillion) / 1e6 * 100
}

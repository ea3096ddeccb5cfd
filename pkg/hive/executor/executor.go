// Package executor implements the Executor (C4): the bounded tool-use
// loop that drives one LLM turn to completion, accumulating token usage
// and cost across rounds.
//
// Grounded on pkg/goclaw/copilot/agent.go's AgentRun/RunWithUsage loop,
// narrowed from its turn/reflection/interrupt machinery (dropped as
// out-of-spec embellishment) down to the spec's fixed maxToolRounds
// bound, and built on llm.Provider as the shared Anthropic/OpenAI-
// compatible provider plug (§4.3).
package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
)

// ToolHandler executes one tool call and returns a JSON-serializable
// result, or an error. Unknown tool names never reach a handler: the
// Executor looks the name up in its own registry and answers a miss with
// an {"error": ...} tool result.
type ToolHandler func(ctx context.Context, input map[string]any) (any, error)

// Tool pairs a definition with its handler.
type Tool struct {
	Definition llm.ToolDefinition
	Handler    ToolHandler
}

// Options configures one Execute call.
type Options struct {
	SystemPrompt  string
	MaxTokens     int
	Temperature   float64
	Tools         []Tool
	MaxToolRounds int // default 5
}

// Result is the Executor's contract output.
type Result struct {
	Content   string
	TokensIn  int
	TokensOut int
	CostCents float64
	ModelID   string
}

// Executor drives the tool-use loop for one model tier via a resolved
// Provider + concrete model id.
type Executor struct {
	provider llm.Provider
}

// New binds an Executor to a single provider instance. Model tier
// resolution (which provider/model id back "haiku"/"sonnet"/"opus") is
// the caller's responsibility — see TierModels.
func New(provider llm.Provider) *Executor {
	return &Executor{provider: provider}
}

// Execute runs messages through the tool-use loop using modelID (the
// concrete backend model id) and tier (the logical tier, for pricing).
func (e *Executor) Execute(ctx context.Context, messages []llm.Message, modelID, tier string, opts Options) (*Result, error) {
	maxRounds := opts.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = 5
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	toolDefs := make([]llm.ToolDefinition, len(opts.Tools))
	handlers := make(map[string]ToolHandler, len(opts.Tools))
	for i, t := range opts.Tools {
		toolDefs[i] = t.Definition
		handlers[t.Definition.Name] = t.Handler
	}

	running := append([]llm.Message{}, messages...)
	var totalIn, totalOut int

	for round := 0; round < maxRounds; round++ {
		resp, err := e.provider.Complete(ctx, llm.Request{
			Model:       modelID,
			System:      opts.SystemPrompt,
			Messages:    running,
			Tools:       toolDefs,
			MaxTokens:   maxTokens,
			Temperature: opts.Temperature,
		})
		if err != nil {
			if kind, ok := apperr.KindOf(err); ok {
				return nil, apperr.Wrap(kind, "provider error", err)
			}
			return nil, err
		}
		totalIn += resp.Usage.InputTokens
		totalOut += resp.Usage.OutputTokens

		if resp.StopReason != llm.StopToolUse || len(resp.ToolUses) == 0 {
			return &Result{
				Content:   resp.Content,
				TokensIn:  totalIn,
				TokensOut: totalOut,
				CostCents: llm.CostCents(tier, llm.Usage{InputTokens: totalIn, OutputTokens: totalOut}),
				ModelID:   modelID,
			}, nil
		}

		running = append(running, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolUses: resp.ToolUses})

		results := make([]llm.ToolResult, 0, len(resp.ToolUses))
		for _, tu := range resp.ToolUses {
			content, err := runTool(ctx, handlers, tu)
			if err != nil {
				return nil, err // only a non-JSON-serializable result fails the whole turn (§9 decision 3)
			}
			results = append(results, llm.ToolResult{ToolUseID: tu.ID, Content: content})
		}
		running = append(running, llm.Message{Role: llm.RoleTool, ToolResults: results})
	}

	return nil, apperr.Newf(apperr.Validation, "exceeded max tool rounds (%d)", maxRounds)
}

// runTool invokes the named tool (or produces an {"error": ...} result
// for an unknown name or a handler error) and JSON-encodes the outcome.
// A result that cannot be JSON-encoded fails the whole turn, per §9
// decision 3, rather than being coerced into an error tool result.
func runTool(ctx context.Context, handlers map[string]ToolHandler, tu llm.ToolUse) (string, error) {
	handler, ok := handlers[tu.Name]
	if !ok {
		return encodeOrFail(map[string]string{"error": fmt.Sprintf("unknown tool %q", tu.Name)})
	}
	result, err := handler(ctx, tu.Input)
	if err != nil {
		return encodeOrFail(map[string]string{"error": err.Error()})
	}
	return encodeOrFail(result)
}

func encodeOrFail(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", apperr.Wrap(apperr.Validation, "tool result is not JSON-serializable", err)
	}
	return string(b), nil
}

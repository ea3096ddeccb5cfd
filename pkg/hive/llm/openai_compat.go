package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
)

// OpenAICompatProvider talks to any OpenAI-chat-completions-compatible
// endpoint. Grounded directly on pkg/goclaw/copilot/llm.go's LLMClient;
// extended here with tool-call support, translating the OpenAI
// functions/tool_calls wire shape to/from this package's Anthropic-shaped
// ToolUse/ToolResult types at the boundary.
type OpenAICompatProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAICompatProvider builds a provider pointed at baseURL (trailing
// slash trimmed) using apiKey as a bearer token.
func NewOpenAICompatProvider(baseURL, apiKey string, logger *slog.Logger) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger.With("component", "llm.openai_compat"),
	}
}

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content,omitempty"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type oaRequest struct {
	Model    string      `json:"model"`
	Messages []oaMessage `json:"messages"`
	Tools    []oaTool    `json:"tools,omitempty"`
}

type oaResponse struct {
	Choices []struct {
		Message struct {
			Content   string       `json:"content"`
			ToolCalls []oaToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *OpenAICompatProvider) Route(ctx context.Context, prompt string) (string, error) {
	resp, err := p.Complete(ctx, Request{
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *OpenAICompatProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if p.apiKey == "" {
		return nil, apperr.New(apperr.NotConfigured, "LLM API key not configured")
	}

	messages := make([]oaMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, oaMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, toOAMessage(m)...)
	}

	tools := make([]oaTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		var ot oaTool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		tools = append(tools, ot)
	}

	body, err := json.Marshal(oaRequest{Model: req.Model, Messages: messages, Tools: tools})
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, "marshaling completion request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "creating completion request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "calling LLM provider", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transport, "reading provider response", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperr.Newf(apperr.RateLimited, "provider error (%d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.Transport, "provider error (%d): %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed oaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.Transport, "parsing provider response", err)
	}
	if parsed.Error != nil {
		return nil, apperr.Newf(apperr.Transport, "provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, apperr.New(apperr.Transport, "no response from provider")
	}

	choice := parsed.Choices[0]
	out := &Response{
		Content: strings.TrimSpace(choice.Message.Content),
		Usage: Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}
	if len(choice.Message.ToolCalls) > 0 {
		out.StopReason = StopToolUse
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out.ToolUses = append(out.ToolUses, ToolUse{ID: tc.ID, Name: tc.Function.Name, Input: args})
		}
	} else if choice.FinishReason == "length" {
		out.StopReason = StopMaxTokens
	} else {
		out.StopReason = StopEndTurn
	}
	return out, nil
}

// toOAMessage expands one Anthropic-shaped Message into the zero, one, or
// many OpenAI-shaped messages it maps to (a ToolResults turn becomes one
// "tool" message per result).
func toOAMessage(m Message) []oaMessage {
	switch m.Role {
	case RoleAssistant:
		if len(m.ToolUses) > 0 {
			out := oaMessage{Role: "assistant", Content: m.Content}
			for _, tu := range m.ToolUses {
				args, _ := json.Marshal(tu.Input)
				tc := oaToolCall{ID: tu.ID, Type: "function"}
				tc.Function.Name = tu.Name
				tc.Function.Arguments = string(args)
				out.ToolCalls = append(out.ToolCalls, tc)
			}
			return []oaMessage{out}
		}
		return []oaMessage{{Role: "assistant", Content: m.Content}}
	case RoleTool:
		out := make([]oaMessage, 0, len(m.ToolResults))
		for _, tr := range m.ToolResults {
			out = append(out, oaMessage{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolUseID})
		}
		return out
	default:
		return []oaMessage{{Role: string(m.Role), Content: m.Content}}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Provider = (*OpenAICompatProvider)(nil)

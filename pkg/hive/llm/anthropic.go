package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
)

// AnthropicProvider implements Provider on top of the Anthropic Messages
// API, using native tool_use/tool_result content blocks. Grounded on
// goadesign-goa-ai's features/model/anthropic client, narrowed from its
// generic planner-message translation down to this package's Message/
// ToolUse/ToolResult shapes.
type AnthropicProvider struct {
	client           sdk.Client
	defaultMaxTokens int
}

// NewAnthropicProvider builds a provider from an API key and optional
// base URL override (used for Anthropic-compatible gateways).
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client:           sdk.NewClient(opts...),
		defaultMaxTokens: 4096,
	}
}

func (p *AnthropicProvider) Route(ctx context.Context, prompt string) (string, error) {
	resp, err := p.Complete(ctx, Request{
		Messages:  []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  encodeMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		if isRateLimitErr(err) {
			return nil, apperr.Wrap(apperr.RateLimited, "anthropic rate limited", err)
		}
		return nil, apperr.Wrap(apperr.Transport, "calling anthropic messages.new", err)
	}
	return decodeResponse(msg), nil
}

func encodeMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleUser:
			out = append(out, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case RoleAssistant:
			if len(m.ToolUses) > 0 {
				blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolUses)+1)
				if m.Content != "" {
					blocks = append(blocks, sdk.NewTextBlock(m.Content))
				}
				for _, tu := range m.ToolUses {
					blocks = append(blocks, sdk.NewToolUseBlock(tu.ID, tu.Input, tu.Name))
				}
				out = append(out, sdk.NewAssistantMessage(blocks...))
			} else {
				out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
			}
		case RoleTool:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				blocks = append(blocks, sdk.NewToolResultBlock(tr.ToolUseID, tr.Content, false))
			}
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	return out
}

func encodeTools(defs []ToolDefinition) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := sdk.ToolInputSchemaParam{ExtraFields: d.Parameters}
		u := sdk.ToolUnionParamOfTool(schema, d.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(d.Description)
		}
		out = append(out, u)
	}
	return out
}

func decodeResponse(msg *sdk.Message) *Response {
	resp := &Response{}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			var input map[string]any
			if raw, err := json.Marshal(block.Input); err == nil {
				_ = json.Unmarshal(raw, &input)
			}
			resp.ToolUses = append(resp.ToolUses, ToolUse{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	resp.Content = text.String()
	resp.Usage = Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
	switch msg.StopReason {
	case "tool_use":
		resp.StopReason = StopToolUse
	case "max_tokens":
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEndTurn
	}
	return resp
}

func isRateLimitErr(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

var _ Provider = (*AnthropicProvider)(nil)

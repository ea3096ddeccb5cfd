package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompatRouteReturnsContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello there"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 2},
		})
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(srv.URL, "test-key", slog.Default())
	got, err := p.Route(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if got != "hello there" {
		t.Errorf("Route() = %q, want %q", got, "hello there")
	}
}

func TestOpenAICompatCompleteParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"message": map[string]any{
						"content": "",
						"tool_calls": []map[string]any{
							{
								"id":   "call_1",
								"type": "function",
								"function": map[string]any{
									"name":      "fetch_rss",
									"arguments": `{"urls":["https://example.com/feed"]}`,
								},
							},
						},
					},
					"finish_reason": "tool_calls",
				},
			},
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 1},
		})
	}))
	defer srv.Close()

	p := NewOpenAICompatProvider(srv.URL, "test-key", slog.Default())
	resp, err := p.Complete(context.Background(), Request{
		Model:    "gpt-test",
		Messages: []Message{{Role: RoleUser, Content: "get the feed"}},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.StopReason != StopToolUse {
		t.Fatalf("StopReason = %v, want %v", resp.StopReason, StopToolUse)
	}
	if len(resp.ToolUses) != 1 || resp.ToolUses[0].Name != "fetch_rss" {
		t.Fatalf("ToolUses = %+v, want one fetch_rss call", resp.ToolUses)
	}
}

func TestOpenAICompatRequiresAPIKey(t *testing.T) {
	p := NewOpenAICompatProvider("http://localhost", "", slog.Default())
	if _, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}}); err == nil {
		t.Fatalf("expected error when API key is empty")
	}
}

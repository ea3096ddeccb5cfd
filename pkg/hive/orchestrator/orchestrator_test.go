package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
)

type stubProvider struct {
	response string
	err      error
}

func (f *stubProvider) Route(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *stubProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return nil, errors.New("not used in routing tests")
}

var _ llm.Provider = (*stubProvider)(nil)

func TestRouteParsesPrimaryResponse(t *testing.T) {
	primary := &stubProvider{response: `{"intent":"code","complexity":"complex","suggestedModel":"opus"}`}
	o := New(primary, nil, slog.Default())

	d := o.Route(context.Background(), "please refactor this function", nil, nil)
	if d.Intent != IntentCode {
		t.Errorf("Intent = %q, want code", d.Intent)
	}
	if d.SuggestedModel != "opus" {
		t.Errorf("SuggestedModel = %q, want opus", d.SuggestedModel)
	}
	if d.PersonalityLevel != PersonalityMinimal || !d.IncludeBio {
		t.Errorf("enrichment not applied for code intent: %+v", d)
	}
}

func TestRouteFallsBackToHeuristicOnTransportError(t *testing.T) {
	primary := &stubProvider{err: errors.New("connection refused")}
	fallback := &stubProvider{err: errors.New("also down")}
	o := New(primary, fallback, slog.Default())

	d := o.Route(context.Background(), "hey there", nil, nil)
	if d.Intent != IntentGreeting {
		t.Errorf("Intent = %q, want greeting (heuristic)", d.Intent)
	}
}

func TestRouteFallsBackOnUnparsableJSON(t *testing.T) {
	primary := &stubProvider{response: "not json at all"}
	o := New(primary, nil, slog.Default())

	d := o.Route(context.Background(), "write me a poem", nil, nil)
	if d.Intent != IntentConversation {
		t.Errorf("Intent = %q, want conversation (heuristic default)", d.Intent)
	}
}

func TestHeuristicDecisionCoversKeywordTiers(t *testing.T) {
	cases := map[string]Intent{
		"good morning!":             IntentGreeting,
		"give me my daily briefing": IntentBriefing,
		"fix this stack trace":      IntentCode,
		"what's the weather like":   IntentConversation,
	}
	for msg, want := range cases {
		got := heuristicDecision(msg)
		if got.Intent != want {
			t.Errorf("heuristicDecision(%q).Intent = %q, want %q", msg, got.Intent, want)
		}
	}
}

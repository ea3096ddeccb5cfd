package contextbuilder

import (
	"strings"
	"testing"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/orchestrator"
)

func TestBuildOmitsEmptyLayers(t *testing.T) {
	out := Build(Input{
		Decision:      orchestrator.Decision{Intent: orchestrator.IntentGreeting, PersonalityLevel: orchestrator.PersonalityFull},
		UserMessage:   "hello",
		AssistantName: "Hive",
		Timezone:      "UTC",
		Now:           time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC),
	})
	if strings.Contains(out.SystemPrompt, "## Files") {
		t.Errorf("expected no file layer without FileContext override, got: %s", out.SystemPrompt)
	}
	if strings.Contains(out.SystemPrompt, "## Tool Usage Policy") {
		t.Errorf("expected no tool policy layer without active tools, got: %s", out.SystemPrompt)
	}
	if !strings.Contains(out.SystemPrompt, "Hive") {
		t.Errorf("expected identity layer to mention assistant name, got: %s", out.SystemPrompt)
	}
}

func TestBuildIncludesFileContextOnlyForFileOperationIntent(t *testing.T) {
	in := Input{
		Decision:      orchestrator.Decision{Intent: orchestrator.IntentFileOperation},
		UserMessage:   "what's in my files?",
		Overrides:     Overrides{FileContext: "- notes.txt (2KB, modified today)"},
		AssistantName: "Hive",
		Timezone:      "UTC",
	}
	out := Build(in)
	if !strings.Contains(out.SystemPrompt, "notes.txt") {
		t.Errorf("expected file context for file_operation intent, got: %s", out.SystemPrompt)
	}

	in.Decision.Intent = orchestrator.IntentConversation
	out = Build(in)
	if strings.Contains(out.SystemPrompt, "notes.txt") {
		t.Errorf("expected no file context for non-file_operation intent, got: %s", out.SystemPrompt)
	}
}

func TestBuildIncludesToolPolicyWhenToolsActive(t *testing.T) {
	out := Build(Input{
		Decision:        orchestrator.Decision{Intent: orchestrator.IntentTaskQuery},
		UserMessage:     "remind me to call mom",
		ActiveToolNames: []string{"manage_reminders"},
		AssistantName:   "Hive",
		Timezone:        "UTC",
	})
	if !strings.Contains(out.SystemPrompt, "## Tool Usage Policy") {
		t.Errorf("expected tool policy layer when tools are active, got: %s", out.SystemPrompt)
	}
}

func TestBuildMessagesAppendsCurrentUserMessage(t *testing.T) {
	out := Build(Input{
		UserMessage: "what's next",
		History:     []Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello!"}},
	})
	if len(out.Messages) != 3 {
		t.Fatalf("len(Messages) = %d, want 3", len(out.Messages))
	}
	if out.Messages[2].Content != "what's next" {
		t.Errorf("last message = %q, want current user message", out.Messages[2].Content)
	}
}

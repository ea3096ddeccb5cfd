package gateway

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/executor"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/orchestrator"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/sandbox"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/trigger"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/workflow"
)

// fakeProvider returns a canned routing decision and a canned completion,
// standing in for a real backend in tests that never reach the network.
type fakeProvider struct {
	routeResp    string
	completeResp llm.Response
}

func (f *fakeProvider) Route(ctx context.Context, prompt string) (string, error) {
	return f.routeResp, nil
}

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	r := f.completeResp
	return &r, nil
}

func newTestRepo(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path, "")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestGateway(t *testing.T, repo store.Store, routeJSON, completion string) *Gateway {
	t.Helper()
	provider := &fakeProvider{
		routeResp:    routeJSON,
		completeResp: llm.Response{Content: completion, StopReason: llm.StopEndTurn},
	}
	orch := orchestrator.New(provider, nil, slog.Default())
	exec := executor.New(provider)
	trig := trigger.New(repo, workflow.New(repo, sandbox.New(t.TempDir()), nil, nil, nil, t.TempDir(), slog.Default()))
	return New(Dependencies{
		Repo:          repo,
		Orchestrator:  orch,
		Executor:      exec,
		ModelTiers:    map[string]string{"haiku": "test-haiku", "sonnet": "test-sonnet", "opus": "test-opus"},
		ScriptRunner:  sandbox.New(t.TempDir()),
		Trigger:       trig,
		DataDir:       t.TempDir(),
		AssistantName: "Hive",
		Timezone:      "UTC",
		Logger:        slog.Default(),
	})
}

const greetingRouteJSON = `{"selectedSkill":"","intent":"greeting","complexity":"simple","suggestedModel":"haiku"}`

func TestHandleRoundTripsSimpleGreeting(t *testing.T) {
	repo := newTestRepo(t)
	gw := newTestGateway(t, repo, greetingRouteJSON, "Hey there!")

	resp, err := gw.Handle(context.Background(), "alice", "hello", "", Options{})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if resp.Content != "Hey there!" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hey there!")
	}
	if resp.Tier != "haiku" || resp.ModelID != "test-haiku" {
		t.Errorf("tier/model = %s/%s, want haiku/test-haiku", resp.Tier, resp.ModelID)
	}

	msgs, err := repo.ListMessages(context.Background(), resp.ConversationID, 10)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Fatalf("expected [user, assistant] persisted, got %+v", msgs)
	}
}

func TestHandleReusesMostRecentConversationAcrossCalls(t *testing.T) {
	repo := newTestRepo(t)
	gw := newTestGateway(t, repo, greetingRouteJSON, "ack")

	first, err := gw.Handle(context.Background(), "bob", "hi", "", Options{})
	if err != nil {
		t.Fatalf("first Handle() error: %v", err)
	}
	second, err := gw.Handle(context.Background(), "bob", "hi again", "", Options{})
	if err != nil {
		t.Fatalf("second Handle() error: %v", err)
	}
	if first.ConversationID != second.ConversationID {
		t.Errorf("expected the same conversation to be reused, got %s then %s", first.ConversationID, second.ConversationID)
	}

	count, err := repo.CountMessages(context.Background(), first.ConversationID)
	if err != nil {
		t.Fatalf("CountMessages() error: %v", err)
	}
	if count != 4 {
		t.Errorf("CountMessages() = %d, want 4 (2 turns x 2 messages)", count)
	}
}

func TestHandleResolvesChannelPrefixedIdentityConsistently(t *testing.T) {
	repo := newTestRepo(t)
	gw := newTestGateway(t, repo, greetingRouteJSON, "ack")

	first, err := gw.Handle(context.Background(), "tg:12345", "hi", "telegram", Options{})
	if err != nil {
		t.Fatalf("first Handle() error: %v", err)
	}
	second, err := gw.Handle(context.Background(), "tg:12345", "hi again", "telegram", Options{})
	if err != nil {
		t.Fatalf("second Handle() error: %v", err)
	}
	if first.ConversationID != second.ConversationID {
		t.Errorf("expected identical raw id to resolve to the same owner/conversation across calls")
	}

	identity, err := repo.ResolveChannelIdentity(context.Background(), "telegram", "12345")
	if err != nil {
		t.Fatalf("ResolveChannelIdentity() error: %v", err)
	}
	if identity.OwnerID == "" {
		t.Errorf("expected a channel identity to be created on first contact")
	}
}

func TestHandleExecutesPendingWorkflowTriggerBeforeRouting(t *testing.T) {
	repo := newTestRepo(t)
	gw := newTestGateway(t, repo, greetingRouteJSON, "should not be reached")

	if _, err := repo.GetOrCreateUser(context.Background(), "carol"); err != nil {
		t.Fatalf("GetOrCreateUser() error: %v", err)
	}
	wf := &store.Workflow{OwnerID: "carol", Name: "Nightly Backup", StepsJSON: "[]", IsActive: true}
	if err := repo.CreateWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}

	resp, err := gw.Handle(context.Background(), "carol", "please run my nightly backup workflow", "", Options{})
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if resp.Content == "should not be reached" {
		t.Fatalf("expected the trigger to short-circuit routing, got the LLM completion instead")
	}
}

func TestCallSkillForcesSkillSelectionAndReturnsPlainText(t *testing.T) {
	repo := newTestRepo(t)
	gw := newTestGateway(t, repo, greetingRouteJSON, "skill output")

	if _, err := repo.GetOrCreateUser(context.Background(), "dave"); err != nil {
		t.Fatalf("GetOrCreateUser() error: %v", err)
	}
	if err := repo.CreateSkill(context.Background(), &store.Skill{OwnerID: "dave", Name: "morning-report", Content: "Summarize the day."}); err != nil {
		t.Fatalf("CreateSkill() error: %v", err)
	}

	out, err := gw.CallSkill(context.Background(), "dave", "morning-report", "run it", nil)
	if err != nil {
		t.Fatalf("CallSkill() error: %v", err)
	}
	if out != "skill output" {
		t.Errorf("CallSkill() = %q, want %q", out, "skill output")
	}
}

func TestSendFallsBackToConversationLogWithoutOutboundWired(t *testing.T) {
	repo := newTestRepo(t)
	gw := newTestGateway(t, repo, greetingRouteJSON, "ack")

	if _, err := repo.GetOrCreateUser(context.Background(), "erin"); err != nil {
		t.Fatalf("GetOrCreateUser() error: %v", err)
	}
	if err := gw.Send(context.Background(), "erin", "your workflow finished"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	conv, err := repo.GetMostRecentConversation(context.Background(), "erin")
	if err != nil {
		t.Fatalf("GetMostRecentConversation() error: %v", err)
	}
	msgs, err := repo.ListMessages(context.Background(), conv.ID, 10)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "your workflow finished" {
		t.Fatalf("expected the notification appended as a message, got %+v", msgs)
	}
}

func TestUnionToolsDedupesAlwaysOnSet(t *testing.T) {
	got := unionTools([]string{"run_script", "fetch_rss"})
	want := map[string]bool{"manage_reminders": true, "run_script": true, "fetch_rss": true}
	if len(got) != len(want) {
		t.Fatalf("unionTools() = %v, want 3 distinct names", got)
	}
	for _, name := range got {
		if !want[name] {
			t.Errorf("unexpected tool name %q", name)
		}
	}
}

package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/sandbox"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
)

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

type stubVault struct {
	values map[string]string
}

func (v *stubVault) Retrieve(ctx context.Context, ownerID, name string) (string, error) {
	val, ok := v.values[name]
	if !ok {
		return "", errors.New("credential not found")
	}
	return val, nil
}

type stubSkillCaller struct {
	lastMessage string
	response    string
}

func (s *stubSkillCaller) CallSkill(ctx context.Context, callerUserID, skillName, message string, tools []string) (string, error) {
	s.lastMessage = message
	return s.response, nil
}

type stubNotifier struct {
	sent []string
	to   []string
}

func (n *stubNotifier) Send(ctx context.Context, recipientUserID, message string) error {
	n.to = append(n.to, recipientUserID)
	n.sent = append(n.sent, message)
	return nil
}

func mustStepsJSON(t *testing.T, steps []StepDefinition) string {
	t.Helper()
	b, err := json.Marshal(steps)
	if err != nil {
		t.Fatalf("marshaling steps: %v", err)
	}
	return string(b)
}

func TestExecuteZeroStepWorkflowCompletesImmediately(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "alice")
	wf := &store.Workflow{OwnerID: "alice", Name: "noop", StepsJSON: "[]", IsActive: true}
	if err := repo.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}

	e := New(repo, sandbox.New(t.TempDir()), &stubVault{}, nil, nil, t.TempDir(), slog.Default())
	res, err := e.Execute(ctx, wf.ID, "alice")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Status != string(store.RunCompleted) || len(res.Steps) != 0 {
		t.Fatalf("Execute() = %+v, want completed with no steps", res)
	}
}

func TestExecuteScriptStepRunsAndFeedsRefIntoNextStep(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "bob")

	sc := &store.Script{OwnerID: "bob", Name: "double", Source: "function main(i){return {value: i.n * 2}}"}
	if err := repo.CreateScript(ctx, sc); err != nil {
		t.Fatalf("CreateScript() error: %v", err)
	}

	steps := []StepDefinition{
		{
			ID:       "s1",
			Type:     StepScript,
			ScriptID: sc.ID,
			Inputs:   map[string]InputValue{"n": {Kind: InputStatic, Static: float64(21)}},
		},
		{
			ID:       "s2",
			Type:     StepScript,
			ScriptID: sc.ID,
			Inputs:   map[string]InputValue{"n": {Kind: InputRef, Ref: "s1.value"}},
		},
	}
	wf := &store.Workflow{OwnerID: "bob", Name: "double twice", StepsJSON: mustStepsJSON(t, steps), IsActive: true}
	if err := repo.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}

	e := New(repo, sandbox.New(t.TempDir()), &stubVault{}, nil, nil, t.TempDir(), slog.Default())
	res, err := e.Execute(ctx, wf.ID, "bob")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Status != string(store.RunCompleted) {
		t.Fatalf("Status = %q, want completed: %+v", res.Status, res)
	}
	if len(res.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(res.Steps))
	}
	out, ok := res.Steps[1].Output.(map[string]any)
	if !ok {
		t.Fatalf("step 2 output = %#v, want map", res.Steps[1].Output)
	}
	if out["value"] != float64(84) {
		t.Errorf("step 2 value = %v, want 84", out["value"])
	}
}

func TestExecuteFailedStepSkipsRemainder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "carol")

	steps := []StepDefinition{
		{ID: "s1", Type: StepScript, ScriptID: "does-not-exist"},
		{ID: "s2", Type: StepScript, ScriptID: "does-not-exist"},
	}
	wf := &store.Workflow{OwnerID: "carol", Name: "broken", StepsJSON: mustStepsJSON(t, steps), IsActive: true}
	if err := repo.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}

	e := New(repo, sandbox.New(t.TempDir()), &stubVault{}, nil, nil, t.TempDir(), slog.Default())
	res, err := e.Execute(ctx, wf.ID, "carol")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Status != string(store.RunFailed) {
		t.Fatalf("Status = %q, want failed", res.Status)
	}
	if len(res.Steps) != 2 || res.Steps[0].Status != "failed" || res.Steps[1].Status != "skipped" {
		t.Fatalf("Steps = %+v, want [failed, skipped]", res.Steps)
	}
}

func TestExecuteCredentialInputIsFatalWhenMissing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "dave")

	sc := &store.Script{OwnerID: "dave", Name: "echo", Source: "function main(i){return i}"}
	if err := repo.CreateScript(ctx, sc); err != nil {
		t.Fatalf("CreateScript() error: %v", err)
	}
	steps := []StepDefinition{
		{ID: "s1", Type: StepScript, ScriptID: sc.ID, Inputs: map[string]InputValue{
			"apiKey": {Kind: InputCredential, Credential: "missing-cred"},
		}},
	}
	wf := &store.Workflow{OwnerID: "dave", Name: "needs cred", StepsJSON: mustStepsJSON(t, steps), IsActive: true}
	if err := repo.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}

	e := New(repo, sandbox.New(t.TempDir()), &stubVault{values: map[string]string{}}, nil, nil, t.TempDir(), slog.Default())
	res, err := e.Execute(ctx, wf.ID, "dave")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Status != string(store.RunFailed) {
		t.Fatalf("Status = %q, want failed", res.Status)
	}
}

func TestExecuteSkillStepConcatenatesMessageAndFormattedInputs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "erin")

	steps := []StepDefinition{
		{ID: "s1", Type: StepSkill, SkillName: "daily-brief", Inputs: map[string]InputValue{
			"message": {Kind: InputStatic, Static: "Summarize my day"},
			"topic":   {Kind: InputStatic, Static: "weather"},
		}},
	}
	wf := &store.Workflow{OwnerID: "erin", Name: "brief", StepsJSON: mustStepsJSON(t, steps), IsActive: true}
	if err := repo.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}

	caller := &stubSkillCaller{response: "It is sunny."}
	e := New(repo, sandbox.New(t.TempDir()), &stubVault{}, caller, nil, t.TempDir(), slog.Default())
	res, err := e.Execute(ctx, wf.ID, "erin")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Status != string(store.RunCompleted) {
		t.Fatalf("Status = %q, want completed: %+v", res.Status, res)
	}
	if caller.lastMessage != "Summarize my day\ntopic: weather" {
		t.Errorf("lastMessage = %q", caller.lastMessage)
	}
	out := res.Steps[0].Output.(map[string]any)
	if out["response"] != "It is sunny." {
		t.Errorf("response = %v, want It is sunny.", out["response"])
	}
}

func TestExecuteNotifyStepResolvesChannelIdentityAndDualPersists(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "frank")
	repo.GetOrCreateUser(ctx, "grace")
	if _, err := repo.CreateChannelIdentity(ctx, "grace", "telegram", "12345"); err != nil {
		t.Fatalf("CreateChannelIdentity() error: %v", err)
	}

	steps := []StepDefinition{
		{ID: "s1", Type: StepNotify, Channel: "telegram", Inputs: map[string]InputValue{
			"message": {Kind: InputStatic, Static: "reminder fired"},
		}},
	}
	wf := &store.Workflow{OwnerID: "frank", Name: "ping grace", StepsJSON: mustStepsJSON(t, steps), IsActive: true}
	if err := repo.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}

	notifier := &stubNotifier{}
	e := New(repo, sandbox.New(t.TempDir()), &stubVault{}, nil, notifier, t.TempDir(), slog.Default())
	res, err := e.Execute(ctx, wf.ID, "frank")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if res.Status != string(store.RunCompleted) {
		t.Fatalf("Status = %q, want completed: %+v", res.Status, res)
	}
	if len(notifier.to) != 1 || notifier.to[0] != "grace" {
		t.Fatalf("notifier.to = %v, want [grace]", notifier.to)
	}

	frankConv, err := repo.GetMostRecentConversation(ctx, "frank")
	if err != nil {
		t.Fatalf("GetMostRecentConversation(frank) error: %v", err)
	}
	graceConv, err := repo.GetMostRecentConversation(ctx, "grace")
	if err != nil {
		t.Fatalf("GetMostRecentConversation(grace) error: %v", err)
	}
	for _, conv := range []*store.Conversation{frankConv, graceConv} {
		msgs, err := repo.ListMessages(ctx, conv.ID, 10)
		if err != nil {
			t.Fatalf("ListMessages() error: %v", err)
		}
		if len(msgs) != 1 || msgs[0].Content != "reminder fired" {
			t.Fatalf("conversation %s messages = %+v, want [reminder fired]", conv.ID, msgs)
		}
	}
}

func TestInterpolateRendersArrayOfObjectsItemized(t *testing.T) {
	outputs := map[string]any{
		"s1": map[string]any{
			"articles": []any{
				map[string]any{"title": "A", "source": "x"},
				map[string]any{"title": "B", "source": "y"},
			},
		},
	}
	got := interpolate("Headlines:\n${steps.s1.articles}", outputs)
	want := "Headlines:\n[0] source: x, title: A\n[1] source: y, title: B"
	if got != want {
		t.Errorf("interpolate() = %q, want %q", got, want)
	}
}

func TestInterpolateLeavesUnresolvedReferenceVerbatim(t *testing.T) {
	got := interpolate("value: ${steps.missing.field}", map[string]any{})
	if got != "value: ${steps.missing.field}" {
		t.Errorf("interpolate() = %q, want unchanged", got)
	}
}

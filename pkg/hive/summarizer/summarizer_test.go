package summarizer

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/executor"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
)

type scriptedProvider struct {
	response *llm.Response
	lastReq  llm.Request
}

func (s *scriptedProvider) Route(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not used")
}

func (s *scriptedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.lastReq = req
	return s.response, nil
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

func seedMessages(t *testing.T, repo store.Store, convID string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		if _, err := repo.AppendMessage(ctx, convID, role, "turn"); err != nil {
			t.Fatalf("AppendMessage() error: %v", err)
		}
	}
}

func TestSummarizeSkipsBelowThreshold(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "alice")
	conv, err := repo.CreateConversation(ctx, "alice")
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	seedMessages(t, repo, conv.ID, 19)

	p := &scriptedProvider{response: &llm.Response{Content: "should not be called"}}
	s := New(executor.New(p), "claude-haiku", repo, slog.Default())
	if err := s.Summarize(ctx, conv.ID); err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}

	got, err := repo.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if got.Summary != "" {
		t.Errorf("Summary = %q, want empty below threshold", got.Summary)
	}
}

func TestSummarizeCondensesAtThresholdAndPersists(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "bob")
	conv, err := repo.CreateConversation(ctx, "bob")
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	seedMessages(t, repo, conv.ID, 20)

	p := &scriptedProvider{response: &llm.Response{
		Content:    "Bob discussed several topics and no action items remain.",
		StopReason: llm.StopEndTurn,
		Usage:      llm.Usage{InputTokens: 40, OutputTokens: 12},
	}}
	s := New(executor.New(p), "claude-haiku", repo, slog.Default())
	if err := s.Summarize(ctx, conv.ID); err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}

	got, err := repo.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if got.Summary != "Bob discussed several topics and no action items remain." {
		t.Errorf("Summary = %q, not persisted as expected", got.Summary)
	}
	if p.lastReq.MaxTokens != maxSummaryTokens {
		t.Errorf("MaxTokens = %d, want %d", p.lastReq.MaxTokens, maxSummaryTokens)
	}
	if p.lastReq.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", p.lastReq.Temperature)
	}
}

func TestSummarizeReusesPriorSummaryAsContext(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "carol")
	conv, err := repo.CreateConversation(ctx, "carol")
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	if err := repo.UpdateConversationSummary(ctx, conv.ID, "prior summary text"); err != nil {
		t.Fatalf("UpdateConversationSummary() error: %v", err)
	}
	seedMessages(t, repo, conv.ID, 20)

	p := &scriptedProvider{response: &llm.Response{Content: "new summary", StopReason: llm.StopEndTurn}}
	s := New(executor.New(p), "claude-haiku", repo, slog.Default())
	if err := s.Summarize(ctx, conv.ID); err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if p.lastReq.Messages[0].Content == "" {
		t.Fatalf("expected a non-empty summarization prompt")
	}
	wantPrefix := "Previous context: prior summary text"
	got := p.lastReq.Messages[0].Content
	if len(got) < len(wantPrefix) || got[:len(wantPrefix)] != wantPrefix {
		t.Errorf("prompt = %q, want prefix %q", got, wantPrefix)
	}
}

func TestTriggerAsyncPersistsEventually(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "dave")
	conv, err := repo.CreateConversation(ctx, "dave")
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}
	seedMessages(t, repo, conv.ID, 20)

	p := &scriptedProvider{response: &llm.Response{Content: "async summary", StopReason: llm.StopEndTurn}}
	s := New(executor.New(p), "claude-haiku", repo, slog.Default())
	s.TriggerAsync(conv.ID)

	deadline := time.Now().Add(2 * time.Second)
	var got *store.Conversation
	for time.Now().Before(deadline) {
		var err error
		got, err = repo.GetConversation(ctx, conv.ID)
		if err != nil {
			t.Fatalf("GetConversation() error: %v", err)
		}
		if got.Summary != "" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got.Summary != "async summary" {
		t.Errorf("Summary = %q, want %q", got.Summary, "async summary")
	}
}

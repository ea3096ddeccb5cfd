package tools

import (
	"context"
	"path/filepath"
	"testing"

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

func TestManageRemindersAddListCompleteRemove(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	if _, err := repo.GetOrCreateUser(ctx, "alice"); err != nil {
		t.Fatalf("GetOrCreateUser() error: %v", err)
	}
	tool := ManageRemindersTool("alice", repo)

	addResult, err := tool.Handler(ctx, map[string]any{"action": "add", "text": "call mom"})
	if err != nil {
		t.Fatalf("add error: %v", err)
	}
	id := addResult.(map[string]any)["id"].(string)

	listResult, err := tool.Handler(ctx, map[string]any{"action": "list"})
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	reminders := listResult.(map[string]any)["reminders"].([]map[string]any)
	if len(reminders) != 1 {
		t.Fatalf("len(reminders) = %d, want 1", len(reminders))
	}

	if _, err := tool.Handler(ctx, map[string]any{"action": "complete", "id": id}); err != nil {
		t.Fatalf("complete error: %v", err)
	}
	if _, err := tool.Handler(ctx, map[string]any{"action": "remove", "id": id}); err != nil {
		t.Fatalf("remove error: %v", err)
	}
}

func TestManageRemindersSetDueRequiresValidISODate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "alice")
	tool := ManageRemindersTool("alice", repo)

	_, err := tool.Handler(ctx, map[string]any{"action": "set_due", "id": "missing", "due_at": "not-a-date"})
	if err == nil {
		t.Fatalf("expected error for malformed due_at")
	}
}

func TestManageRemindersRejectsUnknownAction(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.GetOrCreateUser(ctx, "alice")
	tool := ManageRemindersTool("alice", repo)

	_, err := tool.Handler(ctx, map[string]any{"action": "teleport"})
	if err == nil {
		t.Fatalf("expected error for unknown action")
	}
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1, err := s.GetOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser() error: %v", err)
	}
	u2, err := s.GetOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser() second call error: %v", err)
	}
	if u1.ID != u2.ID || u1.CreatedAt != u2.CreatedAt {
		t.Errorf("expected idempotent user, got %+v and %+v", u1, u2)
	}
}

func TestConversationAndMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetOrCreateUser(ctx, "bob"); err != nil {
		t.Fatalf("GetOrCreateUser() error: %v", err)
	}
	conv, err := s.CreateConversation(ctx, "bob")
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}

	if _, err := s.AppendMessage(ctx, conv.ID, RoleUser, "hello"); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}
	if _, err := s.AppendMessage(ctx, conv.ID, RoleAssistant, "hi there"); err != nil {
		t.Fatalf("AppendMessage() error: %v", err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("ListMessages() error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("messages out of ingestion order: %+v", msgs)
	}

	count, err := s.CountMessages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("CountMessages() error: %v", err)
	}
	if count != 2 {
		t.Errorf("CountMessages() = %d, want 2", count)
	}

	recent, err := s.GetMostRecentConversation(ctx, "bob")
	if err != nil {
		t.Fatalf("GetMostRecentConversation() error: %v", err)
	}
	if recent.ID != conv.ID {
		t.Errorf("GetMostRecentConversation() = %s, want %s", recent.ID, conv.ID)
	}
}

func TestReminderNotifiedIsExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetOrCreateUser(ctx, "carol"); err != nil {
		t.Fatalf("GetOrCreateUser() error: %v", err)
	}
	r, err := s.AddReminder(ctx, "carol", "water the plants")
	if err != nil {
		t.Fatalf("AddReminder() error: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	if err := s.SetReminderDue(ctx, "carol", r.ID, &past); err != nil {
		t.Fatalf("SetReminderDue() error: %v", err)
	}

	due, err := s.DueUnnotifiedReminders(ctx)
	if err != nil {
		t.Fatalf("DueUnnotifiedReminders() error: %v", err)
	}
	if len(due) != 1 || due[0].ID != r.ID {
		t.Fatalf("DueUnnotifiedReminders() = %+v, want [%s]", due, r.ID)
	}

	first, err := s.MarkReminderNotified(ctx, r.ID)
	if err != nil {
		t.Fatalf("MarkReminderNotified() error: %v", err)
	}
	if !first {
		t.Fatalf("first MarkReminderNotified() = false, want true")
	}
	second, err := s.MarkReminderNotified(ctx, r.ID)
	if err != nil {
		t.Fatalf("MarkReminderNotified() second call error: %v", err)
	}
	if second {
		t.Fatalf("second MarkReminderNotified() = true, want false (already notified)")
	}
}

func TestCredentialNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.GetCredentialByName(ctx, "dave", "brevo"); err == nil {
		t.Fatalf("expected NotFound error for missing credential")
	}
}

func TestFindWorkflowByExactNameRespectsActiveState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetOrCreateUser(ctx, "hank"); err != nil {
		t.Fatalf("GetOrCreateUser() error: %v", err)
	}
	wf := &Workflow{OwnerID: "hank", Name: "Nightly Backup", StepsJSON: "[]", IsActive: false}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}

	if _, err := s.FindActiveWorkflowByExactName(ctx, "hank", "nightly backup"); err == nil {
		t.Fatal("expected FindActiveWorkflowByExactName to miss an inactive workflow")
	}
	got, err := s.FindInactiveWorkflowByExactName(ctx, "hank", "nightly backup")
	if err != nil {
		t.Fatalf("FindInactiveWorkflowByExactName() error: %v", err)
	}
	if got.ID != wf.ID {
		t.Fatalf("got id %q, want %q", got.ID, wf.ID)
	}

	wf.IsActive = true
	if err := s.UpdateWorkflow(ctx, wf); err != nil {
		t.Fatalf("UpdateWorkflow() error: %v", err)
	}
	if _, err := s.FindInactiveWorkflowByExactName(ctx, "hank", "nightly backup"); err == nil {
		t.Fatal("expected FindInactiveWorkflowByExactName to miss a now-active workflow")
	}
	got2, err := s.FindActiveWorkflowByExactName(ctx, "hank", "nightly backup")
	if err != nil {
		t.Fatalf("FindActiveWorkflowByExactName() error: %v", err)
	}
	if got2.ID != wf.ID {
		t.Fatalf("got id %q, want %q", got2.ID, wf.ID)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetOrCreateUser(ctx, "erin"); err != nil {
		t.Fatalf("GetOrCreateUser() error: %v", err)
	}
	wf := &Workflow{OwnerID: "erin", Name: "daily digest", StepsJSON: "[]"}
	if err := s.CreateWorkflow(ctx, wf); err != nil {
		t.Fatalf("CreateWorkflow() error: %v", err)
	}
	sc := &Schedule{OwnerID: "erin", WorkflowID: wf.ID, CronExpression: "0 9 * * *", Timezone: "UTC"}
	if err := s.CreateSchedule(ctx, sc); err != nil {
		t.Fatalf("CreateSchedule() error: %v", err)
	}

	active, err := s.ListActiveSchedules(ctx)
	if err != nil {
		t.Fatalf("ListActiveSchedules() error: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("len(active) = %d, want 1", len(active))
	}

	now := time.Now().UTC()
	next := now.Add(24 * time.Hour)
	if err := s.UpdateScheduleTick(ctx, sc.ID, &now, &next); err != nil {
		t.Fatalf("UpdateScheduleTick() error: %v", err)
	}

	if err := s.RemoveSchedule(ctx, sc.ID); err != nil {
		t.Fatalf("RemoveSchedule() error: %v", err)
	}
	active, err = s.ListActiveSchedules(ctx)
	if err != nil {
		t.Fatalf("ListActiveSchedules() error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("len(active) after remove = %d, want 0", len(active))
	}
}

func TestScriptLookupFallsBackFromOwnedToShared(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.GetOrCreateUser(ctx, "frank")

	shared := &Script{OwnerID: SystemUserID, Name: "greet", Source: "function main(i){return {ok:true}}", IsShared: true}
	if err := s.CreateScript(ctx, shared); err != nil {
		t.Fatalf("CreateScript() error: %v", err)
	}

	sc, err := s.FindScriptByName(ctx, "frank", "greet")
	if err != nil {
		t.Fatalf("FindScriptByName() error: %v", err)
	}
	if sc.ID != shared.ID {
		t.Fatalf("expected fallback to shared script, got %+v", sc)
	}

	own := &Script{OwnerID: "frank", Name: "greet", Source: "function main(i){return {mine:true}}"}
	if err := s.CreateScript(ctx, own); err != nil {
		t.Fatalf("CreateScript() error: %v", err)
	}
	sc, err = s.FindScriptByName(ctx, "frank", "greet")
	if err != nil {
		t.Fatalf("FindScriptByName() error: %v", err)
	}
	if sc.ID != own.ID {
		t.Fatalf("expected owned script to take precedence, got %+v", sc)
	}
}

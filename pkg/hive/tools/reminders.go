package tools

import (
	"context"
	"time"

	"github.com/marcsjourneys/hive-assistant/pkg/hive/apperr"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/executor"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/llm"
	"github.com/marcsjourneys/hive-assistant/pkg/hive/store"
)

type manageRemindersInput struct {
	Action string `json:"action"` // add | list | complete | remove | set_due
	ID     string `json:"id"`
	Text   string `json:"text"`
	DueAt  string `json:"due_at"` // ISO-8601
}

// ManageRemindersTool returns the user-scoped manage_reminders tool, bound
// to one user's id and repository for the duration of one Gateway turn.
func ManageRemindersTool(userID string, repo store.Store) executor.Tool {
	return executor.Tool{
		Definition: llm.ToolDefinition{
			Name:        "manage_reminders",
			Description: "Add, list, complete, remove, or reschedule the caller's reminders.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"action": map[string]any{"type": "string", "enum": []string{"add", "list", "complete", "remove", "set_due"}},
					"id":     map[string]any{"type": "string"},
					"text":   map[string]any{"type": "string"},
					"due_at": map[string]any{"type": "string", "description": "ISO-8601 timestamp"},
				},
				"required": []string{"action"},
			},
		},
		Handler: func(ctx context.Context, raw map[string]any) (any, error) {
			var in manageRemindersInput
			if err := decodeInput(raw, &in); err != nil {
				return nil, err
			}
			switch in.Action {
			case "add":
				if in.Text == "" {
					return nil, apperr.New(apperr.Validation, "manage_reminders add requires text")
				}
				r, err := repo.AddReminder(ctx, userID, in.Text)
				if err != nil {
					return nil, err
				}
				if in.DueAt != "" {
					due, err := time.Parse(time.RFC3339, in.DueAt)
					if err != nil {
						return nil, apperr.Wrap(apperr.Validation, "parsing due_at", err)
					}
					if err := repo.SetReminderDue(ctx, userID, r.ID, &due); err != nil {
						return nil, err
					}
					r.DueAt = &due
				}
				return reminderView(r), nil

			case "list":
				rs, err := repo.ListReminders(ctx, userID, false)
				if err != nil {
					return nil, err
				}
				views := make([]map[string]any, 0, len(rs))
				for _, r := range rs {
					views = append(views, reminderView(r))
				}
				return map[string]any{"reminders": views}, nil

			case "complete":
				if in.ID == "" {
					return nil, apperr.New(apperr.Validation, "manage_reminders complete requires id")
				}
				if err := repo.CompleteReminder(ctx, userID, in.ID); err != nil {
					return nil, err
				}
				return map[string]any{"status": "completed", "id": in.ID}, nil

			case "remove":
				if in.ID == "" {
					return nil, apperr.New(apperr.Validation, "manage_reminders remove requires id")
				}
				if err := repo.RemoveReminder(ctx, userID, in.ID); err != nil {
					return nil, err
				}
				return map[string]any{"status": "removed", "id": in.ID}, nil

			case "set_due":
				if in.ID == "" || in.DueAt == "" {
					return nil, apperr.New(apperr.Validation, "manage_reminders set_due requires id and due_at")
				}
				due, err := time.Parse(time.RFC3339, in.DueAt)
				if err != nil {
					return nil, apperr.Wrap(apperr.Validation, "parsing due_at", err)
				}
				if err := repo.SetReminderDue(ctx, userID, in.ID, &due); err != nil {
					return nil, err
				}
				return map[string]any{"status": "updated", "id": in.ID, "due_at": due.Format(time.RFC3339)}, nil

			default:
				return nil, apperr.Newf(apperr.Validation, "unknown manage_reminders action %q", in.Action)
			}
		},
	}
}

func reminderView(r *store.Reminder) map[string]any {
	v := map[string]any{"id": r.ID, "text": r.Text, "is_complete": r.IsComplete}
	if r.DueAt != nil {
		v["due_at"] = r.DueAt.Format(time.RFC3339)
	}
	return v
}

package store

import (
	"context"
	"time"
)

// Store is the typed repository every other component depends on. Both
// backends (sqlite, postgres) implement it identically; callers never see
// which one is active.
type Store interface {
	// Users and channel identities.
	GetOrCreateUser(ctx context.Context, id string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	ResolveChannelIdentity(ctx context.Context, channel, channelUserID string) (*ChannelIdentity, error)
	CreateChannelIdentity(ctx context.Context, ownerID, channel, channelUserID string) (*ChannelIdentity, error)
	ListChannelIdentities(ctx context.Context, ownerID string) ([]*ChannelIdentity, error)

	// Conversations and messages.
	GetMostRecentConversation(ctx context.Context, userID string) (*Conversation, error)
	CreateConversation(ctx context.Context, userID string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversationSummary(ctx context.Context, id, summary string) error
	AppendMessage(ctx context.Context, conversationID string, role MessageRole, content string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	CountMessages(ctx context.Context, conversationID string) (int, error)

	// Usage.
	LogUsage(ctx context.Context, userID, model string, tokensIn, tokensOut int, costCents float64) error

	// Skills.
	GetSkillByName(ctx context.Context, ownerID, name string) (*Skill, error)
	GetSharedSkillByName(ctx context.Context, name string) (*Skill, error)
	CreateSkill(ctx context.Context, s *Skill) error
	ListSkills(ctx context.Context, ownerID string) ([]*Skill, error)

	// Scripts.
	GetScript(ctx context.Context, id string) (*Script, error)
	FindScriptByName(ctx context.Context, ownerID, name string) (*Script, error)
	CreateScript(ctx context.Context, sc *Script) error
	ListScripts(ctx context.Context, ownerID string) ([]*Script, error)

	// Reminders.
	AddReminder(ctx context.Context, userID, text string) (*Reminder, error)
	ListReminders(ctx context.Context, userID string, includeComplete bool) ([]*Reminder, error)
	CompleteReminder(ctx context.Context, userID, id string) error
	RemoveReminder(ctx context.Context, userID, id string) error
	SetReminderDue(ctx context.Context, userID, id string, dueAt *time.Time) error
	DueUnnotifiedReminders(ctx context.Context) ([]*Reminder, error)
	MarkReminderNotified(ctx context.Context, id string) (bool, error)

	// Workflows and runs.
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListActiveWorkflows(ctx context.Context, ownerID string) ([]*Workflow, error)
	FindActiveWorkflowByExactName(ctx context.Context, ownerID, name string) (*Workflow, error)
	FindInactiveWorkflowByExactName(ctx context.Context, ownerID, name string) (*Workflow, error)
	CreateWorkflow(ctx context.Context, w *Workflow) error
	UpdateWorkflow(ctx context.Context, w *Workflow) error
	CreateWorkflowRun(ctx context.Context, workflowID, ownerID string) (*WorkflowRun, error)
	UpdateWorkflowRun(ctx context.Context, run *WorkflowRun) error

	// Schedules.
	ListActiveSchedules(ctx context.Context) ([]*Schedule, error)
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	CreateSchedule(ctx context.Context, s *Schedule) error
	UpdateScheduleTick(ctx context.Context, id string, lastRunAt, nextRunAt *time.Time) error
	RemoveSchedule(ctx context.Context, id string) error

	// Credentials.
	CreateCredential(ctx context.Context, c *UserCredential) error
	GetCredentialByName(ctx context.Context, ownerID, name string) (*UserCredential, error)
	ListCredentials(ctx context.Context, ownerID string) ([]*UserCredential, error)
	DeleteCredential(ctx context.Context, ownerID, id string) error

	// Files.
	UpsertFileMetadata(ctx context.Context, f *FileMetadata) error
	GetFileMetadata(ctx context.Context, userID, filename string) (*FileMetadata, error)
	ListFileMetadata(ctx context.Context, userID string) ([]*FileMetadata, error)

	// Debug log.
	AppendDebugLog(ctx context.Context, userID, conversationID, payload string) error

	Close() error
}

// Package store implements the typed persistence repository (C1): users,
// conversations, messages, usage logs, skills, reminders, workflows, runs,
// schedules, credentials, channel identities, file metadata and debug logs.
// It is grounded on the session/usage persistence shape of
// pkg/goclaw/copilot/assistant.go, generalized into a backend-agnostic
// repository interface with two interchangeable SQL backends (sqlite,
// postgres via pgx).
package store

import "time"

// SystemUserID is the distinguished user that owns built-in scripts and
// shared templates.
const SystemUserID = "system"

// MessageRole is the role of a persisted Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// WorkflowRunStatus is the lifecycle state of a WorkflowRun.
type WorkflowRunStatus string

const (
	RunRunning   WorkflowRunStatus = "running"
	RunCompleted WorkflowRunStatus = "completed"
	RunFailed    WorkflowRunStatus = "failed"
)

// User is a resolved owner of every other entity in the system.
type User struct {
	ID        string
	Email     string
	ConfigBag string // opaque JSON config bag
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation belongs to exactly one user.
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is an immutable, append-only turn in a conversation.
type Message struct {
	ID             string
	ConversationID string
	Role           MessageRole
	Content        string
	CreatedAt      time.Time
}

// UsageLog is a write-only audit record of one Executor call.
type UsageLog struct {
	ID        string
	UserID    string
	Model     string
	TokensIn  int
	TokensOut int
	CostCents float64
	CreatedAt time.Time
}

// Skill is a named prompt fragment, owned by a user or shared globally.
type Skill struct {
	ID          string
	OwnerID     string // empty for filesystem-resolved skills not backed by a row
	Name        string
	Description string
	Content     string
	IsShared    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Script is a named, stored ECMAScript program runnable via the Script
// Runner, owned by a user or shared globally (by convention, owned by
// SystemUserID).
type Script struct {
	ID        string
	OwnerID   string
	Name      string
	Source    string
	IsShared  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Reminder belongs to one user.
type Reminder struct {
	ID          string
	UserID      string
	Text        string
	IsComplete  bool
	CreatedAt   time.Time
	CompletedAt *time.Time
	DueAt       *time.Time
	NotifiedAt  *time.Time
}

// Workflow is an ordered, serialized list of StepDefinitions.
type Workflow struct {
	ID        string
	OwnerID   string
	Name      string
	StepsJSON string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkflowRun is one execution of a Workflow.
type WorkflowRun struct {
	ID              string
	WorkflowID      string
	OwnerID         string
	Status          WorkflowRunStatus
	StepsResultJSON string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Error           string
}

// Schedule binds a cron expression + timezone to a workflow.
type Schedule struct {
	ID             string
	OwnerID        string
	WorkflowID     string
	CronExpression string
	Timezone       string
	IsActive       bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
}

// UserCredential is a named, encrypted secret belonging to one user.
type UserCredential struct {
	ID             string
	OwnerID        string
	Name           string
	Service        string
	EncryptedValue string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChannelIdentity maps an external handle to an owning user.
type ChannelIdentity struct {
	ID            string
	OwnerID       string
	Channel       string
	ChannelUserID string
}

// FileMetadata tracks a user's uploaded files.
type FileMetadata struct {
	UserID         string
	Filename       string
	Tracked        bool
	LastUploadedAt time.Time
}

// DebugLog is an optional capture of one Gateway turn.
type DebugLog struct {
	ID             string
	UserID         string
	ConversationID string
	Payload        string // opaque JSON
	CreatedAt      time.Time
}

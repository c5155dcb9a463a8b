package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned when a caller passes a value the store
	// cannot accept (non-positive limit, unknown kind, out-of-range score).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState is returned when a lifecycle transition is not allowed
	// from the record's current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrDecode is returned when a stored preference does not match its declared type.
	ErrDecode = errors.New("decode failure")

	// ErrBackup wraps any I/O failure while snapshotting the store file.
	ErrBackup = errors.New("backup failed")

	// ErrInit wraps failures that leave the store unusable at startup.
	ErrInit = errors.New("store initialization failed")
)

// InteractionKind tags how the assistant answered a turn.
type InteractionKind string

const (
	KindCommand InteractionKind = "command"
	KindAI      InteractionKind = "ai"
)

// Valid reports whether k is one of the known kinds.
func (k InteractionKind) Valid() bool {
	return k == KindCommand || k == KindAI
}

type Session struct {
	ID                int64      `json:"id"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	TotalInteractions int        `json:"total_interactions"`
	TotalCommands     int        `json:"total_commands"`
	TotalAIResponses  int        `json:"total_ai_responses"`
	AverageDuration   *float64   `json:"average_duration,omitempty"`
}

// SessionStats are the summary counters written once when a session ends.
type SessionStats struct {
	TotalInteractions int     `json:"total_interactions"`
	TotalCommands     int     `json:"total_commands"`
	TotalAIResponses  int     `json:"total_ai_responses"`
	AverageDuration   float64 `json:"average_duration"`
}

type Interaction struct {
	ID        int64           `json:"id"`
	SessionID int64           `json:"session_id"`
	Timestamp time.Time       `json:"timestamp"`
	UserInput string          `json:"user_input"`
	Response  string          `json:"response"`
	Kind      InteractionKind `json:"kind"`
	Duration  *float64        `json:"duration,omitempty"`
	ModelID   *string         `json:"model_id,omitempty"` // only set for KindAI
}

type CommandRecord struct {
	ID            int64     `json:"id"`
	InteractionID int64     `json:"interaction_id"`
	Timestamp     time.Time `json:"timestamp"`
	Keyword       string    `json:"keyword"`
	ActionType    string    `json:"action_type"`
	Result        string    `json:"result"`
	Success       bool      `json:"success"`
}

// CommandUsage is one row of the most-used-commands report.
type CommandUsage struct {
	Keyword    string    `json:"keyword"`
	UsageCount int       `json:"usage_count"`
	LastUsed   time.Time `json:"last_used"`
}

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderCompleted ReminderStatus = "completed"
	ReminderCancelled ReminderStatus = "cancelled"
)

type Reminder struct {
	ID            int64          `json:"id"`
	Task          string         `json:"task"`
	ScheduledTime *time.Time     `json:"scheduled_time,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"` // set iff Status == ReminderCompleted
	Status        ReminderStatus `json:"status"`
	Priority      int            `json:"priority"`
	Notes         *string        `json:"notes,omitempty"`
}

// ContextEntry is a distilled snippet kept for keyword retrieval.
type ContextEntry struct {
	ID            int64     `json:"id"`
	InteractionID *int64    `json:"interaction_id,omitempty"`
	Content       string    `json:"content"`
	Keywords      []string  `json:"keywords"`
	Importance    float64   `json:"importance"`
	Timestamp     time.Time `json:"timestamp"`
}

// UsageBucket is the hourly rollup for one (date, hour) pair.
type UsageBucket struct {
	Date             string  `json:"date"` // YYYY-MM-DD in the store clock's location
	Hour             int     `json:"hour"`
	InteractionCount int     `json:"interaction_count"`
	CommandCount     int     `json:"command_count"`
	AICount          int     `json:"ai_count"`
	AvgDuration      float64 `json:"avg_duration"`
}

// UsageSummary aggregates interactions over a trailing window.
type UsageSummary struct {
	TotalInteractions int        `json:"total_interactions"`
	Commands          int        `json:"commands"`
	AIResponses       int        `json:"ai_responses"`
	AvgDuration       *float64   `json:"avg_duration,omitempty"`
	FirstInteraction  *time.Time `json:"first_interaction,omitempty"`
	LastInteraction   *time.Time `json:"last_interaction,omitempty"`
}

type ErrorRecord struct {
	ID         int64     `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	ErrorType  string    `json:"error_type"`
	Message    string    `json:"message"`
	Module     *string   `json:"module,omitempty"`
	StackTrace *string   `json:"stack_trace,omitempty"`
	Resolved   bool      `json:"resolved"`
}

// ModelLoad records one load of a speech or language model.
type ModelLoad struct {
	ID            int64     `json:"id"`
	ModelType     string    `json:"model_type"` // e.g. "whisper", "ollama"
	ModelName     string    `json:"model_name"`
	LoadedAt      time.Time `json:"loaded_at"`
	LoadTime      *float64  `json:"load_time,omitempty"`
	Configuration string    `json:"configuration"` // JSON document stored as text
}

package assistant

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/jarvis/internal/retrieval"
	"github.com/kalambet/jarvis/internal/storage"
)

// Store defines the storage operations a Recorder needs.
// Implemented by storage.Store.
type Store interface {
	CreateSession() (int64, error)
	EndSession(id int64, stats storage.SessionStats) error
	SaveInteraction(sessionID int64, userInput, response string, kind storage.InteractionKind, duration *float64, modelID *string) (int64, error)
	SaveCommand(interactionID int64, keyword, actionType, result string, success bool) (int64, error)
	SaveContext(interactionID *int64, content string, keywords []string, importance float64) (int64, error)
	CreateReminder(task string, scheduled *time.Time, priority int, notes *string) (int64, error)
	RecordModelLoad(modelType, modelName string, loadTime *float64, configuration any) (int64, error)
	LogError(errType, message string, module, stackTrace *string) (int64, error)
	Backup(targetDir string) (string, error)
	PruneBackups(dir string, maxCount int) ([]string, error)
}

// detectedReminderPriority is the priority given to reminders picked up
// from conversation.
const detectedReminderPriority = 1

var reminderTriggers = []string{"recuérdame", "recordatorio", "no olvides", "tengo que"}

// DetectReminder reports whether the user asked to be reminded of something.
func DetectReminder(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range reminderTriggers {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// CommandOutcome describes what a command turn did.
type CommandOutcome struct {
	Keyword    string
	ActionType string
	Result     string
	Success    bool
}

// Turn is one completed exchange ready to be persisted.
type Turn struct {
	UserInput string
	Response  string
	Kind      storage.InteractionKind
	Duration  time.Duration
	ModelID   string          // ai turns only
	Command   *CommandOutcome // command turns only
}

// TurnResult lists the rows written for a turn.
type TurnResult struct {
	InteractionID int64
	CommandID     *int64
	ContextID     *int64
	ReminderID    *int64
}

// Recorder owns one session: it opens it, persists each turn with its side
// records, and closes it with the counters it kept along the way.
type Recorder struct {
	store    Store
	model    string
	loadTime *float64
	logger   *slog.Logger

	mu          sync.Mutex
	sessionID   int64
	started     bool
	closed      bool
	stats       storage.SessionStats
	durationSum float64
}

// NewRecorder creates a Recorder for the given language model name.
func NewRecorder(store Store, model string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, model: model, logger: logger}
}

// SetModelLoadTime sets the load time recorded with the model at Start.
func (r *Recorder) SetModelLoadTime(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	secs := d.Seconds()
	r.loadTime = &secs
}

// Start opens the session and records the model load. A failed model
// history write is logged and does not prevent the session from starting.
func (r *Recorder) Start() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return 0, fmt.Errorf("session %d already started: %w", r.sessionID, storage.ErrInvalidState)
	}

	id, err := r.store.CreateSession()
	if err != nil {
		return 0, fmt.Errorf("starting session: %w", err)
	}
	r.sessionID = id
	r.started = true

	if r.model != "" {
		if _, err := r.store.RecordModelLoad("llm", r.model, r.loadTime, map[string]string{"model": r.model}); err != nil {
			r.logger.Warn("could not record model load", "model", r.model, "error", err)
		}
	}
	r.logger.Info("session started", "session_id", id, "model", r.model)
	return id, nil
}

// SessionID returns the id of the open session, or 0 before Start.
func (r *Recorder) SessionID() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// Stats returns the counters accumulated so far.
func (r *Recorder) Stats() storage.SessionStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

func (r *Recorder) statsLocked() storage.SessionStats {
	s := r.stats
	if s.TotalInteractions > 0 {
		s.AverageDuration = r.durationSum / float64(s.TotalInteractions)
	}
	return s
}

// RecordTurn persists a turn: the interaction, its command record, a context
// entry for substantial ai answers, and a reminder when the user asked for
// one. The interaction write is the only one whose failure discards the turn;
// the side records are attempted in order and the first failure is returned
// with the partial result.
func (r *Recorder) RecordTurn(t Turn) (TurnResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.closed {
		return TurnResult{}, fmt.Errorf("no open session: %w", storage.ErrInvalidState)
	}

	secs := t.Duration.Seconds()
	var model *string
	if t.Kind == storage.KindAI && t.ModelID != "" {
		model = &t.ModelID
	}

	iid, err := r.store.SaveInteraction(r.sessionID, t.UserInput, t.Response, t.Kind, &secs, model)
	if err != nil {
		return TurnResult{}, fmt.Errorf("saving interaction: %w", err)
	}
	res := TurnResult{InteractionID: iid}

	r.stats.TotalInteractions++
	r.durationSum += secs
	if t.Kind == storage.KindCommand {
		r.stats.TotalCommands++
	} else {
		r.stats.TotalAIResponses++
	}

	if t.Kind == storage.KindCommand && t.Command != nil {
		cid, err := r.store.SaveCommand(iid, t.Command.Keyword, t.Command.ActionType, t.Command.Result, t.Command.Success)
		if err != nil {
			return res, fmt.Errorf("saving command record: %w", err)
		}
		res.CommandID = &cid
	}

	if retrieval.ShouldRemember(t.Kind, t.UserInput) {
		ctxID, err := r.store.SaveContext(&iid,
			retrieval.FormatTurn(t.UserInput, t.Response),
			retrieval.ExtractKeywords(t.UserInput),
			retrieval.Importance(t.Response))
		if err != nil {
			return res, fmt.Errorf("saving context: %w", err)
		}
		res.ContextID = &ctxID
	}

	if DetectReminder(t.UserInput) {
		rid, err := r.store.CreateReminder(t.UserInput, nil, detectedReminderPriority, nil)
		if err != nil {
			return res, fmt.Errorf("saving reminder: %w", err)
		}
		res.ReminderID = &rid
		r.logger.Info("reminder detected", "reminder_id", rid)
	}

	return res, nil
}

// Close ends the session with the accumulated counters. When backupDir is
// set a backup is written, and when maxBackups is positive older backups
// beyond that count are pruned. It returns the backup path, if any.
func (r *Recorder) Close(backupDir string, maxBackups int) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return "", fmt.Errorf("no session to close: %w", storage.ErrInvalidState)
	}
	if r.closed {
		return "", fmt.Errorf("session %d already closed: %w", r.sessionID, storage.ErrInvalidState)
	}

	stats := r.statsLocked()
	if err := r.store.EndSession(r.sessionID, stats); err != nil {
		return "", fmt.Errorf("ending session %d: %w", r.sessionID, err)
	}
	r.closed = true
	r.logger.Info("session ended", "session_id", r.sessionID,
		"interactions", stats.TotalInteractions, "avg_duration", stats.AverageDuration)

	if backupDir == "" {
		return "", nil
	}
	path, err := r.store.Backup(backupDir)
	if err != nil {
		return "", err
	}
	if maxBackups > 0 {
		if _, err := r.store.PruneBackups(backupDir, maxBackups); err != nil {
			return path, err
		}
	}
	return path, nil
}

// LogFailure stores a failed turn as an error record, the way the loop keeps
// going after a bad turn.
func (r *Recorder) LogFailure(module string, err error) {
	if _, logErr := r.store.LogError("InteractionError", err.Error(), &module, nil); logErr != nil {
		r.logger.Error("could not store error record", "error", logErr)
	}
}

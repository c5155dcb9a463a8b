package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const reminderColumns = `reminder_id, task, scheduled_time, created_at, completed_at, status, priority, notes`

// CreateReminder stores a new pending reminder.
func (s *Store) CreateReminder(task string, scheduled *time.Time, priority int, notes *string) (int64, error) {
	if task == "" {
		return 0, fmt.Errorf("%w: empty reminder task", ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO reminders (task, scheduled_time, created_at, status, priority, notes)
		VALUES (?, ?, ?, 'pending', ?, ?)`,
		task, formatNullTime(scheduled), formatTime(s.now()), priority, nullString(notes),
	)
	if err != nil {
		s.recordFailure("reminders", err)
		return 0, fmt.Errorf("creating reminder: %w", err)
	}
	return res.LastInsertId()
}

// CompleteReminder moves a pending reminder to completed and stamps the
// completion time.
func (s *Store) CompleteReminder(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transitionReminder(id, ReminderCompleted,
		`UPDATE reminders SET status = 'completed', completed_at = ? WHERE reminder_id = ? AND status = 'pending'`,
		formatTime(s.now()), id)
}

// CancelReminder moves a pending reminder to cancelled. The completion time
// stays empty.
func (s *Store) CancelReminder(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.transitionReminder(id, ReminderCancelled,
		`UPDATE reminders SET status = 'cancelled' WHERE reminder_id = ? AND status = 'pending'`, id)
}

// transitionReminder runs a guarded pending→target update and classifies a
// zero-row result. Caller must hold s.mu.
func (s *Store) transitionReminder(id int64, target ReminderStatus, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		s.recordFailure("reminders", err)
		return fmt.Errorf("updating reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var status string
	err = s.db.QueryRow(`SELECT status FROM reminders WHERE reminder_id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("reminder %d is %s, cannot become %s: %w", id, status, target, ErrInvalidState)
}

// GetPendingReminders returns pending reminders: scheduled ones first by time,
// then unscheduled ones; equal times by priority, highest first.
func (s *Store) GetPendingReminders() ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT ` + reminderColumns + ` FROM reminders
		WHERE status = 'pending'
		ORDER BY scheduled_time IS NULL, scheduled_time ASC, priority DESC, reminder_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) GetReminder(id int64) (Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := scanReminder(s.db.QueryRow(`SELECT `+reminderColumns+` FROM reminders WHERE reminder_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Reminder{}, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	return r, err
}

// ReminderCounts returns the number of reminders in each status.
func (s *Store) ReminderCounts() (map[ReminderStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM reminders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[ReminderStatus]int{
		ReminderPending:   0,
		ReminderCompleted: 0,
		ReminderCancelled: 0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[ReminderStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanReminder(sc scanner) (Reminder, error) {
	var r Reminder
	var scheduled, completed, notes sql.NullString
	var created, status string
	if err := sc.Scan(&r.ID, &r.Task, &scheduled, &created, &completed, &status, &r.Priority, &notes); err != nil {
		return Reminder{}, err
	}
	var err error
	if r.ScheduledTime, err = parseNullTime(scheduled); err != nil {
		return Reminder{}, err
	}
	if r.CreatedAt, err = parseTime(created); err != nil {
		return Reminder{}, err
	}
	if r.CompletedAt, err = parseNullTime(completed); err != nil {
		return Reminder{}, err
	}
	r.Status = ReminderStatus(status)
	r.Notes = stringPtr(notes)
	return r, nil
}

package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

const sessionColumns = `session_id, start_time, end_time, total_interactions, total_commands, total_ai_responses, average_duration`

// CreateSession opens a new session starting now with zeroed counters.
func (s *Store) CreateSession() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`INSERT INTO sessions (start_time) VALUES (?)`, formatTime(s.now()))
	if err != nil {
		s.recordFailure("sessions", err)
		return 0, fmt.Errorf("creating session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("creating session: %w", err)
	}
	s.logger.Debug("session started", "session_id", id)
	return id, nil
}

// EndSession stamps the end time and writes the summary counters. A session
// can be ended once; a second call returns ErrInvalidState.
func (s *Store) EndSession(id int64, stats SessionStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("ending session %d: %w", id, err)
	}
	defer tx.Rollback()

	var start string
	var end sql.NullString
	err = tx.QueryRow(`SELECT start_time, end_time FROM sessions WHERE session_id = ?`, id).Scan(&start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("ending session %d: %w", id, err)
	}
	if end.Valid {
		return fmt.Errorf("session %d already ended: %w", id, ErrInvalidState)
	}

	startTime, err := parseTime(start)
	if err != nil {
		return err
	}
	endTime := s.now()
	if endTime.Before(startTime) {
		endTime = startTime
	}

	if _, err := tx.Exec(`
		UPDATE sessions
		SET end_time = ?, total_interactions = ?, total_commands = ?, total_ai_responses = ?, average_duration = ?
		WHERE session_id = ?`,
		formatTime(endTime), stats.TotalInteractions, stats.TotalCommands, stats.TotalAIResponses, stats.AverageDuration, id,
	); err != nil {
		tx.Rollback()
		s.recordFailure("sessions", err)
		return fmt.Errorf("ending session %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		s.recordFailure("sessions", err)
		return fmt.Errorf("ending session %d: %w", id, err)
	}
	s.logger.Debug("session ended", "session_id", id, "interactions", stats.TotalInteractions)
	return nil
}

func (s *Store) GetSession(id int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return sess, err
}

// LatestSession returns the most recently started session.
func (s *Store) LatestSession() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT ` + sessionColumns + ` FROM sessions ORDER BY start_time DESC, session_id DESC LIMIT 1`)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("no sessions: %w", ErrNotFound)
	}
	return sess, err
}

// ListSessions returns up to limit sessions, newest first.
func (s *Store) ListSessions(limit int) ([]Session, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions ORDER BY start_time DESC, session_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, sess)
	}
	return results, rows.Err()
}

// CountInteractions returns how many interactions are stored for a session.
func (s *Store) CountInteractions(sessionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func scanSession(sc scanner) (Session, error) {
	var sess Session
	var start string
	var end sql.NullString
	var avg sql.NullFloat64
	if err := sc.Scan(&sess.ID, &start, &end, &sess.TotalInteractions, &sess.TotalCommands, &sess.TotalAIResponses, &avg); err != nil {
		return Session{}, err
	}
	t, err := parseTime(start)
	if err != nil {
		return Session{}, err
	}
	sess.StartTime = t
	if sess.EndTime, err = parseNullTime(end); err != nil {
		return Session{}, err
	}
	sess.AverageDuration = floatPtr(avg)
	return sess, nil
}

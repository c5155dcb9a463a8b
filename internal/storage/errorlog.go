package storage

import (
	"database/sql"
	"fmt"
)

// LogError stores a diagnostic record. Records start unresolved.
func (s *Store) LogError(errType, message string, module, stackTrace *string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO error_logs (timestamp, error_type, error_message, module, stack_trace)
		VALUES (?, ?, ?, ?, ?)`,
		formatTime(s.now()), errType, message, nullString(module), nullString(stackTrace),
	)
	if err != nil {
		s.logger.Error("could not store error record", "type", errType, "error", err)
		return 0, fmt.Errorf("logging error: %w", err)
	}
	return res.LastInsertId()
}

// ListErrors returns up to limit records, newest first.
func (s *Store) ListErrors(unresolvedOnly bool, limit int) ([]ErrorRecord, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT error_id, timestamp, error_type, error_message, module, stack_trace, resolved FROM error_logs`
	if unresolvedOnly {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY timestamp DESC, error_id DESC LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ErrorRecord
	for rows.Next() {
		var e ErrorRecord
		var ts string
		var module, trace sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.ErrorType, &e.Message, &module, &trace, &e.Resolved); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = t
		e.Module = stringPtr(module)
		e.StackTrace = stringPtr(trace)
		results = append(results, e)
	}
	return results, rows.Err()
}

// ResolveError marks a record as resolved.
func (s *Store) ResolveError(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE error_logs SET resolved = 1 WHERE error_id = ?`, id)
	if err != nil {
		return fmt.Errorf("resolving error %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("error record %d: %w", id, ErrNotFound)
	}
	return nil
}

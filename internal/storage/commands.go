package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// SaveCommand records the outcome of a command turn. The referenced
// interaction must exist and have kind command.
func (s *Store) SaveCommand(interactionID int64, keyword, actionType, result string, success bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kind string
	err := s.db.QueryRow(`SELECT response_type FROM interactions WHERE interaction_id = ?`, interactionID).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("interaction %d: %w", interactionID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("saving command: %w", err)
	}
	if InteractionKind(kind) != KindCommand {
		return 0, fmt.Errorf("%w: interaction %d is %q, not a command", ErrInvalidArgument, interactionID, kind)
	}

	res, err := s.db.Exec(`
		INSERT INTO commands (interaction_id, timestamp, command_keyword, action_type, result, success)
		VALUES (?, ?, ?, ?, ?, ?)`,
		interactionID, formatTime(s.now()), keyword, actionType, result, success,
	)
	if err != nil {
		s.recordFailure("commands", err)
		return 0, fmt.Errorf("saving command: %w", err)
	}
	return res.LastInsertId()
}

// MostUsedCommands groups command records by keyword and returns the top
// limit keywords by usage count. Ties keep first-insertion order.
func (s *Store) MostUsedCommands(limit int) ([]CommandUsage, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT command_keyword, COUNT(*) AS usage_count, MAX(timestamp) AS last_used
		FROM commands
		GROUP BY command_keyword
		ORDER BY usage_count DESC, MIN(command_id) ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CommandUsage
	for rows.Next() {
		var u CommandUsage
		var last string
		if err := rows.Scan(&u.Keyword, &u.UsageCount, &last); err != nil {
			return nil, err
		}
		t, err := parseTime(last)
		if err != nil {
			return nil, err
		}
		u.LastUsed = t
		results = append(results, u)
	}
	return results, rows.Err()
}

// CommandsForInteraction returns the command records attached to one interaction.
func (s *Store) CommandsForInteraction(interactionID int64) ([]CommandRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT command_id, interaction_id, timestamp, command_keyword, action_type, COALESCE(result, ''), success
		FROM commands WHERE interaction_id = ? ORDER BY command_id ASC`, interactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CommandRecord
	for rows.Next() {
		var c CommandRecord
		var ts string
		if err := rows.Scan(&c.ID, &c.InteractionID, &ts, &c.Keyword, &c.ActionType, &c.Result, &c.Success); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		c.Timestamp = t
		results = append(results, c)
	}
	return results, rows.Err()
}

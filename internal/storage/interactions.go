package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

const interactionColumns = `interaction_id, session_id, timestamp, user_input, response, response_type, duration, model_used`

// SaveInteraction appends one user turn to a session and folds it into the
// hourly usage bucket. The usage update is secondary: if it fails the
// interaction stays saved and the failure is only logged.
func (s *Store) SaveInteraction(sessionID int64, userInput, response string, kind InteractionKind, duration *float64, modelID *string) (int64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: unknown interaction kind %q", ErrInvalidArgument, kind)
	}
	if modelID != nil && kind != KindAI {
		return 0, fmt.Errorf("%w: model id is only recorded for ai responses", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("saving interaction: %w", err)
	}
	if exists == 0 {
		return 0, fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
	}

	res, err := s.db.Exec(`
		INSERT INTO interactions (session_id, timestamp, user_input, response, response_type, duration, model_used)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, formatTime(s.now()), userInput, response, string(kind), nullFloat(duration), nullString(modelID),
	)
	if err != nil {
		s.recordFailure("interactions", err)
		return 0, fmt.Errorf("saving interaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("saving interaction: %w", err)
	}

	if err := s.recordUsage(kind, duration); err != nil {
		s.recordFailure("usage_stats", err)
	}
	return id, nil
}

func (s *Store) GetInteraction(id int64) (Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE interaction_id = ?`, id)
	i, err := scanInteraction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, fmt.Errorf("interaction %d: %w", id, ErrNotFound)
	}
	return i, err
}

// GetRecentInteractions returns up to limit interactions, most recent first.
func (s *Store) GetRecentInteractions(limit int) ([]Interaction, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queryInteractions(`SELECT `+interactionColumns+` FROM interactions
		ORDER BY timestamp DESC, interaction_id DESC LIMIT ?`, limit)
}

// SearchInteractions returns interactions whose user input or response
// contains keyword (case-sensitive), most recent first.
func (s *Store) SearchInteractions(keyword string, limit int) ([]Interaction, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queryInteractions(`SELECT `+interactionColumns+` FROM interactions
		WHERE instr(user_input, ?) > 0 OR instr(response, ?) > 0
		ORDER BY timestamp DESC, interaction_id DESC LIMIT ?`, keyword, keyword, limit)
}

// SessionInteractions returns every interaction of a session in the order
// it happened.
func (s *Store) SessionInteractions(sessionID int64) ([]Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.queryInteractions(`SELECT `+interactionColumns+` FROM interactions
		WHERE session_id = ? ORDER BY timestamp ASC, interaction_id ASC`, sessionID)
}

func (s *Store) queryInteractions(query string, args ...any) ([]Interaction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

func scanInteraction(sc scanner) (Interaction, error) {
	var i Interaction
	var ts, kind string
	var duration sql.NullFloat64
	var model sql.NullString
	if err := sc.Scan(&i.ID, &i.SessionID, &ts, &i.UserInput, &i.Response, &kind, &duration, &model); err != nil {
		return Interaction{}, err
	}
	t, err := parseTime(ts)
	if err != nil {
		return Interaction{}, err
	}
	i.Timestamp = t
	i.Kind = InteractionKind(kind)
	i.Duration = floatPtr(duration)
	i.ModelID = stringPtr(model)
	return i, nil
}

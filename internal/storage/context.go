package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// MaxContextKeywords bounds the keyword list of a context entry.
const MaxContextKeywords = 5

// SaveContext stores a snippet for later retrieval. interactionID may be nil
// for entries that did not come from a conversation turn.
func (s *Store) SaveContext(interactionID *int64, content string, keywords []string, importance float64) (int64, error) {
	if len(keywords) > MaxContextKeywords {
		return 0, fmt.Errorf("%w: %d keywords, at most %d allowed", ErrInvalidArgument, len(keywords), MaxContextKeywords)
	}
	if importance < 0 || importance > 1 {
		return 0, fmt.Errorf("%w: importance %v outside [0,1]", ErrInvalidArgument, importance)
	}
	if keywords == nil {
		keywords = []string{}
	}
	kw, err := json.Marshal(keywords)
	if err != nil {
		return 0, fmt.Errorf("encoding keywords: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var ref sql.NullInt64
	if interactionID != nil {
		var exists int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM interactions WHERE interaction_id = ?`, *interactionID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("saving context: %w", err)
		}
		if exists == 0 {
			return 0, fmt.Errorf("interaction %d: %w", *interactionID, ErrNotFound)
		}
		ref = sql.NullInt64{Int64: *interactionID, Valid: true}
	}

	res, err := s.db.Exec(`
		INSERT INTO conversation_context (interaction_id, content, keywords, importance_score, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		ref, content, string(kw), importance, formatTime(s.now()),
	)
	if err != nil {
		s.recordFailure("conversation_context", err)
		return 0, fmt.Errorf("saving context: %w", err)
	}
	return res.LastInsertId()
}

// SearchContext returns entries whose content contains query
// (case-sensitive), most important first, newer first among equals.
func (s *Store) SearchContext(query string, limit int) ([]ContextEntry, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT context_id, interaction_id, content, keywords, importance_score, timestamp
		FROM conversation_context
		WHERE instr(content, ?) > 0
		ORDER BY importance_score DESC, timestamp DESC, context_id DESC
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ContextEntry
	for rows.Next() {
		var e ContextEntry
		var ref sql.NullInt64
		var kw sql.NullString
		var ts string
		if err := rows.Scan(&e.ID, &ref, &e.Content, &kw, &e.Importance, &ts); err != nil {
			return nil, err
		}
		if ref.Valid {
			id := ref.Int64
			e.InteractionID = &id
		}
		if kw.Valid && kw.String != "" {
			if err := json.Unmarshal([]byte(kw.String), &e.Keywords); err != nil {
				return nil, fmt.Errorf("context %d keywords: %w", e.ID, err)
			}
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = t
		results = append(results, e)
	}
	return results, rows.Err()
}

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// RecordModelLoad stores one model load. configuration is encoded as JSON.
func (s *Store) RecordModelLoad(modelType, modelName string, loadTime *float64, configuration any) (int64, error) {
	var cfg sql.NullString
	if configuration != nil {
		b, err := json.Marshal(configuration)
		if err != nil {
			return 0, fmt.Errorf("%w: encoding model configuration: %v", ErrInvalidArgument, err)
		}
		cfg = sql.NullString{String: string(b), Valid: true}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		INSERT INTO model_history (model_type, model_name, loaded_at, load_time, configuration)
		VALUES (?, ?, ?, ?, ?)`,
		modelType, modelName, formatTime(s.now()), nullFloat(loadTime), cfg,
	)
	if err != nil {
		s.recordFailure("model_history", err)
		return 0, fmt.Errorf("recording model load: %w", err)
	}
	return res.LastInsertId()
}

// ModelHistory returns the most recent model loads, newest first.
func (s *Store) ModelHistory(limit int) ([]ModelLoad, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT history_id, model_type, model_name, loaded_at, load_time, COALESCE(configuration, '')
		FROM model_history ORDER BY loaded_at DESC, history_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ModelLoad
	for rows.Next() {
		var m ModelLoad
		var ts string
		var lt sql.NullFloat64
		if err := rows.Scan(&m.ID, &m.ModelType, &m.ModelName, &ts, &lt, &m.Configuration); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, err
		}
		m.LoadedAt = t
		m.LoadTime = floatPtr(lt)
		results = append(results, m)
	}
	return results, rows.Err()
}

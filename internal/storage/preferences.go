package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Preference is a stored preference row before decoding.
type Preference struct {
	Key       string
	Raw       string
	Type      PrefType
	UpdatedAt time.Time
}

// Decode returns the typed value of the row.
func (p Preference) Decode() (Value, error) {
	v, err := decodeValue(p.Raw, p.Type)
	if err != nil {
		return Value{}, fmt.Errorf("preference %q: %w", p.Key, err)
	}
	return v, nil
}

// SetPreference inserts or replaces the value for key and refreshes its
// update time.
func (s *Store) SetPreference(key string, v Value) error {
	if key == "" {
		return fmt.Errorf("%w: empty preference key", ErrInvalidArgument)
	}
	text, err := v.encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`
		INSERT INTO user_preferences (key, value, data_type, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, data_type = excluded.data_type, updated_at = excluded.updated_at`,
		key, text, string(v.Type), formatTime(s.now()),
	); err != nil {
		s.recordFailure("user_preferences", err)
		return fmt.Errorf("setting preference %q: %w", key, err)
	}
	return nil
}

// GetPreference returns the decoded value for key, or def when the key is
// absent. A stored value that does not decode as its type is ErrDecode and
// never falls back to def.
func (s *Store) GetPreference(key string, def Value) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := scanPreference(s.db.QueryRow(`SELECT key, value, data_type, updated_at FROM user_preferences WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return Value{}, err
	}
	return p.Decode()
}

// GetAllPreferences decodes every stored preference. One corrupt row fails
// the whole call with ErrDecode.
func (s *Store) GetAllPreferences() (map[string]Value, error) {
	prefs, err := s.ListPreferences()
	if err != nil {
		return nil, err
	}
	result := make(map[string]Value, len(prefs))
	for _, p := range prefs {
		v, err := p.Decode()
		if err != nil {
			return nil, err
		}
		result[p.Key] = v
	}
	return result, nil
}

// ListPreferences returns the raw rows ordered by key.
func (s *Store) ListPreferences() ([]Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT key, value, data_type, updated_at FROM user_preferences ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

func (s *Store) DeletePreference(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM user_preferences WHERE key = ?`, key)
	if err != nil {
		s.recordFailure("user_preferences", err)
		return fmt.Errorf("deleting preference %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("preference %q: %w", key, ErrNotFound)
	}
	return nil
}

func scanPreference(sc scanner) (Preference, error) {
	var p Preference
	var typ, updated string
	if err := sc.Scan(&p.Key, &p.Raw, &typ, &updated); err != nil {
		return Preference{}, err
	}
	p.Type = PrefType(typ)
	t, err := parseTime(updated)
	if err != nil {
		return Preference{}, err
	}
	p.UpdatedAt = t
	return p, nil
}

package preferences

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/jarvis/internal/storage"
)

// Store defines the storage operations the Manager needs.
// Implemented by storage.Store.
type Store interface {
	SetPreference(key string, v storage.Value) error
	GetPreference(key string, def storage.Value) (storage.Value, error)
	GetAllPreferences() (map[string]storage.Value, error)
	DeletePreference(key string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

const (
	defaultTTL       = 60 * time.Second
	defaultCacheSize = 256
)

type entry struct {
	value   storage.Value
	present bool
	at      time.Time
}

// Manager provides cached, typed access to the preferences stored in SQLite.
// Absent keys are cached too, so repeated lookups of unset preferences do not
// hit the database.
type Manager struct {
	// mu serializes cache fills with Set and Delete.
	mu    sync.Mutex
	store Store
	clock Clock
	ttl   time.Duration
	cache *lru.Cache[string, entry]
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store Store) *Manager {
	return NewManagerWithClock(store, realClock{}, defaultTTL)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store Store, clock Clock, ttl time.Duration) *Manager {
	cache, err := lru.New[string, entry](defaultCacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Manager{store: store, clock: clock, ttl: ttl, cache: cache}
}

// Get returns the stored value for key, or def when it is not set.
func (m *Manager) Get(key string, def storage.Value) (storage.Value, error) {
	if v, ok := m.cached(key, def); ok {
		return v, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.cached(key, def); ok {
		return v, nil
	}

	// A zero Value has no type and is never stored, so it marks absence.
	v, err := m.store.GetPreference(key, storage.Value{})
	if err != nil {
		return storage.Value{}, fmt.Errorf("loading preference %q: %w", key, err)
	}
	present := v.Type != ""
	m.cache.Add(key, entry{value: v, present: present, at: m.clock.Now()})
	if !present {
		return def, nil
	}
	return v, nil
}

// cached returns a fresh cache entry for key, with def standing in for a
// cached absence.
func (m *Manager) cached(key string, def storage.Value) (storage.Value, bool) {
	e, ok := m.cache.Get(key)
	if !ok || !m.clock.Now().Before(e.at.Add(m.ttl)) {
		return storage.Value{}, false
	}
	if !e.present {
		return def, true
	}
	return e.value, true
}

// String returns the preference in its text form.
func (m *Manager) String(key, def string) (string, error) {
	v, err := m.Get(key, storage.StringValue(def))
	if err != nil {
		return "", err
	}
	return v.Text(), nil
}

// Int returns an int preference. Any other stored type is ErrDecode.
func (m *Manager) Int(key string, def int64) (int64, error) {
	v, err := m.Get(key, storage.IntValue(def))
	if err != nil {
		return 0, err
	}
	if v.Type == storage.PrefInt {
		return v.Int, nil
	}
	return 0, fmt.Errorf("preference %q is %s, not int: %w", key, v.Type, storage.ErrDecode)
}

func (m *Manager) Float(key string, def float64) (float64, error) {
	v, err := m.Get(key, storage.FloatValue(def))
	if err != nil {
		return 0, err
	}
	if v.Type == storage.PrefFloat {
		return v.Float, nil
	}
	return 0, fmt.Errorf("preference %q is %s, not float: %w", key, v.Type, storage.ErrDecode)
}

// JSON decodes a json preference into target. It reports false and leaves
// target untouched when the key is not set.
func (m *Manager) JSON(key string, target any) (bool, error) {
	v, err := m.Get(key, storage.Value{})
	if err != nil {
		return false, err
	}
	if v.Type == "" {
		return false, nil
	}
	if v.Type != storage.PrefJSON {
		return false, fmt.Errorf("preference %q is %s, not json: %w", key, v.Type, storage.ErrDecode)
	}
	b, err := json.Marshal(v.JSON)
	if err != nil {
		return false, fmt.Errorf("re-encoding preference %q: %w", key, err)
	}
	if err := json.Unmarshal(b, target); err != nil {
		return false, fmt.Errorf("preference %q does not fit target: %v: %w", key, err, storage.ErrDecode)
	}
	return true, nil
}

// Set persists a preference and invalidates its cache entry.
func (m *Manager) Set(key string, v storage.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.SetPreference(key, v); err != nil {
		return fmt.Errorf("setting preference %q: %w", key, err)
	}
	m.cache.Remove(key)
	return nil
}

// SetAny coerces raw to the declared type and persists it.
func (m *Manager) SetAny(key string, raw any, t storage.PrefType) error {
	v, err := storage.Coerce(raw, t)
	if err != nil {
		return err
	}
	return m.Set(key, v)
}

func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.cache.Remove(key)
	return m.store.DeletePreference(key)
}

// All returns every stored preference, bypassing the cache.
func (m *Manager) All() (map[string]storage.Value, error) {
	return m.store.GetAllPreferences()
}

// SeedDefaults writes defaults only when no preference exists yet, so a
// user's later edits are never overwritten. It reports whether it wrote.
func (m *Manager) SeedDefaults(defaults map[string]storage.Value) (bool, error) {
	existing, err := m.store.GetAllPreferences()
	if err != nil {
		return false, fmt.Errorf("checking existing preferences: %w", err)
	}
	if len(existing) > 0 {
		return false, nil
	}

	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := m.Set(k, defaults[k]); err != nil {
			return false, err
		}
	}
	slog.Info("default preferences seeded", "count", len(keys))
	return true, nil
}

// Defaults is the first-run preference set.
func Defaults() map[string]storage.Value {
	return map[string]storage.Value{
		"user_name":       storage.StringValue("Usuario"),
		"tts_rate":        storage.IntValue(180),
		"favorite_topics": storage.JSONValue([]any{"general"}),
	}
}

package preferences

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/jarvis/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu   sync.Mutex
	data map[string]storage.Value

	getCalls int
}

func newMockStore() *mockStore {
	return &mockStore{data: make(map[string]storage.Value)}
}

func (m *mockStore) SetPreference(key string, v storage.Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = v
	return nil
}

func (m *mockStore) GetPreference(key string, def storage.Value) (storage.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	v, ok := m.data[key]
	if !ok {
		return def, nil
	}
	return v, nil
}

func (m *mockStore) GetAllPreferences() (map[string]storage.Value, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]storage.Value, len(m.data))
	for k, v := range m.data {
		cp[k] = v
	}
	return cp, nil
}

func (m *mockStore) DeletePreference(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return storage.ErrNotFound
	}
	delete(m.data, key)
	return nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_DefaultWhenAbsent(t *testing.T) {
	mgr := NewManager(newMockStore())

	name, err := mgr.String("user_name", "Usuario")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Usuario" {
		t.Errorf("expected default, got %q", name)
	}
}

func TestGet_CachesWithinTTL(t *testing.T) {
	store := newMockStore()
	store.data["tts_rate"] = storage.IntValue(180)
	clock := &mockClock{now: time.Now()}
	mgr := NewManagerWithClock(store, clock, time.Minute)

	for i := 0; i < 3; i++ {
		rate, err := mgr.Int("tts_rate", 0)
		if err != nil || rate != 180 {
			t.Fatalf("Int = %d, %v", rate, err)
		}
	}
	if store.getCalls != 1 {
		t.Errorf("expected 1 store read, got %d", store.getCalls)
	}

	clock.Advance(2 * time.Minute)
	mgr.Int("tts_rate", 0)
	if store.getCalls != 2 {
		t.Errorf("expected refresh after TTL, got %d reads", store.getCalls)
	}
}

func TestGet_CachesAbsence(t *testing.T) {
	store := newMockStore()
	mgr := NewManagerWithClock(store, &mockClock{now: time.Now()}, time.Minute)

	mgr.String("missing", "a")
	got, _ := mgr.String("missing", "b")
	if got != "b" {
		t.Errorf("cached absence must still honour the caller's default, got %q", got)
	}
	if store.getCalls != 1 {
		t.Errorf("expected 1 store read, got %d", store.getCalls)
	}
}

func TestSet_InvalidatesCache(t *testing.T) {
	store := newMockStore()
	mgr := NewManagerWithClock(store, &mockClock{now: time.Now()}, time.Hour)

	mgr.Int("tts_rate", 180)
	if err := mgr.Set("tts_rate", storage.IntValue(200)); err != nil {
		t.Fatal(err)
	}
	rate, _ := mgr.Int("tts_rate", 180)
	if rate != 200 {
		t.Errorf("expected 200 after Set, got %d", rate)
	}
}

// slowStore holds the first GetPreference after reading until released.
type slowStore struct {
	*mockStore
	once    sync.Once
	reading chan struct{}
	release chan struct{}
}

func (s *slowStore) GetPreference(key string, def storage.Value) (storage.Value, error) {
	v, err := s.mockStore.GetPreference(key, def)
	s.once.Do(func() {
		close(s.reading)
		<-s.release
	})
	return v, err
}

func TestGet_ConcurrentSetNotOverwrittenByStaleRead(t *testing.T) {
	store := &slowStore{
		mockStore: newMockStore(),
		reading:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	store.data["tts_rate"] = storage.IntValue(150)
	mgr := NewManagerWithClock(store, &mockClock{now: time.Now()}, time.Hour)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		mgr.Int("tts_rate", 0)
	}()
	<-store.reading

	setDone := make(chan error, 1)
	go func() { setDone <- mgr.Set("tts_rate", storage.IntValue(200)) }()
	select {
	case err := <-setDone:
		// Set did not wait for the in-flight read.
		close(store.release)
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(100 * time.Millisecond):
		close(store.release)
		if err := <-setDone; err != nil {
			t.Fatal(err)
		}
	}
	wg.Wait()

	rate, err := mgr.Int("tts_rate", 0)
	if err != nil {
		t.Fatal(err)
	}
	if rate != 200 {
		t.Errorf("store has 200, manager returns %d", rate)
	}
}

func TestSetAny_Coerces(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	if err := mgr.SetAny("favorite_topics", []string{"música"}, storage.PrefString); err != nil {
		t.Fatal(err)
	}
	if store.data["favorite_topics"].Type != storage.PrefJSON {
		t.Errorf("slice should be stored as json, got %s", store.data["favorite_topics"].Type)
	}
	if err := mgr.SetAny("tts_rate", "rápido", storage.PrefInt); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if err := mgr.SetAny("user_name", nil, storage.PrefString); !errors.Is(err, storage.ErrInvalidArgument) {
		t.Errorf("nil value: expected ErrInvalidArgument, got %v", err)
	}
	if _, ok := store.data["user_name"]; ok {
		t.Error("nil value must not be stored")
	}
}

func TestTypedGetters(t *testing.T) {
	store := newMockStore()
	store.data["volume"] = storage.FloatValue(0.5)
	store.data["tts_rate"] = storage.IntValue(180)
	store.data["favorite_topics"] = storage.JSONValue([]any{"general", "ciencia"})
	store.data["user_name"] = storage.StringValue("Ana")
	mgr := NewManager(store)

	if _, err := mgr.Float("tts_rate", 0); !errors.Is(err, storage.ErrDecode) {
		t.Errorf("Float(int pref): expected ErrDecode, got %v", err)
	}
	if _, err := mgr.Int("volume", 0); !errors.Is(err, storage.ErrDecode) {
		t.Errorf("Int(float pref): expected ErrDecode, got %v", err)
	}
	if f, err := mgr.Float("volume", 0); err != nil || f != 0.5 {
		t.Errorf("Float = %v, %v", f, err)
	}
	if _, err := mgr.Int("user_name", 0); !errors.Is(err, storage.ErrDecode) {
		t.Errorf("Int(string pref): expected ErrDecode, got %v", err)
	}
	if s, _ := mgr.String("tts_rate", ""); s != "180" {
		t.Errorf("String(int pref) = %q", s)
	}

	var topics []string
	ok, err := mgr.JSON("favorite_topics", &topics)
	if err != nil || !ok {
		t.Fatalf("JSON = %v, %v", ok, err)
	}
	if len(topics) != 2 || topics[1] != "ciencia" {
		t.Errorf("topics = %v", topics)
	}
	ok, err = mgr.JSON("missing", &topics)
	if err != nil || ok {
		t.Errorf("missing JSON = %v, %v", ok, err)
	}
}

func TestSeedDefaults_OnlyOnFirstRun(t *testing.T) {
	store := newMockStore()
	mgr := NewManager(store)

	seeded, err := mgr.SeedDefaults(Defaults())
	if err != nil || !seeded {
		t.Fatalf("first seed = %v, %v", seeded, err)
	}
	if len(store.data) != 3 {
		t.Errorf("expected 3 defaults, got %d", len(store.data))
	}

	mgr.Set("tts_rate", storage.IntValue(150))
	seeded, err = mgr.SeedDefaults(Defaults())
	if err != nil || seeded {
		t.Fatalf("second seed = %v, %v", seeded, err)
	}
	rate, _ := mgr.Int("tts_rate", 0)
	if rate != 150 {
		t.Errorf("user edit overwritten: %d", rate)
	}
}

func TestWithRealStore(t *testing.T) {
	s, err := storage.Open(storage.MemoryPath)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	mgr := NewManager(s)

	if _, err := mgr.SeedDefaults(Defaults()); err != nil {
		t.Fatal(err)
	}
	rate, err := mgr.Int("tts_rate", 0)
	if err != nil || rate != 180 {
		t.Errorf("tts_rate = %d, %v", rate, err)
	}
	if err := mgr.Delete("tts_rate"); err != nil {
		t.Fatal(err)
	}
	rate, _ = mgr.Int("tts_rate", 175)
	if rate != 175 {
		t.Errorf("expected default after delete, got %d", rate)
	}
}

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryPath)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func openClockStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := Open(MemoryPath, WithClock(clock))
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func ptr[T any](v T) *T { return &v }

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jarvis.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	sid, err := s1.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if err := s1.EnsureSchema(); err != nil {
		t.Fatalf("EnsureSchema on open store: %v", err)
	}
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
	if _, err := s2.GetSession(sid); err != nil {
		t.Errorf("session %d lost across reopen: %v", sid, err)
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected 3 applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{
		"idx_interactions_session",
		"idx_interactions_timestamp",
		"idx_commands_timestamp",
		"idx_commands_keyword",
		"idx_reminders_status",
		"idx_context_rank",
		"idx_error_logs_resolved",
	}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s not found", idx)
		}
	}
}

func TestOpenUnwritableLocation(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(filepath.Join(blocker, "sub", "jarvis.db"))
	if !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}
}

func TestIntegrityCheckAndOptimize(t *testing.T) {
	s := openTestStore(t)
	if err := s.IntegrityCheck(); err != nil {
		t.Fatalf("IntegrityCheck: %v", err)
	}
	if err := s.Optimize(); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s, clock := openClockStore(t)

	id, err := s.CreateSession()
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err := s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.EndTime != nil || sess.TotalInteractions != 0 {
		t.Fatalf("new session should be open with zero counters: %+v", sess)
	}

	clock.Advance(5 * time.Minute)
	stats := SessionStats{TotalInteractions: 3, TotalCommands: 1, TotalAIResponses: 2, AverageDuration: 3}
	if err := s.EndSession(id, stats); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	sess, err = s.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.EndTime == nil || !sess.EndTime.Equal(clock.Now()) {
		t.Errorf("end time = %v, want %v", sess.EndTime, clock.Now())
	}
	if sess.TotalInteractions != 3 || sess.TotalCommands != 1 || sess.TotalAIResponses != 2 {
		t.Errorf("counters = %+v", sess)
	}
	if sess.AverageDuration == nil || *sess.AverageDuration != 3 {
		t.Errorf("average duration = %v, want 3", sess.AverageDuration)
	}

	if err := s.EndSession(id, SessionStats{TotalInteractions: 99}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second EndSession: expected ErrInvalidState, got %v", err)
	}
	sess, _ = s.GetSession(id)
	if sess.TotalInteractions != 3 {
		t.Errorf("counters rewritten by rejected EndSession: %d", sess.TotalInteractions)
	}
}

func TestEndSessionUnknown(t *testing.T) {
	s := openTestStore(t)
	if err := s.EndSession(42, SessionStats{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEndSessionClockSkew(t *testing.T) {
	s, clock := openClockStore(t)
	id, _ := s.CreateSession()
	start := clock.Now()

	clock.Advance(-time.Hour)
	if err := s.EndSession(id, SessionStats{}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	sess, _ := s.GetSession(id)
	if sess.EndTime == nil || sess.EndTime.Before(start) {
		t.Errorf("end time %v precedes start %v", sess.EndTime, start)
	}
}

func TestLatestAndListSessions(t *testing.T) {
	s, clock := openClockStore(t)
	first, _ := s.CreateSession()
	clock.Advance(time.Minute)
	second, _ := s.CreateSession()

	latest, err := s.LatestSession()
	if err != nil {
		t.Fatalf("LatestSession: %v", err)
	}
	if latest.ID != second {
		t.Errorf("latest = %d, want %d", latest.ID, second)
	}

	list, err := s.ListSessions(10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 2 || list[0].ID != second || list[1].ID != first {
		t.Errorf("unexpected order: %+v", list)
	}
}

func TestSessionCountersMatchInteractions(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession()

	if _, err := s.SaveInteraction(sid, "abre spotify", "Abriendo Spotify", KindCommand, ptr(1.0), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveInteraction(sid, "¿qué es un agujero negro?", "Una región del espacio...", KindAI, ptr(4.0), ptr("llama3.1:8b")); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountInteractions(sid)
	if err != nil {
		t.Fatalf("CountInteractions: %v", err)
	}
	if err := s.EndSession(sid, SessionStats{TotalInteractions: n, TotalCommands: 1, TotalAIResponses: 1, AverageDuration: 2.5}); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.GetSession(sid)
	if sess.TotalInteractions != 2 {
		t.Errorf("total interactions = %d, want 2", sess.TotalInteractions)
	}
}

func TestSaveInteractionValidation(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession()

	tests := []struct {
		name    string
		session int64
		kind    InteractionKind
		model   *string
		want    error
	}{
		{"unknown kind", sid, InteractionKind("chat"), nil, ErrInvalidArgument},
		{"model on command", sid, KindCommand, ptr("llama"), ErrInvalidArgument},
		{"unknown session", sid + 100, KindAI, nil, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.SaveInteraction(tt.session, "hola", "hola", tt.kind, nil, tt.model)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}

	if n, _ := s.CountInteractions(sid); n != 0 {
		t.Errorf("rejected interactions were stored: %d", n)
	}
}

func TestSaveAndGetInteraction(t *testing.T) {
	s, clock := openClockStore(t)
	sid, _ := s.CreateSession()

	id, err := s.SaveInteraction(sid, "hola", "¡Hola!", KindAI, nil, ptr("llama3.1:8b"))
	if err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}
	got, err := s.GetInteraction(id)
	if err != nil {
		t.Fatalf("GetInteraction: %v", err)
	}
	if got.SessionID != sid || got.UserInput != "hola" || got.Response != "¡Hola!" || got.Kind != KindAI {
		t.Errorf("unexpected interaction: %+v", got)
	}
	if got.Duration != nil {
		t.Errorf("duration = %v, want nil", *got.Duration)
	}
	if got.ModelID == nil || *got.ModelID != "llama3.1:8b" {
		t.Errorf("model = %v", got.ModelID)
	}
	if !got.Timestamp.Equal(clock.Now()) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, clock.Now())
	}

	if _, err := s.GetInteraction(id + 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentInteractionsOrder(t *testing.T) {
	s, clock := openClockStore(t)
	sid, _ := s.CreateSession()

	a, _ := s.SaveInteraction(sid, "a", "ra", KindAI, nil, nil)
	b, _ := s.SaveInteraction(sid, "b", "rb", KindAI, nil, nil) // same timestamp as a
	clock.Advance(time.Second)
	c, _ := s.SaveInteraction(sid, "c", "rc", KindAI, nil, nil)

	recent, err := s.GetRecentInteractions(10)
	if err != nil {
		t.Fatalf("GetRecentInteractions: %v", err)
	}
	want := []int64{c, b, a}
	if len(recent) != len(want) {
		t.Fatalf("got %d interactions, want %d", len(recent), len(want))
	}
	for i, id := range want {
		if recent[i].ID != id {
			t.Errorf("position %d: got id %d, want %d", i, recent[i].ID, id)
		}
	}

	top, _ := s.GetRecentInteractions(1)
	if len(top) != 1 || top[0].ID != c {
		t.Errorf("limit 1 returned %+v", top)
	}

	if _, err := s.GetRecentInteractions(0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("limit 0: expected ErrInvalidArgument, got %v", err)
	}
}

func TestSearchInteractions(t *testing.T) {
	s, clock := openClockStore(t)
	sid, _ := s.CreateSession()

	s.SaveInteraction(sid, "pon música en Spotify", "Abriendo Spotify", KindCommand, nil, nil)
	clock.Advance(time.Second)
	s.SaveInteraction(sid, "¿qué hora es?", "Son las 9", KindCommand, nil, nil)
	clock.Advance(time.Second)
	s.SaveInteraction(sid, "cuéntame de spotify", "Spotify es un servicio", KindAI, nil, nil)

	got, err := s.SearchInteractions("Spotify", 10)
	if err != nil {
		t.Fatalf("SearchInteractions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	if got[0].UserInput != "cuéntame de spotify" {
		t.Errorf("first match should be the newest, got %q", got[0].UserInput)
	}

	lower, _ := s.SearchInteractions("spotify", 10)
	if len(lower) != 1 {
		t.Errorf("search must be case-sensitive: got %d matches", len(lower))
	}

	none, err := s.SearchInteractions("clima", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("expected no matches, got %v, %v", none, err)
	}
}

func TestSessionInteractionsChronological(t *testing.T) {
	s, clock := openClockStore(t)
	sid, _ := s.CreateSession()
	other, _ := s.CreateSession()

	first, _ := s.SaveInteraction(sid, "uno", "1", KindAI, nil, nil)
	clock.Advance(time.Second)
	s.SaveInteraction(other, "otro", "x", KindAI, nil, nil)
	second, _ := s.SaveInteraction(sid, "dos", "2", KindAI, nil, nil)

	got, err := s.SessionInteractions(sid)
	if err != nil {
		t.Fatalf("SessionInteractions: %v", err)
	}
	if len(got) != 2 || got[0].ID != first || got[1].ID != second {
		t.Errorf("unexpected interactions: %+v", got)
	}
}

func TestSaveCommandAndMostUsed(t *testing.T) {
	s, clock := openClockStore(t)
	sid, _ := s.CreateSession()

	save := func(input, keyword string) {
		t.Helper()
		iid, err := s.SaveInteraction(sid, input, "ok", KindCommand, ptr(0.5), nil)
		if err != nil {
			t.Fatalf("SaveInteraction: %v", err)
		}
		if _, err := s.SaveCommand(iid, keyword, "app", "ok", true); err != nil {
			t.Fatalf("SaveCommand: %v", err)
		}
		clock.Advance(time.Second)
	}
	save("abre spotify", "spotify")
	save("qué hora es", "hora")
	save("pon spotify", "spotify")
	save("abre el navegador", "navegador")

	top, err := s.MostUsedCommands(5)
	if err != nil {
		t.Fatalf("MostUsedCommands: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("got %d keywords, want 3", len(top))
	}
	if top[0].Keyword != "spotify" || top[0].UsageCount != 2 {
		t.Errorf("top = %+v, want spotify x2", top[0])
	}
	// hora and navegador tie at 1; hora was recorded first.
	if top[1].Keyword != "hora" || top[2].Keyword != "navegador" {
		t.Errorf("tie order = %s, %s", top[1].Keyword, top[2].Keyword)
	}
	if !top[0].LastUsed.Equal(time.Date(2026, 3, 14, 9, 30, 2, 0, time.UTC)) {
		t.Errorf("last used = %v", top[0].LastUsed)
	}

	if _, err := s.MostUsedCommands(-1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSaveCommandRequiresCommandInteraction(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession()
	aiID, _ := s.SaveInteraction(sid, "hola", "hola", KindAI, nil, nil)

	if _, err := s.SaveCommand(aiID, "spotify", "app", "", true); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("ai interaction: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := s.SaveCommand(aiID+10, "spotify", "app", "", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing interaction: expected ErrNotFound, got %v", err)
	}
}

func TestCommandsForInteraction(t *testing.T) {
	s := openTestStore(t)
	sid, _ := s.CreateSession()
	iid, _ := s.SaveInteraction(sid, "abre spotify", "no pude", KindCommand, nil, nil)
	s.SaveCommand(iid, "spotify", "app", "not installed", false)

	got, err := s.CommandsForInteraction(iid)
	if err != nil {
		t.Fatalf("CommandsForInteraction: %v", err)
	}
	if len(got) != 1 || got[0].Success || got[0].Result != "not installed" {
		t.Errorf("unexpected records: %+v", got)
	}
}

func TestErrorLog(t *testing.T) {
	s, clock := openClockStore(t)

	first, err := s.LogError("AudioError", "microphone unavailable", ptr("voice"), nil)
	if err != nil {
		t.Fatalf("LogError: %v", err)
	}
	clock.Advance(time.Second)
	second, _ := s.LogError("ModelError", "timeout", nil, ptr("trace"))

	all, err := s.ListErrors(false, 10)
	if err != nil {
		t.Fatalf("ListErrors: %v", err)
	}
	if len(all) != 2 || all[0].ID != second || all[1].ID != first {
		t.Fatalf("unexpected errors: %+v", all)
	}
	if all[1].Resolved || all[1].Module == nil || *all[1].Module != "voice" {
		t.Errorf("unexpected first record: %+v", all[1])
	}

	if err := s.ResolveError(first); err != nil {
		t.Fatalf("ResolveError: %v", err)
	}
	open, _ := s.ListErrors(true, 10)
	if len(open) != 1 || open[0].ID != second {
		t.Errorf("unresolved = %+v", open)
	}
	if err := s.ResolveError(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestModelHistory(t *testing.T) {
	s, clock := openClockStore(t)
	s.RecordModelLoad("whisper", "base", ptr(1.2), map[string]any{"language": "es"})
	clock.Advance(time.Second)
	s.RecordModelLoad("ollama", "llama3.1:8b", nil, nil)

	got, err := s.ModelHistory(5)
	if err != nil {
		t.Fatalf("ModelHistory: %v", err)
	}
	if len(got) != 2 || got[0].ModelType != "ollama" {
		t.Fatalf("unexpected history: %+v", got)
	}
	if got[1].Configuration != `{"language":"es"}` {
		t.Errorf("configuration = %q", got[1].Configuration)
	}
	if got[0].LoadTime != nil {
		t.Errorf("load time = %v, want nil", *got[0].LoadTime)
	}
}

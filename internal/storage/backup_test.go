package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openFileStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := Open(filepath.Join(t.TempDir(), "jarvis.db"), WithClock(clock))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestBackupNamesAndContents(t *testing.T) {
	s, _ := openFileStore(t)
	s.SetPreference("tts_rate", IntValue(180))
	dir := filepath.Join(t.TempDir(), "backups", "nested")

	first, err := s.Backup(dir)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if filepath.Base(first) != "jarvis_backup_20260314_093000.db" {
		t.Errorf("backup name = %s", filepath.Base(first))
	}

	// Same second: the second backup must not overwrite the first.
	second, err := s.Backup(dir)
	if err != nil {
		t.Fatalf("second Backup: %v", err)
	}
	if filepath.Base(second) != "jarvis_backup_20260314_093000_1.db" {
		t.Errorf("collision name = %s", filepath.Base(second))
	}

	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if len(a) == 0 || !bytes.Equal(a, b) {
		t.Errorf("backups without intervening writes differ (%d vs %d bytes)", len(a), len(b))
	}

	restored, err := Open(first)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer restored.Close()
	got, err := restored.GetPreference("tts_rate", IntValue(0))
	if err != nil || got.Int != 180 {
		t.Errorf("backup lost data: %+v, %v", got, err)
	}
}

func TestBackupInMemory(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Backup(t.TempDir()); !errors.Is(err, ErrBackup) {
		t.Fatalf("expected ErrBackup, got %v", err)
	}
}

func TestBackupUnwritableTarget(t *testing.T) {
	s, _ := openFileStore(t)
	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0o644)

	if _, err := s.Backup(filepath.Join(blocker, "backups")); !errors.Is(err, ErrBackup) {
		t.Fatalf("expected ErrBackup, got %v", err)
	}
}

func TestPruneBackups(t *testing.T) {
	s, clock := openFileStore(t)
	dir := t.TempDir()

	var paths []string
	for i := 0; i < 4; i++ {
		p, err := s.Backup(dir)
		if err != nil {
			t.Fatalf("Backup: %v", err)
		}
		paths = append(paths, p)
		clock.Advance(time.Second)
	}
	// Unrelated files are never touched.
	other := filepath.Join(dir, "notes.txt")
	os.WriteFile(other, []byte("keep"), 0o644)

	removed, err := s.PruneBackups(dir, 2)
	if err != nil {
		t.Fatalf("PruneBackups: %v", err)
	}
	if len(removed) != 2 || removed[0] != paths[0] || removed[1] != paths[1] {
		t.Errorf("removed = %v, want oldest two of %v", removed, paths)
	}

	left, _ := s.ListBackups(dir)
	if len(left) != 2 || left[0] != paths[2] || left[1] != paths[3] {
		t.Errorf("remaining = %v", left)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("unrelated file removed: %v", err)
	}

	if removed, _ := s.PruneBackups(dir, 5); len(removed) != 0 {
		t.Errorf("nothing should be pruned under the limit: %v", removed)
	}
	if _, err := s.PruneBackups(dir, -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCustomBackupPrefix(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "store.sqlite"), WithClock(newFakeClock()), WithBackupPrefix("jarvis_backup"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	p, err := s.Backup(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(p) != "jarvis_backup_20260314_093000.sqlite" {
		t.Errorf("backup name = %s", filepath.Base(p))
	}
}

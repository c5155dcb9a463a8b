package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

const backupStampLayout = "20060102_150405"

func defaultBackupPrefix(path string) string {
	if path == MemoryPath {
		return "jarvis_backup"
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_backup"
}

func (s *Store) backupExt() string {
	if ext := filepath.Ext(s.path); ext != "" && s.path != MemoryPath {
		return ext
	}
	return ".db"
}

// Backup writes a consistent copy of the database file into targetDir and
// returns its path. The directory is created if needed. The store lock is
// held for the whole copy, so no write can interleave with it.
func (s *Store) Backup(targetDir string) (string, error) {
	if s.path == MemoryPath {
		return "", fmt.Errorf("%w: in-memory database has no file to copy", ErrBackup)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: creating backup directory: %v", ErrBackup, err)
	}

	// Fold the WAL into the main file so the copy is complete on its own.
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return "", fmt.Errorf("%w: checkpointing wal: %v", ErrBackup, err)
	}

	src, err := os.Open(s.path)
	if err != nil {
		return "", fmt.Errorf("%w: opening database file: %v", ErrBackup, err)
	}
	defer src.Close()

	dst, dstPath, err := s.createBackupFile(targetDir)
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("%w: copying database: %v", ErrBackup, err)
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("%w: syncing backup: %v", ErrBackup, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("%w: closing backup: %v", ErrBackup, err)
	}

	s.logger.Info("backup written", "path", dstPath)
	return dstPath, nil
}

// createBackupFile claims a fresh name for this second, appending _N when
// an earlier backup in the same second already holds the plain name.
func (s *Store) createBackupFile(dir string) (*os.File, string, error) {
	stem := s.backupPrefix + "_" + s.now().Format(backupStampLayout)
	ext := s.backupExt()
	for n := 0; n < 1000; n++ {
		name := stem + ext
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("%w: creating backup file: %v", ErrBackup, err)
		}
	}
	return nil, "", fmt.Errorf("%w: no free backup name for %s", ErrBackup, stem)
}

// ListBackups returns the backups in dir written by this store, oldest first.
func (s *Store) ListBackups(dir string) ([]string, error) {
	pattern, err := glob.Compile(glob.QuoteMeta(s.backupPrefix+"_") + "*" + glob.QuoteMeta(s.backupExt()))
	if err != nil {
		return nil, fmt.Errorf("%w: compiling backup pattern: %v", ErrBackup, err)
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading backup directory: %v", ErrBackup, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && pattern.Match(e.Name()) {
			names = append(names, e.Name())
		}
	}
	// The stamp is fixed-width, so name order is creation order.
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// PruneBackups deletes the oldest backups in dir until at most maxCount
// remain, returning the deleted paths. Nothing is pruned implicitly.
func (s *Store) PruneBackups(dir string, maxCount int) ([]string, error) {
	if maxCount < 0 {
		return nil, fmt.Errorf("%w: max backups must not be negative, got %d", ErrInvalidArgument, maxCount)
	}
	paths, err := s.ListBackups(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) <= maxCount {
		return nil, nil
	}

	var removed []string
	for _, p := range paths[:len(paths)-maxCount] {
		if err := os.Remove(p); err != nil {
			return removed, fmt.Errorf("%w: removing %s: %v", ErrBackup, p, err)
		}
		removed = append(removed, p)
		s.logger.Info("backup pruned", "path", p)
	}
	return removed, nil
}

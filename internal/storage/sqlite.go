package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database (used by tests).
const MemoryPath = ":memory:"

// timeLayout is fixed-width so that lexical order of stored timestamps
// matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock used for every stored timestamp.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the diagnostic logger. A nil logger keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBackupPrefix overrides the file name prefix used by Backup.
func WithBackupPrefix(prefix string) Option {
	return func(s *Store) { s.backupPrefix = prefix }
}

// Store is the single persistence handle for sessions, interactions,
// commands, preferences, reminders, context, usage, errors and backups.
// All methods are serialized on one mutex over one pooled connection.
type Store struct {
	mu sync.Mutex
	db *sql.DB

	path         string
	clock        Clock
	logger       *slog.Logger
	backupPrefix string
}

// Open opens (or creates) the SQLite database at path and runs pending
// migrations. Pass MemoryPath for an in-memory database.
func Open(path string, opts ...Option) (*Store, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %v", ErrInit, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrInit, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", ErrInit, err)
	}

	// One connection: the engine does not arbitrate concurrent writers, and
	// an in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if path != MemoryPath {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrInit, p, err)
		}
	}

	s := &Store{
		db:     db,
		path:   path,
		clock:  realClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backupPrefix == "" {
		s.backupPrefix = defaultBackupPrefix(path)
	}

	if err := s.EnsureSchema(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("store opened", "path", path)
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return err
	}
	s.logger.Info("store closed", "path", s.path)
	return nil
}

// Path returns the file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// EnsureSchema applies any embedded migration that has not been recorded in
// schema_version. It never drops or rewrites existing data and is safe to
// call on every startup.
func (s *Store) EnsureSchema() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.migrate(); err != nil {
		return fmt.Errorf("%w: running migrations: %v", ErrInit, err)
	}
	return nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			version, formatTime(s.clock.Now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
		s.logger.Debug("migration applied", "version", version, "file", entry.Name())
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// Optimize rebuilds the database file to reclaim free pages.
func (s *Store) Optimize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	s.logger.Info("store optimized", "path", s.path)
	return nil
}

// IntegrityCheck runs SQLite's integrity check and reports any problem it finds.
func (s *Store) IntegrityCheck() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// recordFailure reports a failed write to the diagnostic logger and makes a
// best-effort attempt to keep a durable copy in error_logs. The second insert
// may fail for the same reason as the first; that is logged and dropped.
// Caller must hold s.mu.
func (s *Store) recordFailure(module string, err error) {
	s.logger.Error("store write failed", "module", module, "error", err)
	if _, logErr := s.db.Exec(`
		INSERT INTO error_logs (timestamp, error_type, error_message, module)
		VALUES (?, 'WriteError', ?, ?)`,
		formatTime(s.clock.Now()), err.Error(), module,
	); logErr != nil {
		s.logger.Error("could not persist write failure", "module", module, "error", logErr)
	}
}

func (s *Store) now() time.Time {
	return s.clock.Now()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", v, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func checkLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidArgument, limit)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

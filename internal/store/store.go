package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/newsdigest/internal/logging"
	"github.com/ibeckermayer/newsdigest/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the sqlite-backed content store. Every mutating call is a single
// statement, so each is atomic on its own.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger *slog.Logger

	mu          sync.RWMutex
	defaultSlot types.Slot
}

// Option configures a Store.
type Option func(*Store)

// WithDefaultSlot sets the slot used for preferences that have none.
func WithDefaultSlot(slot types.Slot) Option {
	return func(s *Store) { s.defaultSlot = slot }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = logging.Component(l, "store") }
}

// New creates a new Store with SQLite backend
func New(dbPath string, opts ...Option) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection serialises writers; sqlite would otherwise answer
	// concurrent collect stages with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		now:    time.Now,
		logger: logging.Component(nil, "store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultSlot == "" {
		s.defaultSlot = "morning"
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DefaultSlot returns the slot assigned to new preferences.
func (s *Store) DefaultSlot() types.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaultSlot
}

// SetDefaultSlot replaces the slot assigned to new preferences. Rows that
// already exist keep their slot.
func (s *Store) SetDefaultSlot(slot types.Slot) {
	if slot == "" {
		return
	}
	s.mu.Lock()
	s.defaultSlot = slot
	s.mu.Unlock()
}

// migrate applies embedded schema migrations
func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source driver: %w", err)
	}

	dbDriver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	// m.Close would close s.db through the driver, so it is not called.
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Debug("schema up to date")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	s.logger.Info("schema migrations applied")
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ABOUTME: Store type wrapping gorm for helpdesk persistence
// ABOUTME: Opens SQLite or PostgreSQL, runs AutoMigrate, and maps constraint errors

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when registering an email that is already taken
var ErrDuplicateEmail = errors.New("email already registered")

// ErrDuplicatePage is returned when a (page, user) connection row already exists
var ErrDuplicatePage = errors.New("page connection already exists")

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Options selects and configures the database backend.
type Options struct {
	Driver string // "sqlite" (default) or "postgres"
	Path   string // SQLite file path
	DSN    string // PostgreSQL DSN
	Logger *slog.Logger
}

// Store is the gorm-backed persistence layer.
type Store struct {
	db     *gorm.DB
	driver string
	logger *slog.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	gormCfg := &gorm.Config{
		Logger:         newGormLogger(logger),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	driver := opts.Driver
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		db, err = openSQLite(opts.Path, gormCfg)
	case DriverPostgres:
		if opts.DSN == "" {
			return nil, errors.New("postgres DSN is required")
		}
		db, err = gorm.Open(postgres.Open(opts.DSN), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, driver: driver, logger: logger}
	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	logger.Info("store initialized", "driver", driver)
	return s, nil
}

// openSQLite opens a SQLite database through the pure-Go modernc driver.
// Parent directories are created if needed.
func openSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; serializing connections avoids SQLITE_BUSY
	// under concurrent webhook deliveries.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return gorm.Open(sqlite.New(sqlite.Config{
		DriverName: "sqlite",
		Conn:       sqlDB,
	}), gormCfg)
}

// Migrate creates or updates the schema for all models.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&PageConnection{},
		&Conversation{},
		&Message{},
	); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// Ping checks that the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Driver reports which backend this store is using.
func (s *Store) Driver() string {
	return s.driver
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// isUniqueViolation reports whether err is a unique constraint failure on
// either backend.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// notFound maps gorm's record-not-found into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

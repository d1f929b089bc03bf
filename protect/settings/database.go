package settings

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// queries slower than this are logged at WARN
const slowQueryThreshold = 500 * time.Millisecond

// OpenDatabase connects to the settings database named by dburl: "sqlite://<path>" (or "sqlite://:memory:") for a single node, "postgres://..." when several daemons share settings.
func OpenDatabase(dburl string, maxConnections int, logger *slog.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	gcfg := &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger: slogGorm.New(
			slogGorm.WithLogger(logger.With("system", "settings-db")),
			slogGorm.WithSlowThreshold(slowQueryThreshold),
		),
	}

	switch {
	case strings.HasPrefix(dburl, "sqlite://"):
		return openSqlite(strings.TrimPrefix(dburl, "sqlite://"), gcfg)
	case strings.HasPrefix(dburl, "postgres://"), strings.HasPrefix(dburl, "postgresql://"):
		db, err := gorm.Open(postgres.Open(dburl), gcfg)
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		sqldb, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqldb.SetMaxOpenConns(maxConnections)
		sqldb.SetMaxIdleConns(maxConnections / 2)
		sqldb.SetConnMaxIdleTime(time.Hour)
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database URL %q: expected sqlite:// or postgres://", dburl)
	}
}

// sqlite allows a single writer; all queries share one connection so that an in-memory database is also shared.
func openSqlite(path string, gcfg *gorm.Config) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite database URL has no path")
	}
	if !strings.Contains(path, ":memory:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), gcfg)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	sqldb, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1)

	for _, pragma := range []string{"journal_mode=WAL", "synchronous=normal", "busy_timeout=5000"} {
		if err := db.Exec("PRAGMA " + pragma + ";").Error; err != nil {
			return nil, fmt.Errorf("setting sqlite %s: %w", pragma, err)
		}
	}
	return db, nil
}

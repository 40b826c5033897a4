package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"noodle-backend/pkg/config"

	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Open connects to the configured store.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	switch cfg.Driver {
	case DriverSQLite, "":
		return OpenSQLite(cfg.DSN, gormCfg)
	case DriverPostgres:
		db, err := gorm.Open(postgres.Open(cfg.DSN), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenSQLite opens a file database through the pure Go driver with foreign
// keys on. Writes are funneled through one connection so that concurrent
// transactions queue instead of failing with SQLITE_BUSY.
func OpenSQLite(path string, gormCfg *gorm.Config) (*gorm.DB, error) {
	if gormCfg == nil {
		gormCfg = &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	}

	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Dialect returns DriverSQLite or DriverPostgres for db.
func Dialect(db *gorm.DB) string {
	if db.Dialector.Name() == "postgres" {
		return DriverPostgres
	}
	return DriverSQLite
}

// RunMigrations applies the embedded goose migrations for the db dialect.
func RunMigrations(ctx context.Context, db *gorm.DB, logger *zap.Logger) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}

	dir := "migrations/sqlite"
	dialect := goose.DialectSQLite3
	if Dialect(db) == DriverPostgres {
		dir = "migrations/postgres"
		dialect = goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrationsFS, dir)
	if err != nil {
		return err
	}

	provider, err := goose.NewProvider(dialect, sqlDB, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	if logger != nil {
		for _, r := range results {
			logger.Info("migration applied",
				zap.Int64("version", r.Source.Version),
				zap.Duration("duration", r.Duration))
		}
	}
	return nil
}

package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/erp/shopsync/internal/infrastructure/config"
	"github.com/erp/shopsync/internal/infrastructure/logger"
	"github.com/erp/shopsync/internal/infrastructure/persistence/models"
)

// DriverSQLite stores state in a local database file; the default for
// single-host deployments.
const DriverSQLite = "sqlite"

// DriverPostgres stores state in a shared postgres database for deployments
// where several hosts take turns running the engine.
const DriverPostgres = "postgres"

// Database holds the state store connection and provides methods for
// lifecycle operations.
type Database struct {
	DB     *gorm.DB
	driver string
}

// NewDatabase opens the state store selected by the state configuration.
// The sqlite driver creates the database file and its schema on first use;
// the postgres driver expects the schema to be migrated beforehand.
func NewDatabase(cfg *config.Config, log *zap.Logger) (*Database, error) {
	if log == nil {
		log = zap.NewNop()
	}
	gormCfg := &gorm.Config{
		Logger:                 logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level)),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	}

	switch cfg.State.Driver {
	case DriverSQLite, "":
		return newSQLiteDatabase(cfg.State.SQLitePath, gormCfg)
	case DriverPostgres:
		return newPostgresDatabase(&cfg.Database, gormCfg)
	default:
		return nil, fmt.Errorf("state: unsupported driver %q", cfg.State.Driver)
	}
}

func newSQLiteDatabase(path string, gormCfg *gorm.Config) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("state: sqlite path not configured")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open sqlite state store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// sqlite allows a single writer; one connection serializes state writes
	// without busy-retry loops.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.ProductStateModel{}, &models.SyncRunModel{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite state store: %w", err)
	}

	return &Database{DB: db, driver: DriverSQLite}, nil
}

func newPostgresDatabase(cfg *config.DatabaseConfig, gormCfg *gorm.Config) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: db, driver: DriverPostgres}, nil
}

// Driver returns the active driver name, sqlite or postgres.
func (d *Database) Driver() string {
	return d.driver
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// Package datastore opens the relational database behind the offline cache
// and keeps its schema current.
package datastore

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/liftmate/liftmate/internal/datastore/entities"
	"github.com/liftmate/liftmate/internal/datastore/repository"
	"github.com/liftmate/liftmate/internal/errors"
	"github.com/liftmate/liftmate/internal/logger"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// memoryPath selects a private in-memory SQLite database.
const memoryPath = ":memory:"

// Config selects and locates the database.
type Config struct {
	// Driver is DriverSQLite or DriverMySQL.
	Driver string
	// Path is the SQLite database file, or ":memory:".
	Path string
	// DSN is the MySQL data source name.
	DSN string
	// Debug logs every SQL statement.
	Debug bool
}

// Manager owns a database connection.
type Manager struct {
	db     *gorm.DB
	driver string
	log    logger.Logger
}

// Open connects to the configured database. Call Initialize before use.
func Open(cfg Config, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.Default()
	}
	gormCfg := &gorm.Config{
		Logger:  gorm_logger.Default.LogMode(gorm_logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}
	if cfg.Debug {
		gormCfg.Logger = gorm_logger.Default.LogMode(gorm_logger.Info)
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		dsn, dsnErr := sqliteDSN(cfg.Path)
		if dsnErr != nil {
			return nil, dsnErr
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		if err == nil {
			err = limitSQLiteConns(db)
		}
		cfg.Driver = DriverSQLite
	case DriverMySQL:
		if cfg.DSN == "" {
			return nil, errors.Newf("mysql driver requires a DSN").
				Component("datastore").
				Category(errors.CategoryConfig).
				Build()
		}
		db, err = gorm.Open(mysql.Open(cfg.DSN), gormCfg)
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver).
			Component("datastore").
			Category(errors.CategoryConfig).
			Build()
	}
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("driver", cfg.Driver).
			Context("operation", "open").
			Build()
	}

	log.Info("database opened", logger.String("driver", cfg.Driver))
	return &Manager{db: db, driver: cfg.Driver, log: log}, nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" || path == memoryPath {
		return "file::memory:?_foreign_keys=ON", nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", errors.New(err).
				Component("datastore").
				Category(errors.CategoryStorage).
				Context("path", dir).
				Build()
		}
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000", nil
}

// limitSQLiteConns serialises access; SQLite allows a single writer and an
// in-memory database exists per connection.
func limitSQLiteConns(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)
	return nil
}

// Initialize migrates the cache schema.
func (m *Manager) Initialize() error {
	if err := m.db.AutoMigrate(&entities.CacheNamespace{}, &entities.CacheEntry{}); err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryStorage).
			Context("operation", "migrate").
			Build()
	}
	m.log.Debug("database schema migrated", logger.String("driver", m.driver))
	return nil
}

// DB returns the GORM handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Driver returns the active driver name.
func (m *Manager) Driver() string {
	return m.driver
}

// Store returns the offline cache store backed by this database.
func (m *Manager) Store() repository.CacheRepository {
	return repository.NewCacheRepository(m.db)
}

// Close closes the underlying connection pool.
func (m *Manager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

// validTableNameRe matches MySQL identifiers: letters, digits, underscore and
// dollar sign, not starting with a digit.
var validTableNameRe = regexp.MustCompile(`^[a-zA-Z_$][a-zA-Z0-9_$]*$`)

// MySQLContainer wraps a testcontainers MySQL instance.
type MySQLContainer struct {
	container *mysql.MySQLContainer
	db        *sql.DB
	dsn       string
}

// MySQLConfig holds configuration for MySQL container creation.
type MySQLConfig struct {
	// Database name (default: "liftmate_test")
	Database string
	// Username for the application user (default: "liftmate")
	Username string
	// Password for the application user (default: "liftmate")
	Password string
	// Image (default: "mysql:8.0")
	Image string
}

// DefaultMySQLConfig returns the configuration used when none is given.
func DefaultMySQLConfig() MySQLConfig {
	return MySQLConfig{
		Database: "liftmate_test",
		Username: "liftmate",
		Password: "liftmate",
		Image:    "mysql:8.0",
	}
}

// NewMySQLContainer starts a MySQL container and opens a connection to it.
// If config is nil, DefaultMySQLConfig is used.
func NewMySQLContainer(ctx context.Context, config *MySQLConfig) (*MySQLContainer, error) {
	if config == nil {
		cfg := DefaultMySQLConfig()
		config = &cfg
	}

	container, err := mysql.Run(ctx, config.Image,
		mysql.WithDatabase(config.Database),
		mysql.WithUsername(config.Username),
		mysql.WithPassword(config.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start MySQL container: %w", err)
	}

	// GORM scans DATETIME columns into time.Time only with parseTime.
	dsn, err := container.ConnectionString(ctx, "parseTime=true", "charset=utf8mb4")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	c := &MySQLContainer{container: container, db: db, dsn: dsn}
	if err := c.HealthCheck(ctx); err != nil {
		_ = c.Terminate(context.Background())
		return nil, err
	}
	return c, nil
}

// DB returns the shared connection. Tests must not close it.
func (c *MySQLContainer) DB() *sql.DB {
	return c.db
}

// DSN returns the data source name, suitable for gorm.io/driver/mysql.
func (c *MySQLContainer) DSN() string {
	return c.dsn
}

// HealthCheck runs a trivial query against the database.
func (c *MySQLContainer) HealthCheck(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := c.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}
	return nil
}

// Reset truncates tables with foreign key checks disabled, so tests start
// from an empty schema.
func (c *MySQLContainer) Reset(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if !validTableNameRe.MatchString(table) {
			return fmt.Errorf("invalid table name: %q", table)
		}
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	stmts := make([]string, 0, len(tables)+2)
	stmts = append(stmts, "SET FOREIGN_KEY_CHECKS = 0")
	for _, table := range tables {
		stmts = append(stmts, "TRUNCATE TABLE `"+table+"`")
	}
	stmts = append(stmts, "SET FOREIGN_KEY_CHECKS = 1")

	for _, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}
	return nil
}

// Terminate closes the connection and removes the container.
func (c *MySQLContainer) Terminate(ctx context.Context) error {
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	if c.container != nil {
		if err := c.container.Terminate(ctx); err != nil {
			return fmt.Errorf("failed to terminate container: %w", err)
		}
	}
	return nil
}

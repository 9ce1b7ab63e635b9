package database

import (
	"database/sql"
	"fmt"
	"os"
	"regexp"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/Capstone-E1/extractlab_backend/config"
)

// Dialect identifies the SQL flavour behind a DB
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DB holds the database connection
type DB struct {
	*sql.DB
	Dialect Dialect
}

var pgPlaceholder = regexp.MustCompile(`\$(\d+)`)

// Rebind converts $N placeholders to the dialect's form. SQLite accepts ?N.
func (db *DB) Rebind(query string) string {
	if db.Dialect == SQLite {
		return pgPlaceholder.ReplaceAllString(query, "?$1")
	}
	return query
}

// Connect opens the configured database and checks it is reachable
func Connect(cfg config.DatabaseConfig, logger *logrus.Logger) (*DB, error) {
	if logger == nil {
		logger = logrus.New()
	}

	switch Dialect(cfg.Driver) {
	case Postgres:
		connStr := BuildConnectionString(cfg)
		// DATABASE_URL wins when provided by the hosting platform
		if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
			logger.Info("Using DATABASE_URL from environment")
			connStr = databaseURL
		} else {
			logger.Infof("Connecting to database at %s:%s/%s", cfg.Host, cfg.Port, cfg.DBName)
		}
		db, err := open("postgres", connStr)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(10)
		logger.Info("Successfully connected to PostgreSQL database")
		return &DB{DB: db, Dialect: Postgres}, nil

	case SQLite:
		db, err := open("sqlite", cfg.SQLitePath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
		if err != nil {
			return nil, err
		}
		// single writer
		db.SetMaxOpenConns(1)
		logger.WithField("path", cfg.SQLitePath).Info("Successfully opened SQLite database")
		return &DB{DB: db, Dialect: SQLite}, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}

func open(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database connection")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}

// BuildConnectionString builds a PostgreSQL connection string
func BuildConnectionString(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

package database

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var requiredTables = []string{"batches", "training_runs"}

type columnTypes struct {
	serial    string
	timestamp string
	boolean   string
	now       string
}

func (db *DB) columnTypes() columnTypes {
	if db.Dialect == SQLite {
		return columnTypes{
			serial:    "INTEGER PRIMARY KEY AUTOINCREMENT",
			timestamp: "TIMESTAMP",
			boolean:   "BOOLEAN",
			now:       "CURRENT_TIMESTAMP",
		}
	}
	return columnTypes{
		serial:    "SERIAL PRIMARY KEY",
		timestamp: "TIMESTAMP WITH TIME ZONE",
		boolean:   "BOOLEAN",
		now:       "NOW()",
	}
}

// CreateTables creates the batch and training run tables for the configured dialect
func CreateTables(db *DB, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}
	logger.Info("Creating database tables...")
	t := db.columnTypes()

	// batches holds one row per extraction batch, keyed by batch_id
	batchesTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS batches (
		batch_id VARCHAR(100) PRIMARY KEY,
		date %[1]s NOT NULL,
		technician VARCHAR(200) NOT NULL DEFAULT '',
		strain VARCHAR(200) NOT NULL DEFAULT '',
		material_type VARCHAR(100) NOT NULL DEFAULT '',
		temp_c DOUBLE PRECISION NOT NULL,
		time_min DOUBLE PRECISION NOT NULL,
		rpm DOUBLE PRECISION NOT NULL,
		initial_weight_g DOUBLE PRECISION NOT NULL CHECK (initial_weight_g >= 0),
		moisture_percent DOUBLE PRECISION NOT NULL CHECK (moisture_percent >= 0 AND moisture_percent <= 100),
		final_weight_g DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (final_weight_g >= 0),
		initial_potency DOUBLE PRECISION NOT NULL DEFAULT 0,
		d9_thc DOUBLE PRECISION NOT NULL DEFAULT 0,
		d8_thc DOUBLE PRECISION NOT NULL DEFAULT 0,
		cbd DOUBLE PRECISION NOT NULL DEFAULT 0,
		cbg DOUBLE PRECISION NOT NULL DEFAULT 0,
		cbn DOUBLE PRECISION NOT NULL DEFAULT 0,
		cbc DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_cannabinoids DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_thc DOUBLE PRECISION NOT NULL DEFAULT 0,
		degradation_index DOUBLE PRECISION NOT NULL DEFAULT 0,
		isomerization_ratio DOUBLE PRECISION NOT NULL DEFAULT 0,
		extraction_efficiency DOUBLE PRECISION NOT NULL DEFAULT 0,
		efficiency_source VARCHAR(20) NOT NULL DEFAULT '',
		process_yield DOUBLE PRECISION NOT NULL DEFAULT 0,
		grade VARCHAR(2) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'Pending' CHECK (status IN ('Pass', 'Fail', 'Pending')),
		anomaly %[2]s NOT NULL DEFAULT FALSE,
		anomaly_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at %[1]s NOT NULL DEFAULT %[3]s,
		updated_at %[1]s NOT NULL DEFAULT %[3]s
	);`, t.timestamp, t.boolean, t.now)

	if _, err := db.Exec(batchesTable); err != nil {
		return errors.Wrap(err, "failed to create batches table")
	}

	trainingRunsTable := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS training_runs (
		id %[1]s,
		model VARCHAR(100) NOT NULL,
		trigger_source VARCHAR(50) NOT NULL DEFAULT '',
		samples INTEGER NOT NULL DEFAULT 0,
		success %[3]s NOT NULL DEFAULT FALSE,
		error_message TEXT NOT NULL DEFAULT '',
		version VARCHAR(100) NOT NULL DEFAULT '',
		r_squared DOUBLE PRECISION,
		started_at %[2]s NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0
	);`, t.serial, t.timestamp, t.boolean)

	if _, err := db.Exec(trainingRunsTable); err != nil {
		return errors.Wrap(err, "failed to create training_runs table")
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_batches_date ON batches(date DESC);",
		"CREATE INDEX IF NOT EXISTS idx_batches_status ON batches(status);",
		"CREATE INDEX IF NOT EXISTS idx_training_runs_started ON training_runs(started_at DESC);",
	}
	for _, indexSQL := range indexes {
		if _, err := db.Exec(indexSQL); err != nil {
			logger.WithError(err).Warn("Failed to create index")
		}
	}

	logger.Info("✅ Database tables created successfully")
	return nil
}

// DropTables drops all tables (useful for testing)
func DropTables(db *DB, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}
	logger.Info("Dropping database tables...")

	cascade := " CASCADE"
	if db.Dialect == SQLite {
		cascade = ""
	}
	for _, table := range requiredTables {
		query := fmt.Sprintf("DROP TABLE IF EXISTS %s%s;", table, cascade)
		if _, err := db.Exec(query); err != nil {
			return errors.Wrapf(err, "failed to drop table %s", table)
		}
	}

	logger.Info("✅ Database tables dropped successfully")
	return nil
}

// CheckTablesExist checks if all required tables exist
func CheckTablesExist(db *DB) error {
	query := `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1);`
	if db.Dialect == SQLite {
		query = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = $1);`
	}

	for _, table := range requiredTables {
		var exists bool
		if err := db.QueryRow(db.Rebind(query), table).Scan(&exists); err != nil {
			return errors.Wrapf(err, "failed to check table %s", table)
		}
		if !exists {
			return fmt.Errorf("table %s does not exist", table)
		}
	}
	return nil
}

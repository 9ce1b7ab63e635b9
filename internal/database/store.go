package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
)

// DatabaseStore implements store.DataStore on PostgreSQL or SQLite
type DatabaseStore struct {
	db *DB
}

var _ store.DataStore = (*DatabaseStore)(nil)

// NewDatabaseStore creates a new database store
func NewDatabaseStore(db *DB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

const batchColumns = `batch_id, date, technician, strain, material_type,
	temp_c, time_min, rpm, initial_weight_g, moisture_percent,
	final_weight_g, initial_potency,
	d9_thc, d8_thc, cbd, cbg, cbn, cbc,
	total_cannabinoids, total_thc, degradation_index, isomerization_ratio,
	extraction_efficiency, efficiency_source, process_yield,
	grade, status, anomaly, anomaly_score, created_at, updated_at`

// Ping checks the connection
func (s *DatabaseStore) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "ping database")
}

// SaveBatch inserts or replaces a batch keyed by batch_id. created_at is
// kept from the first insert.
func (s *DatabaseStore) SaveBatch(ctx context.Context, b *models.BatchRecord) error {
	if strings.TrimSpace(b.BatchID) == "" {
		return errors.Wrap(models.ErrInvalidInput, "batch_id is required")
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	query := `
		INSERT INTO batches (` + batchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
		ON CONFLICT (batch_id) DO UPDATE SET
			date = excluded.date,
			technician = excluded.technician,
			strain = excluded.strain,
			material_type = excluded.material_type,
			temp_c = excluded.temp_c,
			time_min = excluded.time_min,
			rpm = excluded.rpm,
			initial_weight_g = excluded.initial_weight_g,
			moisture_percent = excluded.moisture_percent,
			final_weight_g = excluded.final_weight_g,
			initial_potency = excluded.initial_potency,
			d9_thc = excluded.d9_thc,
			d8_thc = excluded.d8_thc,
			cbd = excluded.cbd,
			cbg = excluded.cbg,
			cbn = excluded.cbn,
			cbc = excluded.cbc,
			total_cannabinoids = excluded.total_cannabinoids,
			total_thc = excluded.total_thc,
			degradation_index = excluded.degradation_index,
			isomerization_ratio = excluded.isomerization_ratio,
			extraction_efficiency = excluded.extraction_efficiency,
			efficiency_source = excluded.efficiency_source,
			process_yield = excluded.process_yield,
			grade = excluded.grade,
			status = excluded.status,
			anomaly = excluded.anomaly,
			anomaly_score = excluded.anomaly_score,
			updated_at = excluded.updated_at`

	p, pr, m := b.Process, b.Profile, b.Metrics
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		b.BatchID, b.Date.UTC(), b.Technician, b.Strain, b.MaterialType,
		p.TemperatureC, p.TimeMin, p.RPM, p.InitialWeightG, p.MoisturePercent,
		b.FinalWeightG, b.InitialPotency,
		pr.D9THC, pr.D8THC, pr.CBD, pr.CBG, pr.CBN, pr.CBC,
		m.TotalCannabinoids, m.TotalTHC, m.DegradationIndex, m.IsomerizationRatio,
		b.ExtractionEfficiency, string(b.EfficiencySource), b.ProcessYield,
		string(b.Grade), string(b.Status), b.Anomaly, b.AnomalyScore, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "save batch %s", b.BatchID)
	}

	// Report the stored creation time on upsert
	var created time.Time
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`SELECT created_at FROM batches WHERE batch_id = $1`), b.BatchID)
	if err := row.Scan(&created); err == nil {
		b.CreatedAt = created.UTC()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(r rowScanner) (models.BatchRecord, error) {
	var (
		b                          models.BatchRecord
		source, grade, status      string
		date, createdAt, updatedAt time.Time
	)
	err := r.Scan(
		&b.BatchID, &date, &b.Technician, &b.Strain, &b.MaterialType,
		&b.Process.TemperatureC, &b.Process.TimeMin, &b.Process.RPM, &b.Process.InitialWeightG, &b.Process.MoisturePercent,
		&b.FinalWeightG, &b.InitialPotency,
		&b.Profile.D9THC, &b.Profile.D8THC, &b.Profile.CBD, &b.Profile.CBG, &b.Profile.CBN, &b.Profile.CBC,
		&b.Metrics.TotalCannabinoids, &b.Metrics.TotalTHC, &b.Metrics.DegradationIndex, &b.Metrics.IsomerizationRatio,
		&b.ExtractionEfficiency, &source, &b.ProcessYield,
		&grade, &status, &b.Anomaly, &b.AnomalyScore, &createdAt, &updatedAt)
	if err != nil {
		return b, err
	}
	b.EfficiencySource = models.EfficiencySource(source)
	b.Grade = models.Grade(grade)
	b.Status = models.BatchStatus(status)
	b.Date, b.CreatedAt, b.UpdatedAt = date.UTC(), createdAt.UTC(), updatedAt.UTC()
	return b, nil
}

// GetBatch returns one batch or store.ErrBatchNotFound
func (s *DatabaseStore) GetBatch(ctx context.Context, batchID string) (*models.BatchRecord, error) {
	query := `SELECT ` + batchColumns + ` FROM batches WHERE batch_id = $1`
	b, err := scanBatch(s.db.QueryRowContext(ctx, s.db.Rebind(query), batchID))
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(store.ErrBatchNotFound, batchID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get batch %s", batchID)
	}
	return &b, nil
}

// ListBatches returns batches newest first; limit <= 0 returns all
func (s *DatabaseStore) ListBatches(ctx context.Context, limit int) ([]models.BatchRecord, error) {
	query := `SELECT ` + batchColumns + ` FROM batches ORDER BY date DESC, batch_id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	return s.queryBatches(ctx, query, args...)
}

// ListBatchesInRange returns batches dated within [start, end], newest first
func (s *DatabaseStore) ListBatchesInRange(ctx context.Context, start, end time.Time) ([]models.BatchRecord, error) {
	query := `SELECT ` + batchColumns + ` FROM batches
		WHERE date >= $1 AND date <= $2
		ORDER BY date DESC, batch_id DESC`
	return s.queryBatches(ctx, query, start.UTC(), end.UTC())
}

func (s *DatabaseStore) queryBatches(ctx context.Context, query string, args ...any) ([]models.BatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query batches")
	}
	defer rows.Close()

	var batches []models.BatchRecord
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan batch")
		}
		batches = append(batches, b)
	}
	return batches, errors.Wrap(rows.Err(), "iterate batches")
}

// DeleteBatch removes a batch or returns store.ErrBatchNotFound
func (s *DatabaseStore) DeleteBatch(ctx context.Context, batchID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM batches WHERE batch_id = $1`), batchID)
	if err != nil {
		return errors.Wrapf(err, "delete batch %s", batchID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrap(store.ErrBatchNotFound, batchID)
	}
	return nil
}

// BatchCount returns the number of stored batches
func (s *DatabaseStore) BatchCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches`).Scan(&n)
	return n, errors.Wrap(err, "count batches")
}

// SaveTrainingRun appends a run and sets its ID
func (s *DatabaseStore) SaveTrainingRun(ctx context.Context, run *models.TrainingRun) error {
	query := `
		INSERT INTO training_runs (model, trigger_source, samples, success, error_message, version, r_squared, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	var r2 sql.NullFloat64
	if run.RSquared != nil {
		r2 = sql.NullFloat64{Float64: *run.RSquared, Valid: true}
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, s.db.Rebind(query),
		run.Model, run.Trigger, run.Samples, run.Success, run.Error, run.Version, r2, run.StartedAt.UTC(), run.Duration,
	).Scan(&run.ID)
	return errors.Wrap(err, "save training run")
}

// ListTrainingRuns returns runs newest first; limit <= 0 returns all
func (s *DatabaseStore) ListTrainingRuns(ctx context.Context, limit int) ([]models.TrainingRun, error) {
	query := `SELECT id, model, trigger_source, samples, success, error_message, version, r_squared, started_at, duration_ms
		FROM training_runs ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query training runs")
	}
	defer rows.Close()

	var runs []models.TrainingRun
	for rows.Next() {
		var (
			run     models.TrainingRun
			r2      sql.NullFloat64
			started time.Time
		)
		if err := rows.Scan(&run.ID, &run.Model, &run.Trigger, &run.Samples, &run.Success, &run.Error,
			&run.Version, &r2, &started, &run.Duration); err != nil {
			return nil, errors.Wrap(err, "scan training run")
		}
		if r2.Valid {
			v := r2.Float64
			run.RSquared = &v
		}
		run.StartedAt = started.UTC()
		runs = append(runs, run)
	}
	return runs, errors.Wrap(rows.Err(), "iterate training runs")
}

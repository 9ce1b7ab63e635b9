package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Capstone-E1/extractlab_backend/config"
	"github.com/Capstone-E1/extractlab_backend/internal/models"
	"github.com/Capstone-E1/extractlab_backend/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := Connect(config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "extraction.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, CreateTables(db, logger))
	return db
}

func sampleBatch(id string, date time.Time) *models.BatchRecord {
	b := &models.BatchRecord{
		BatchID:        id,
		Date:           date,
		Technician:     "Dr. Sarah Chen",
		Strain:         "Blue Dream",
		MaterialType:   "flower",
		Process:        models.DefaultProcessParameters(),
		FinalWeightG:   260,
		InitialPotency: 20,
		Profile:        models.CannabinoidProfile{D9THC: 84.7281, D8THC: 3.3685, CBD: 0.7541, CBG: 1.5392, CBN: 1.8792, CBC: 0.1738},
		Grade:          models.GradeB,
		Status:         models.BatchStatusPass,
		AnomalyScore:   0.031,
	}
	b.Recalculate()
	return b
}

func TestRebind(t *testing.T) {
	pg := &DB{Dialect: Postgres}
	lite := &DB{Dialect: SQLite}
	q := "SELECT * FROM batches WHERE batch_id = $1 AND date > $12"
	assert.Equal(t, q, pg.Rebind(q))
	assert.Equal(t, "SELECT * FROM batches WHERE batch_id = ?1 AND date > ?12", lite.Rebind(q))
}

func TestMigrations(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, CheckTablesExist(db))
	// idempotent
	require.NoError(t, CreateTables(db, nil))

	require.NoError(t, DropTables(db, nil))
	assert.Error(t, CheckTablesExist(db))
}

func TestDatabaseStore_BatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewDatabaseStore(openTestDB(t))
	day := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

	b := sampleBatch("B-2025-001", day)
	require.NoError(t, s.SaveBatch(ctx, b))

	got, err := s.GetBatch(ctx, "B-2025-001")
	require.NoError(t, err)

	// timestamps compared separately; the driver may drop monotonic readings
	opts := cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
	if diff := cmp.Diff(*b, *got, opts); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, models.EfficiencyMeasured, got.EfficiencySource)
}

func TestDatabaseStore_UpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewDatabaseStore(openTestDB(t))

	first := sampleBatch("B-1", time.Now().UTC())
	require.NoError(t, s.SaveBatch(ctx, first))

	second := sampleBatch("B-1", time.Now().UTC())
	second.Strain = "OG Kush"
	second.CreatedAt = time.Time{}
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.SaveBatch(ctx, second))
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))

	got, err := s.GetBatch(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, "OG Kush", got.Strain)

	n, err := s.BatchCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDatabaseStore_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewDatabaseStore(openTestDB(t))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"B-1", "B-2", "B-3"} {
		require.NoError(t, s.SaveBatch(ctx, sampleBatch(id, base.AddDate(0, 0, i))))
	}

	all, err := s.ListBatches(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "B-3", all[0].BatchID)

	two, err := s.ListBatches(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)

	ranged, err := s.ListBatchesInRange(ctx, base, base.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, ranged, 2)
	assert.Equal(t, "B-2", ranged[0].BatchID)

	require.NoError(t, s.DeleteBatch(ctx, "B-2"))
	assert.ErrorIs(t, s.DeleteBatch(ctx, "B-2"), store.ErrBatchNotFound)
	_, err = s.GetBatch(ctx, "B-2")
	assert.ErrorIs(t, err, store.ErrBatchNotFound)

	assert.ErrorIs(t, s.SaveBatch(ctx, &models.BatchRecord{}), models.ErrInvalidInput)
}

func TestDatabaseStore_TrainingRuns(t *testing.T) {
	ctx := context.Background()
	s := NewDatabaseStore(openTestDB(t))

	r2 := 0.93
	runs := []*models.TrainingRun{
		{Model: "extraction_optimizer", Trigger: "manual", Samples: 24, Success: true, Version: "v1", RSquared: &r2, Duration: 12},
		{Model: "anomaly_detector", Trigger: "scheduled", Samples: 4, Error: "need 10 samples, have 4"},
	}
	for _, r := range runs {
		require.NoError(t, s.SaveTrainingRun(ctx, r))
		assert.NotZero(t, r.ID)
	}

	got, err := s.ListTrainingRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "anomaly_detector", got[0].Model)
	assert.Nil(t, got[0].RSquared)
	assert.False(t, got[0].Success)
	require.NotNil(t, got[1].RSquared)
	assert.InDelta(t, 0.93, *got[1].RSquared, 1e-12)

	one, err := s.ListTrainingRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	assert.NoError(t, s.Ping(ctx))
}

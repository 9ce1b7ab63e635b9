package store

import (
	"context"
	"errors"
	"time"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// ErrBatchNotFound is returned when no batch has the requested ID
var ErrBatchNotFound = errors.New("batch not found")

// DataStore defines the interface for batch storage operations
type DataStore interface {
	// Health check
	Ping(ctx context.Context) error

	// SaveBatch inserts or replaces the batch keyed by BatchID
	SaveBatch(ctx context.Context, batch *models.BatchRecord) error
	GetBatch(ctx context.Context, batchID string) (*models.BatchRecord, error)
	// ListBatches returns the newest batches first; limit <= 0 means all
	ListBatches(ctx context.Context, limit int) ([]models.BatchRecord, error)
	ListBatchesInRange(ctx context.Context, start, end time.Time) ([]models.BatchRecord, error)
	DeleteBatch(ctx context.Context, batchID string) error
	BatchCount(ctx context.Context) (int, error)

	// Model training history
	SaveTrainingRun(ctx context.Context, run *models.TrainingRun) error
	ListTrainingRuns(ctx context.Context, limit int) ([]models.TrainingRun, error)
}

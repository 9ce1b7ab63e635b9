package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Capstone-E1/extractlab_backend/internal/models"
)

// Store keeps batch records in memory. It is used when no database is
// configured and in tests.
type Store struct {
	mu           sync.RWMutex
	batches      map[string]models.BatchRecord
	trainingRuns []models.TrainingRun
	nextRunID    int
	maxRuns      int
}

// NewStore creates a new in-memory store keeping at most maxRuns training runs
func NewStore(maxRuns int) *Store {
	if maxRuns <= 0 {
		maxRuns = 100 // Default to last 100 training runs
	}
	return &Store{
		batches:   make(map[string]models.BatchRecord),
		nextRunID: 1,
		maxRuns:   maxRuns,
	}
}

// Ping always succeeds for the in-memory store
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// SaveBatch inserts or replaces a batch
func (s *Store) SaveBatch(ctx context.Context, batch *models.BatchRecord) error {
	if batch == nil || strings.TrimSpace(batch.BatchID) == "" {
		return fmt.Errorf("%w: batch_id is required", models.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.batches[batch.BatchID]; ok {
		batch.CreatedAt = existing.CreatedAt
	} else if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now
	s.batches[batch.BatchID] = *batch
	return nil
}

// GetBatch returns a copy of the batch with the given ID
func (s *Store) GetBatch(ctx context.Context, batchID string) (*models.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return &b, nil
}

// ListBatches returns batches newest first
func (s *Store) ListBatches(ctx context.Context, limit int) ([]models.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.sortedLocked()
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListBatchesInRange returns batches dated within [start, end], newest first
func (s *Store) ListBatchesInRange(ctx context.Context, start, end time.Time) ([]models.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.BatchRecord
	for _, b := range s.sortedLocked() {
		if !b.Date.Before(start) && !b.Date.After(end) {
			result = append(result, b)
		}
	}
	return result, nil
}

// DeleteBatch removes a batch
func (s *Store) DeleteBatch(ctx context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batchID]; !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	delete(s.batches, batchID)
	return nil
}

// BatchCount returns the number of stored batches
func (s *Store) BatchCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches), nil
}

// SaveTrainingRun appends a training run, dropping the oldest past maxRuns
func (s *Store) SaveTrainingRun(ctx context.Context, run *models.TrainingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run.ID = s.nextRunID
	s.nextRunID++
	s.trainingRuns = append(s.trainingRuns, *run)
	if len(s.trainingRuns) > s.maxRuns {
		s.trainingRuns = s.trainingRuns[len(s.trainingRuns)-s.maxRuns:]
	}
	return nil
}

// ListTrainingRuns returns training runs newest first
func (s *Store) ListTrainingRuns(ctx context.Context, limit int) ([]models.TrainingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.trainingRuns)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]models.TrainingRun, 0, limit)
	for i := n - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.trainingRuns[i])
	}
	return result, nil
}

func (s *Store) sortedLocked() []models.BatchRecord {
	result := make([]models.BatchRecord, 0, len(s.batches))
	for _, b := range s.batches {
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.After(result[j].Date)
		}
		return result[i].BatchID < result[j].BatchID
	})
	return result
}

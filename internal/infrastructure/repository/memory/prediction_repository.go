// Package memory holds an in-process prediction store with the same
// semantics as the Postgres repository. It backs local development and the
// usecase test suites.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

type PredictionRepository struct {
	mu      sync.RWMutex
	seq     int64
	records map[int64]domain.Prediction

	now func() time.Time
}

func New() *PredictionRepository {
	return &PredictionRepository{
		records: make(map[int64]domain.Prediction),
		now:     time.Now,
	}
}

// NewWithClock injects the insert timestamp source; tests use it to pin
// created_at values.
func NewWithClock(now func() time.Time) *PredictionRepository {
	repo := New()
	repo.now = now
	return repo
}

// Insert assigns the next id under the lock. The sequence only moves
// forward, so ids are never reused even after deletes.
func (r *PredictionRepository) Insert(_ context.Context, draft domain.PredictionDraft) (*domain.Prediction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec := domain.Prediction{
		ID:           r.seq,
		ImagePath:    draft.ImagePath,
		Label:        draft.Label,
		Confidence:   draft.Confidence,
		Distribution: append(domain.Distribution(nil), draft.Distribution...),
		CreatedAt:    r.now().UTC(),
	}
	r.records[rec.ID] = rec

	out := rec
	return &out, nil
}

func (r *PredictionRepository) GetByID(_ context.Context, id int64) (*domain.Prediction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrPredictionNotFound, "get prediction", fmt.Errorf("id %d", id))
	}
	out := rec
	return &out, nil
}

func (r *PredictionRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[id]; !ok {
		return domain.WrapError(domain.ErrPredictionNotFound, "delete prediction", fmt.Errorf("id %d", id))
	}
	delete(r.records, id)
	return nil
}

// List orders by (created_at, id) descending; same clamping rules as the
// Postgres repository.
func (r *PredictionRepository) List(_ context.Context, skip, limit int) ([]domain.Prediction, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		return []domain.Prediction{}, nil
	}

	r.mu.RLock()
	all := make([]domain.Prediction, 0, len(r.records))
	for _, rec := range r.records {
		all = append(all, rec)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if skip >= len(all) {
		return []domain.Prediction{}, nil
	}
	end := skip + limit
	if end > len(all) {
		end = len(all)
	}
	return all[skip:end], nil
}

func (r *PredictionRepository) CountAll(context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.records)), nil
}

func (r *PredictionRepository) AverageConfidence(context.Context) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.records) == 0 {
		return 0, nil
	}
	var sum float64
	for _, rec := range r.records {
		sum += rec.Confidence
	}
	return sum / float64(len(r.records)), nil
}

func (r *PredictionRepository) CountByLabel(context.Context) (map[string]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := map[string]int64{}
	for _, rec := range r.records {
		out[rec.Label]++
	}
	return out, nil
}

// CountCreatedBetween counts records in the half-open window [from, to).
func (r *PredictionRepository) CountCreatedBetween(_ context.Context, from, to time.Time) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, rec := range r.records {
		if !rec.CreatedAt.Before(from) && rec.CreatedAt.Before(to) {
			count++
		}
	}
	return count, nil
}

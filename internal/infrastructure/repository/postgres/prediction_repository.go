package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

// PredictionRepository is the durable prediction log. The BIGSERIAL primary
// key gives atomic, strictly increasing IDs that are never reused, and all
// aggregates run server-side against the created_at/label indexes.
type PredictionRepository struct {
	db *sql.DB
}

func NewPredictionRepository(db *sql.DB) *PredictionRepository {
	return &PredictionRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *PredictionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	// The distribution column is JSON, not JSONB: jsonb normalizes object
	// key order, and the column's key order is the record's
	// descending-probability presentation.
	const query = `
CREATE TABLE IF NOT EXISTS predictions (
	id BIGSERIAL PRIMARY KEY,
	image_path TEXT NOT NULL,
	predicted_label TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	distribution JSON NOT NULL DEFAULT '{}'::json,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_predictions_label ON predictions(predicted_label);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *PredictionRepository) Insert(ctx context.Context, draft domain.PredictionDraft) (*domain.Prediction, error) {
	distJSON, err := json.Marshal(draft.Distribution)
	if err != nil {
		return nil, fmt.Errorf("marshal distribution: %w", err)
	}
	createdAt := time.Now().UTC()

	var id int64
	err = r.db.QueryRowContext(ctx, `
INSERT INTO predictions (image_path, predicted_label, confidence, distribution, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id
`, draft.ImagePath, draft.Label, draft.Confidence, distJSON, createdAt).Scan(&id)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "insert prediction", err)
	}

	return &domain.Prediction{
		ID:           id,
		ImagePath:    draft.ImagePath,
		Label:        draft.Label,
		Confidence:   draft.Confidence,
		Distribution: draft.Distribution,
		CreatedAt:    createdAt,
	}, nil
}

func (r *PredictionRepository) GetByID(ctx context.Context, id int64) (*domain.Prediction, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, image_path, predicted_label, confidence, distribution, created_at
FROM predictions
WHERE id = $1
`, id)

	rec, err := scanPrediction(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrPredictionNotFound, "get prediction", err)
		}
		return nil, domain.WrapError(domain.ErrStorage, "get prediction", err)
	}
	return rec, nil
}

func (r *PredictionRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM predictions WHERE id = $1`, id)
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "delete prediction", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.WrapError(domain.ErrStorage, "delete prediction", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrPredictionNotFound, "delete prediction",
			fmt.Errorf("id %d", id))
	}
	return nil
}

// List returns a page ordered most-recent-first, ties on created_at broken
// by id. Negative skip is clamped to 0; limit <= 0 yields an empty page.
// The HTTP adapter rejects such values before they get here.
func (r *PredictionRepository) List(ctx context.Context, skip, limit int) ([]domain.Prediction, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		return []domain.Prediction{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, image_path, predicted_label, confidence, distribution, created_at
FROM predictions
ORDER BY created_at DESC, id DESC
OFFSET $1 LIMIT $2
`, skip, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "list predictions", err)
	}
	defer rows.Close()

	out := []domain.Prediction{}
	for rows.Next() {
		rec, err := scanPrediction(rows.Scan)
		if err != nil {
			return nil, domain.WrapError(domain.ErrStorage, "scan prediction row", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "list predictions", err)
	}
	return out, nil
}

func (r *PredictionRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM predictions`).Scan(&count)
	if err != nil {
		return 0, domain.WrapError(domain.ErrStorage, "count predictions", err)
	}
	return count, nil
}

func (r *PredictionRepository) AverageConfidence(ctx context.Context) (float64, error) {
	var avg float64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(AVG(confidence), 0) FROM predictions`).Scan(&avg)
	if err != nil {
		return 0, domain.WrapError(domain.ErrStorage, "average confidence", err)
	}
	return avg, nil
}

func (r *PredictionRepository) CountByLabel(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT predicted_label, COUNT(*)
FROM predictions
GROUP BY predicted_label
`)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "count by label", err)
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, domain.WrapError(domain.ErrStorage, "scan label count", err)
		}
		out[label] = count
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrStorage, "count by label", err)
	}
	return out, nil
}

// CountCreatedBetween counts records in the half-open window [from, to).
func (r *PredictionRepository) CountCreatedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM predictions
WHERE created_at >= $1 AND created_at < $2
`, from, to).Scan(&count)
	if err != nil {
		return 0, domain.WrapError(domain.ErrStorage, "count predictions in range", err)
	}
	return count, nil
}

func scanPrediction(scan func(dest ...any) error) (*domain.Prediction, error) {
	var rec domain.Prediction
	var distRaw []byte
	if err := scan(&rec.ID, &rec.ImagePath, &rec.Label, &rec.Confidence, &distRaw, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(distRaw, &rec.Distribution); err != nil {
		return nil, fmt.Errorf("unmarshal distribution: %w", err)
	}
	// Rows written before the column was JSON carry jsonb's key order;
	// restore the descending presentation regardless of what is stored.
	rec.Distribution.SortByProbability()
	return &rec, nil
}

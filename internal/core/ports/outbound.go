package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

// Classifier maps raw image bytes to a label plus a full probability
// distribution over its fixed label set.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (domain.Classification, error)
	Labels() []string
}

// PredictionRepository is the append-only prediction log. IDs are assigned by
// the store, strictly increasing and never reused after deletes. List order
// is (created_at, id) descending.
type PredictionRepository interface {
	Insert(ctx context.Context, draft domain.PredictionDraft) (*domain.Prediction, error)
	GetByID(ctx context.Context, id int64) (*domain.Prediction, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, skip, limit int) ([]domain.Prediction, error)

	CountAll(ctx context.Context) (int64, error)
	AverageConfidence(ctx context.Context) (float64, error)
	CountByLabel(ctx context.Context) (map[string]int64, error)
	CountCreatedBetween(ctx context.Context, from, to time.Time) (int64, error)
}

// ImageStorage stores the uploaded source images, one per prediction record.
type ImageStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Remove(ctx context.Context, key string) error
}

// EventQueue publishes/consumes prediction lifecycle events.
type EventQueue interface {
	PublishPredictionCreated(ctx context.Context, predictionID int64) error
	SubscribePredictionCreated(ctx context.Context, handler func(context.Context, int64) error) error
}

// StatsReportWriter renders a statistics summary into a downloadable report.
type StatsReportWriter interface {
	WriteReport(ctx context.Context, summary domain.StatsSummary, out io.Writer) error
}

package ports

import (
	"context"
	"io"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

// PredictionSubmitter is the inbound contract for the image upload and
// classification flow.
type PredictionSubmitter interface {
	Submit(ctx context.Context, filename string, body io.Reader) (*domain.Prediction, error)
}

// PredictionRemover deletes a prediction and releases its stored image.
type PredictionRemover interface {
	Remove(ctx context.Context, id int64) (*domain.RemovalReceipt, error)
}

// StatsProvider computes aggregate statistics over the prediction log.
type StatsProvider interface {
	Summary(ctx context.Context) (*domain.StatsSummary, error)
	ExportReport(ctx context.Context, out io.Writer) error
}

package domain

import (
	"fmt"
	"time"
)

// Prediction is one immutable persisted classification outcome. The store
// assigns ID and CreatedAt on insert; everything else is fixed at creation.
type Prediction struct {
	ID           int64        `json:"id"`
	ImagePath    string       `json:"image_path"`
	Label        string       `json:"predicted_class"`
	Confidence   float64      `json:"confidence"`
	Distribution Distribution `json:"distribution"`
	CreatedAt    time.Time    `json:"created_at"`
}

// PredictionDraft is what the submit use case hands to the store; the store
// fills in ID and CreatedAt.
type PredictionDraft struct {
	ImagePath    string
	Label        string
	Confidence   float64
	Distribution Distribution
}

// Classification is the raw classifier output before persistence.
type Classification struct {
	Label        string       `json:"predicted_class"`
	Confidence   float64      `json:"confidence"`
	Distribution Distribution `json:"all_predictions"`
}

// Validate enforces the insert-time invariants: the distribution is a valid
// simplex over the label set, the label belongs to it, and the confidence
// equals the distribution's value at the label.
func (c Classification) Validate(labelSet []string) error {
	if err := c.Distribution.Validate(labelSet); err != nil {
		return err
	}
	p, ok := c.Distribution.Get(c.Label)
	if !ok {
		return fmt.Errorf("predicted label %q is not in the distribution", c.Label)
	}
	if p != c.Confidence {
		return fmt.Errorf("confidence %g does not match distribution value %g for %q", c.Confidence, p, c.Label)
	}
	return nil
}

// RemovalReceipt reports the outcome of deleting a prediction. A failed
// image release does not undo the deletion; it is surfaced as a warning.
type RemovalReceipt struct {
	ID            int64  `json:"id"`
	ImageReleased bool   `json:"image_released"`
	Warning       string `json:"warning,omitempty"`
}

// StatsSummary is the aggregate view over the whole prediction log.
// MostCommonLabel is nil when the log is empty.
type StatsSummary struct {
	TotalPredictions  int64            `json:"total_predictions"`
	AverageConfidence float64          `json:"average_confidence"`
	MostCommonLabel   *string          `json:"most_common_class"`
	PredictionsToday  int64            `json:"predictions_today"`
	ClassDistribution map[string]int64 `json:"class_distribution"`
}

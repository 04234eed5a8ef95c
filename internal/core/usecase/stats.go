package usecase

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
	"github.com/kirillkom/car-vision-api/internal/core/ports"
)

// StatsUseCase computes aggregates on demand; nothing is materialized, every
// call reads the store. "Today" is the server's local calendar date and is
// recomputed per call, so the window rolls over at local midnight.
type StatsUseCase struct {
	repo         ports.PredictionRepository
	reportWriter ports.StatsReportWriter

	// canonicalLabels fixes the most-common tie-break order; labels outside
	// it fall back to lexicographic order.
	canonicalLabels []string
	now             func() time.Time
}

func NewStatsUseCase(repo ports.PredictionRepository, reportWriter ports.StatsReportWriter, canonicalLabels []string) *StatsUseCase {
	return &StatsUseCase{
		repo:            repo,
		reportWriter:    reportWriter,
		canonicalLabels: canonicalLabels,
		now:             time.Now,
	}
}

// WithClock overrides the time source. Tests use it to pin the local-date
// window.
func (uc *StatsUseCase) WithClock(now func() time.Time) *StatsUseCase {
	uc.now = now
	return uc
}

func (uc *StatsUseCase) Summary(ctx context.Context) (*domain.StatsSummary, error) {
	total, err := uc.repo.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &domain.StatsSummary{
			ClassDistribution: map[string]int64{},
		}, nil
	}

	avg, err := uc.repo.AverageConfidence(ctx)
	if err != nil {
		return nil, err
	}
	byLabel, err := uc.repo.CountByLabel(ctx)
	if err != nil {
		return nil, err
	}

	now := uc.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := uc.repo.CountCreatedBetween(ctx, startOfDay, now)
	if err != nil {
		return nil, err
	}

	summary := &domain.StatsSummary{
		TotalPredictions:  total,
		AverageConfidence: avg,
		PredictionsToday:  today,
		ClassDistribution: byLabel,
	}
	if label, ok := uc.mostCommon(byLabel); ok {
		summary.MostCommonLabel = &label
	}
	return summary, nil
}

func (uc *StatsUseCase) ExportReport(ctx context.Context, out io.Writer) error {
	summary, err := uc.Summary(ctx)
	if err != nil {
		return err
	}
	return uc.reportWriter.WriteReport(ctx, *summary, out)
}

func (uc *StatsUseCase) mostCommon(byLabel map[string]int64) (string, bool) {
	rank := make(map[string]int, len(uc.canonicalLabels))
	for i, label := range uc.canonicalLabels {
		rank[label] = i
	}

	var best string
	var bestCount int64 = -1
	for label, count := range byLabel {
		switch {
		case count > bestCount:
			best, bestCount = label, count
		case count == bestCount && labelBefore(label, best, rank):
			best = label
		}
	}
	return best, bestCount >= 0
}

func labelBefore(a, b string, rank map[string]int) bool {
	ra, aKnown := rank[a]
	rb, bKnown := rank[b]
	switch {
	case aKnown && bKnown:
		return ra < rb
	case aKnown:
		return true
	case bKnown:
		return false
	default:
		return a < b
	}
}

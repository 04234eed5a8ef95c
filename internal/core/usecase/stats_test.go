package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

type statsRepoFake struct {
	total   int64
	avg     float64
	byLabel map[string]int64
	inRange int64

	rangeFrom time.Time
	rangeTo   time.Time
}

func (f *statsRepoFake) CountAll(context.Context) (int64, error) { return f.total, nil }
func (f *statsRepoFake) AverageConfidence(context.Context) (float64, error) {
	return f.avg, nil
}
func (f *statsRepoFake) CountByLabel(context.Context) (map[string]int64, error) {
	return f.byLabel, nil
}
func (f *statsRepoFake) CountCreatedBetween(_ context.Context, from, to time.Time) (int64, error) {
	f.rangeFrom, f.rangeTo = from, to
	return f.inRange, nil
}

func (f *statsRepoFake) Insert(context.Context, domain.PredictionDraft) (*domain.Prediction, error) {
	return nil, errors.New("not implemented")
}
func (f *statsRepoFake) GetByID(context.Context, int64) (*domain.Prediction, error) {
	return nil, errors.New("not implemented")
}
func (f *statsRepoFake) Delete(context.Context, int64) error { return errors.New("not implemented") }
func (f *statsRepoFake) List(context.Context, int, int) ([]domain.Prediction, error) {
	return nil, errors.New("not implemented")
}

type reportWriterFake struct {
	summary *domain.StatsSummary
}

func (f *reportWriterFake) WriteReport(_ context.Context, summary domain.StatsSummary, out io.Writer) error {
	f.summary = &summary
	_, err := out.Write([]byte("report"))
	return err
}

func TestSummaryOnEmptyStore(t *testing.T) {
	uc := NewStatsUseCase(&statsRepoFake{}, &reportWriterFake{}, nil)

	summary, err := uc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.TotalPredictions != 0 || summary.AverageConfidence != 0 || summary.PredictionsToday != 0 {
		t.Fatalf("expected zeroed summary, got %+v", summary)
	}
	if summary.MostCommonLabel != nil {
		t.Fatalf("expected nil most common label, got %q", *summary.MostCommonLabel)
	}
	if summary.ClassDistribution == nil || len(summary.ClassDistribution) != 0 {
		t.Fatalf("expected empty distribution map, got %v", summary.ClassDistribution)
	}
}

func TestSummaryAggregation(t *testing.T) {
	repo := &statsRepoFake{
		total:   3,
		avg:     0.8,
		byLabel: map[string]int64{"Audi": 2, "BMW": 1},
		inRange: 3,
	}
	uc := NewStatsUseCase(repo, &reportWriterFake{}, []string{"Audi", "BMW"})

	summary, err := uc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.TotalPredictions != 3 {
		t.Fatalf("expected total 3, got %d", summary.TotalPredictions)
	}
	if summary.AverageConfidence != 0.8 {
		t.Fatalf("expected average 0.8, got %g", summary.AverageConfidence)
	}
	if summary.MostCommonLabel == nil || *summary.MostCommonLabel != "Audi" {
		t.Fatalf("expected most common Audi, got %v", summary.MostCommonLabel)
	}
	if summary.ClassDistribution["Audi"] != 2 || summary.ClassDistribution["BMW"] != 1 {
		t.Fatalf("unexpected class distribution %v", summary.ClassDistribution)
	}
}

func TestSummaryTieBreaksByCanonicalOrder(t *testing.T) {
	repo := &statsRepoFake{
		total:   4,
		avg:     0.8,
		byLabel: map[string]int64{"Tesla": 2, "BMW": 2},
	}
	uc := NewStatsUseCase(repo, &reportWriterFake{}, []string{"Audi", "BMW", "Tesla"})

	summary, err := uc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.MostCommonLabel == nil || *summary.MostCommonLabel != "BMW" {
		t.Fatalf("expected canonical tie-break to pick BMW, got %v", summary.MostCommonLabel)
	}
}

func TestSummaryTodayWindowIsLocalMidnightToNow(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	now := time.Date(2026, 8, 28, 15, 30, 0, 0, loc)
	repo := &statsRepoFake{total: 1, byLabel: map[string]int64{"Audi": 1}, inRange: 1}
	uc := NewStatsUseCase(repo, &reportWriterFake{}, nil).WithClock(func() time.Time { return now })

	if _, err := uc.Summary(context.Background()); err != nil {
		t.Fatalf("Summary() error = %v", err)
	}

	wantFrom := time.Date(2026, 8, 28, 0, 0, 0, 0, loc)
	if !repo.rangeFrom.Equal(wantFrom) {
		t.Fatalf("expected range start %v, got %v", wantFrom, repo.rangeFrom)
	}
	if !repo.rangeTo.Equal(now) {
		t.Fatalf("expected range end %v, got %v", now, repo.rangeTo)
	}
}

func TestExportReportPassesSummaryToWriter(t *testing.T) {
	repo := &statsRepoFake{total: 2, avg: 0.85, byLabel: map[string]int64{"Audi": 2}, inRange: 1}
	writer := &reportWriterFake{}
	uc := NewStatsUseCase(repo, writer, []string{"Audi"})

	var buf bytes.Buffer
	if err := uc.ExportReport(context.Background(), &buf); err != nil {
		t.Fatalf("ExportReport() error = %v", err)
	}
	if writer.summary == nil || writer.summary.TotalPredictions != 2 {
		t.Fatalf("expected writer to receive the summary, got %+v", writer.summary)
	}
	if buf.String() != "report" {
		t.Fatalf("expected report payload, got %q", buf.String())
	}
}

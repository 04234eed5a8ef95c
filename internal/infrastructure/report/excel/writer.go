// Package excel renders a statistics summary as an XLSX workbook for the
// stats export endpoint.
package excel

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/car-vision-api/internal/core/domain"
)

const (
	summarySheet      = "Summary"
	distributionSheet = "Class distribution"
)

type ReportWriter struct{}

func NewReportWriter() *ReportWriter {
	return &ReportWriter{}
}

func (w *ReportWriter) WriteReport(ctx context.Context, summary domain.StatsSummary, out io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename summary sheet: %w", err)
	}

	mostCommon := ""
	if summary.MostCommonLabel != nil {
		mostCommon = *summary.MostCommonLabel
	}
	summaryRows := []struct {
		name  string
		value any
	}{
		{"Total predictions", summary.TotalPredictions},
		{"Average confidence", summary.AverageConfidence},
		{"Most common class", mostCommon},
		{"Predictions today", summary.PredictionsToday},
	}
	for i, row := range summaryRows {
		if err := f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), row.name); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
		if err := f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), row.value); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}

	if _, err := f.NewSheet(distributionSheet); err != nil {
		return fmt.Errorf("create distribution sheet: %w", err)
	}
	if err := f.SetCellValue(distributionSheet, "A1", "Class"); err != nil {
		return fmt.Errorf("write distribution header: %w", err)
	}
	if err := f.SetCellValue(distributionSheet, "B1", "Predictions"); err != nil {
		return fmt.Errorf("write distribution header: %w", err)
	}
	for i, entry := range sortedCounts(summary.ClassDistribution) {
		if err := f.SetCellValue(distributionSheet, fmt.Sprintf("A%d", i+2), entry.label); err != nil {
			return fmt.Errorf("write distribution row: %w", err)
		}
		if err := f.SetCellValue(distributionSheet, fmt.Sprintf("B%d", i+2), entry.count); err != nil {
			return fmt.Errorf("write distribution row: %w", err)
		}
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

type labelCount struct {
	label string
	count int64
}

// sortedCounts orders rows by descending count, then label, so the report is
// stable across runs.
func sortedCounts(counts map[string]int64) []labelCount {
	out := make([]labelCount, 0, len(counts))
	for label, count := range counts {
		out = append(out, labelCount{label: label, count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].label < out[j].label
	})
	return out
}

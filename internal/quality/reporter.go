package quality

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/models"
)

var dateFormats = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"02-Jan-2006",
}

// Reporter scores a dataset against required-schema, type and null-rate
// rules, independent of metric calculation. It never mutates the dataset
// and never influences metric results.
type Reporter struct {
	logger *logrus.Logger
	config *config.QualityConfig
}

// NewReporter creates a data quality reporter.
func NewReporter(cfg *config.QualityConfig, logger *logrus.Logger) *Reporter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reporter{logger: logger, config: cfg}
}

// Audit evaluates the three rule classes and aggregates them into a single
// [0,100] score. Critical findings deduct the most; info findings are
// capped so they alone cannot drop the score below the configured floor.
func (r *Reporter) Audit(ds *models.NormalizedDataset, requiredColumns []string, columnTypes map[string]string) *models.DataQualityReport {
	report := &models.DataQualityReport{
		Findings: []models.DataQualityFinding{},
	}

	r.checkRequiredColumns(ds, requiredColumns, report)
	r.checkColumnTypes(ds, columnTypes, report)
	r.checkNullRates(ds, requiredColumns, report)

	report.Score = r.score(report.Findings)

	r.logger.WithFields(logrus.Fields{
		"score":    report.Score,
		"findings": len(report.Findings),
	}).Info("Data quality audit completed")

	return report
}

func (r *Reporter) checkRequiredColumns(ds *models.NormalizedDataset, required []string, report *models.DataQualityReport) {
	for _, col := range required {
		if ds.ColumnIndex(col) >= 0 {
			continue
		}
		report.Findings = append(report.Findings, models.DataQualityFinding{
			Category:       models.FindingCritical,
			Rule:           "required_column_present",
			Message:        fmt.Sprintf("required column %q is missing", col),
			ScoreDeduction: r.config.CriticalDeduction,
		})
	}
}

func (r *Reporter) checkColumnTypes(ds *models.NormalizedDataset, columnTypes map[string]string, report *models.DataQualityReport) {
	for col, colType := range columnTypes {
		idx := ds.ColumnIndex(col)
		if idx < 0 {
			continue
		}
		switch colType {
		case config.ColumnNumeric:
			if ds.FailedColumns[col] {
				report.Findings = append(report.Findings, models.DataQualityFinding{
					Category:       models.FindingWarning,
					Rule:           "column_type_numeric",
					Message:        fmt.Sprintf("column %q holds values not coercible to numeric", col),
					ScoreDeduction: r.config.WarningDeduction,
				})
			}
		case config.ColumnDate:
			if bad := countInvalidDates(ds.Rows, idx); bad > 0 {
				report.Findings = append(report.Findings, models.DataQualityFinding{
					Category:       models.FindingWarning,
					Rule:           "column_type_date",
					Message:        fmt.Sprintf("column %q holds %d values with an invalid date format", col, bad),
					ScoreDeduction: r.config.WarningDeduction,
				})
			}
		}
	}
}

func (r *Reporter) checkNullRates(ds *models.NormalizedDataset, required []string, report *models.DataQualityReport) {
	for _, col := range required {
		idx := ds.ColumnIndex(col)
		if idx < 0 {
			continue
		}
		nulls := 0
		for _, row := range ds.Rows {
			if idx >= len(row) || models.IsNull(row[idx]) {
				nulls++
			}
		}
		if nulls > 0 {
			report.Findings = append(report.Findings, models.DataQualityFinding{
				Category:       models.FindingInfo,
				Rule:           "null_values_present",
				Message:        fmt.Sprintf("column %q has %d null values", col, nulls),
				ScoreDeduction: r.config.InfoDeduction,
			})
		}
	}
}

// score sums deductions per category, caps the info share at the floor and
// clamps the total to [0, 100]. Adding a finding never increases the score.
func (r *Reporter) score(findings []models.DataQualityFinding) float64 {
	var hard, info float64
	for _, f := range findings {
		if f.Category == models.FindingInfo {
			info += f.ScoreDeduction
		} else {
			hard += f.ScoreDeduction
		}
	}

	if maxInfo := 100 - r.config.InfoFloor; info > maxInfo {
		info = maxInfo
	}

	score := 100 - hard - info
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func countInvalidDates(rows [][]string, idx int) int {
	bad := 0
	for _, row := range rows {
		if idx >= len(row) || models.IsNull(row[idx]) {
			continue
		}
		if !validDate(row[idx]) {
			bad++
		}
	}
	return bad
}

func validDate(s string) bool {
	s = strings.TrimSpace(s)
	for _, format := range dateFormats {
		if _, err := time.Parse(format, s); err == nil {
			return true
		}
	}
	return false
}

package quality

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/models"
)

func testQualityConfig() *config.QualityConfig {
	return &config.QualityConfig{
		CriticalDeduction: 20,
		WarningDeduction:  10,
		InfoDeduction:     2,
		InfoFloor:         70,
	}
}

func cleanDataset() *models.NormalizedDataset {
	return &models.NormalizedDataset{
		Columns: []string{"loan_id", "total_receivable_usd", "reporting_date"},
		Rows: [][]string{
			{"L-1", "100", "2026-08-01"},
			{"L-2", "200", "2026-08-01"},
		},
		FailedColumns: make(map[string]bool),
	}
}

func TestAuditCleanDatasetScoresFull(t *testing.T) {
	reporter := NewReporter(testQualityConfig(), logrus.New())

	report := reporter.Audit(cleanDataset(),
		[]string{"loan_id", "total_receivable_usd"},
		map[string]string{"total_receivable_usd": config.ColumnNumeric, "reporting_date": config.ColumnDate})

	assert.Equal(t, 100.0, report.Score)
	assert.Empty(t, report.Findings)
}

func TestAuditMissingRequiredColumnIsCritical(t *testing.T) {
	reporter := NewReporter(testQualityConfig(), logrus.New())

	report := reporter.Audit(cleanDataset(), []string{"loan_id", "dpd_90_plus_usd"}, nil)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, models.FindingCritical, report.Findings[0].Category)
	assert.Equal(t, "required_column_present", report.Findings[0].Rule)
	assert.Equal(t, 80.0, report.Score)
}

func TestAuditCoercionFailureIsWarning(t *testing.T) {
	reporter := NewReporter(testQualityConfig(), logrus.New())
	ds := cleanDataset()
	ds.FailedColumns["total_receivable_usd"] = true

	report := reporter.Audit(ds, nil,
		map[string]string{"total_receivable_usd": config.ColumnNumeric})

	require.Len(t, report.Findings, 1)
	assert.Equal(t, models.FindingWarning, report.Findings[0].Category)
	assert.Equal(t, 90.0, report.Score)
}

func TestAuditInvalidDateIsWarning(t *testing.T) {
	reporter := NewReporter(testQualityConfig(), logrus.New())
	ds := cleanDataset()
	ds.Rows[0][2] = "yesterday"

	report := reporter.Audit(ds, nil,
		map[string]string{"reporting_date": config.ColumnDate})

	require.Len(t, report.Findings, 1)
	assert.Equal(t, "column_type_date", report.Findings[0].Rule)
}

func TestAuditNullsAreInfo(t *testing.T) {
	reporter := NewReporter(testQualityConfig(), logrus.New())
	ds := cleanDataset()
	ds.Rows[1][1] = ""

	report := reporter.Audit(ds, []string{"total_receivable_usd"}, nil)

	require.Len(t, report.Findings, 1)
	assert.Equal(t, models.FindingInfo, report.Findings[0].Category)
	assert.Equal(t, 98.0, report.Score)
}

func TestScoreInfoFindingsCannotBreachFloor(t *testing.T) {
	reporter := NewReporter(testQualityConfig(), logrus.New())

	// Many null-only columns: info deductions alone stop at the floor.
	var columns []string
	var row []string
	for i := 0; i < 40; i++ {
		columns = append(columns, fmt.Sprintf("col_%d", i))
		row = append(row, "")
	}
	ds := &models.NormalizedDataset{Columns: columns, Rows: [][]string{row}}

	report := reporter.Audit(ds, columns, nil)
	assert.Equal(t, 70.0, report.Score)
}

func TestScoreClampsAtZero(t *testing.T) {
	reporter := NewReporter(testQualityConfig(), logrus.New())

	var required []string
	for i := 0; i < 10; i++ {
		required = append(required, fmt.Sprintf("missing_%d", i))
	}
	ds := &models.NormalizedDataset{Columns: []string{"loan_id"}}

	report := reporter.Audit(ds, required, nil)
	assert.Equal(t, 0.0, report.Score)
}

func TestScoreMonotonicNonIncreasing(t *testing.T) {
	reporter := NewReporter(testQualityConfig(), logrus.New())

	findings := []models.DataQualityFinding{}
	last := reporter.score(findings)
	categories := []struct {
		category  models.FindingCategory
		deduction float64
	}{
		{models.FindingInfo, 2},
		{models.FindingWarning, 10},
		{models.FindingCritical, 20},
		{models.FindingInfo, 2},
	}
	for _, c := range categories {
		findings = append(findings, models.DataQualityFinding{
			Category:       c.category,
			ScoreDeduction: c.deduction,
		})
		score := reporter.score(findings)
		assert.LessOrEqual(t, score, last)
		last = score
	}
}

func TestAuditDoesNotMutateDataset(t *testing.T) {
	reporter := NewReporter(testQualityConfig(), logrus.New())
	ds := cleanDataset()
	ds.Rows[0][1] = ""

	reporter.Audit(ds, []string{"total_receivable_usd"},
		map[string]string{"total_receivable_usd": config.ColumnNumeric})

	assert.Equal(t, "", ds.Rows[0][1])
	assert.Len(t, ds.Rows, 2)
}

package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/pkg/models"
)

// Engine runs a metric registry against a normalized dataset, isolating
// per-metric failures. A failed metric is data to report, never a reason
// to stop computing the rest of the registry.
type Engine struct {
	logger *logrus.Logger
}

// NewEngine creates a calculation engine.
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{logger: logger}
}

// Calculate computes every registered metric in registry order and returns
// one MetricResult per definition. The dataset is consumed read-only.
func (e *Engine) Calculate(ctx context.Context, runCtx *models.RunContext, ds *models.NormalizedDataset, registry *Registry) []models.MetricResult {
	runCtx.Audit("calculation", "calculation:start", "info", map[string]interface{}{
		"metric_count": registry.Len(),
	})

	prior := make(Results, registry.Len())
	results := make([]models.MetricResult, 0, registry.Len())

	for _, def := range registry.Definitions() {
		result := e.calculateOne(ds, def, prior)
		prior[def.Name] = result
		results = append(results, result)

		switch result.Status {
		case models.MetricStatusError:
			runCtx.Audit("calculation", "metric:error", "error", map[string]interface{}{
				"metric": def.Name,
				"reason": result.Context.Reason,
			})
		case models.MetricStatusZeroDenominator:
			runCtx.Audit("calculation", "metric:zero_denominator", "warning", map[string]interface{}{
				"metric":      def.Name,
				"denominator": def.DenominatorField,
			})
		default:
			e.checkThresholds(runCtx, def, result)
		}
	}

	runCtx.Audit("calculation", "calculation:success", "success", map[string]interface{}{
		"metric_count": len(results),
	})

	e.logger.WithFields(logrus.Fields{
		"run_id":  runCtx.RunID,
		"metrics": len(results),
	}).Info("Calculation completed")

	return results
}

// calculateOne computes a single metric. Missing required columns
// short-circuit to an error result without invoking the calculator.
func (e *Engine) calculateOne(ds *models.NormalizedDataset, def Definition, prior Results) models.MetricResult {
	result := models.MetricResult{
		MetricName: def.Name,
		Status:     models.MetricStatusOK,
		Context: models.MetricContext{
			Formula:       def.Formula,
			RowsProcessed: len(ds.Rows),
			NullCount:     countNulls(ds, def.RequiredColumns),
			ComputedAt:    time.Now().UTC(),
		},
	}

	if missing := missingColumns(ds, def.RequiredColumns); len(missing) > 0 {
		result.Status = models.MetricStatusError
		result.Value = 0.0
		result.Context.Reason = fmt.Sprintf("missing columns: %s", strings.Join(missing, ", "))
		return result
	}

	value, err := def.Calculator(ds, prior)
	if err != nil {
		result.Status = models.MetricStatusError
		result.Value = 0.0
		result.Context.Reason = err.Error()
		return result
	}
	result.Value = value

	// A zero with an all-zero denominator means "no data to compute risk",
	// not "no risk". The two must stay distinguishable downstream.
	if value == 0 && def.DenominatorField != "" {
		if denominator, _, err := ds.SumColumn(def.DenominatorField); err == nil && denominator == 0 {
			result.Status = models.MetricStatusZeroDenominator
		}
	}

	return result
}

func (e *Engine) checkThresholds(runCtx *models.RunContext, def Definition, result models.MetricResult) {
	if def.CriticalThreshold > 0 && result.Value >= def.CriticalThreshold {
		runCtx.Audit("calculation", "metric:threshold_critical", "warning", map[string]interface{}{
			"metric":    def.Name,
			"value":     result.Value,
			"threshold": def.CriticalThreshold,
		})
		return
	}
	if def.WarningThreshold > 0 && result.Value >= def.WarningThreshold {
		runCtx.Audit("calculation", "metric:threshold_warning", "warning", map[string]interface{}{
			"metric":    def.Name,
			"value":     result.Value,
			"threshold": def.WarningThreshold,
		})
	}
}

func missingColumns(ds *models.NormalizedDataset, required []string) []string {
	var missing []string
	for _, col := range required {
		if !ds.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	return missing
}

func countNulls(ds *models.NormalizedDataset, columns []string) int {
	total := 0
	for _, col := range columns {
		idx := ds.ColumnIndex(col)
		if idx < 0 {
			continue
		}
		for _, row := range ds.Rows {
			if idx >= len(row) || models.IsNull(row[idx]) {
				total++
			}
		}
	}
	return total
}

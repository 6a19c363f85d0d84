package transform

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/models"
)

// FailedRulePrefix marks a normalization rule entry recording a per-column
// failure.
const FailedRulePrefix = "!failed:"

// Engine normalizes column names and types, applies per-column null
// policies and irreversibly masks PII columns.
type Engine struct {
	logger *logrus.Logger
	config *config.NormalizationConfig
	types  map[string]string
	masker *Masker
}

// NewEngine creates a transformation engine from normalization rules and
// the declared column types.
func NewEngine(cfg *config.NormalizationConfig, columnTypes map[string]string, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		logger: logger,
		config: cfg,
		types:  columnTypes,
		masker: NewMasker(cfg.PII.Keywords, cfg.PII.MaskingKey),
	}
}

// Transform derives a NormalizedDataset from a RawDataset. Per-column
// coercion failures are flagged and excluded from numeric aggregation
// rather than aborting the whole transformation. The output never carries
// original PII values.
func (e *Engine) Transform(ctx context.Context, runCtx *models.RunContext, raw *models.RawDataset) (*models.NormalizedDataset, error) {
	runCtx.Audit("transformation", "transformation:start", "info", map[string]interface{}{
		"source_checksum": raw.ContentChecksum,
		"row_count":       raw.RowCount,
	})

	ds := &models.NormalizedDataset{
		Columns:        e.resolveColumns(raw.Columns),
		Rows:           copyRows(raw.Rows),
		SourceChecksum: raw.ContentChecksum,
		NullHandling:   make(map[string]int),
		FailedColumns:  make(map[string]bool),
	}

	for i, canonical := range ds.Columns {
		if canonical != raw.Columns[i] {
			ds.RulesApplied = append(ds.RulesApplied,
				fmt.Sprintf("rename:%s->%s", raw.Columns[i], canonical))
		}
	}

	e.flagCoercionFailures(ds)
	e.applyNullPolicies(ds)
	e.maskPII(ds)

	runCtx.Audit("transformation", "transformation:success", "success", map[string]interface{}{
		"masked_columns": ds.MaskedColumns,
		"rules_applied":  len(ds.RulesApplied),
		"null_handling":  ds.NullHandling,
	})

	e.logger.WithFields(logrus.Fields{
		"run_id":         runCtx.RunID,
		"columns":        len(ds.Columns),
		"rows":           len(ds.Rows),
		"masked_columns": len(ds.MaskedColumns),
	}).Info("Transformation completed")

	return ds, nil
}

// resolveColumns case-folds and trims every header, then maps configured
// aliases onto canonical names using the resolver strategy.
func (e *Engine) resolveColumns(rawColumns []string) []string {
	columns := make([]string, len(rawColumns))
	for i, c := range rawColumns {
		columns[i] = canonicalName(c)
	}

	resolver := NewColumnResolver(columns)

	// Deterministic canonical order: two aliases resolving to the same
	// physical column must always leave the same winner.
	canonicals := make([]string, 0, len(e.config.Aliases))
	for canonical := range e.config.Aliases {
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)

	for _, canonical := range canonicals {
		if idx, ok := resolver.Resolve(canonical); ok {
			columns[idx] = canonical
			continue
		}
		for _, alias := range e.config.Aliases[canonical] {
			if idx, ok := resolver.Resolve(alias); ok {
				columns[idx] = canonical
				break
			}
		}
	}
	return columns
}

// flagCoercionFailures marks declared-numeric columns whose values cannot
// be coerced. Flagged columns are excluded from numeric aggregation.
func (e *Engine) flagCoercionFailures(ds *models.NormalizedDataset) {
	for col, colType := range e.types {
		if colType != config.ColumnNumeric {
			continue
		}
		idx := ds.ColumnIndex(col)
		if idx < 0 {
			continue
		}
		for _, row := range ds.Rows {
			if idx >= len(row) || models.IsNull(row[idx]) {
				continue
			}
			if _, err := models.ParseNumeric(row[idx]); err != nil {
				ds.FailedColumns[col] = true
				ds.RulesApplied = append(ds.RulesApplied,
					fmt.Sprintf("%s%s:numeric_coercion", FailedRulePrefix, col))
				break
			}
		}
	}
}

// applyNullPolicies applies the configured per-column policy. Every row
// mutated by imputation increments the column's null counter.
func (e *Engine) applyNullPolicies(ds *models.NormalizedDataset) {
	// Deterministic column order keeps drop_row effects reproducible.
	policyColumns := make([]string, 0, len(e.config.NullPolicy))
	for col := range e.config.NullPolicy {
		policyColumns = append(policyColumns, col)
	}
	sort.Strings(policyColumns)

	for _, col := range policyColumns {
		policy := e.config.NullPolicy[col]
		idx := ds.ColumnIndex(col)
		if idx < 0 {
			continue
		}

		switch policy {
		case config.NullDropRow:
			kept := ds.Rows[:0]
			for _, row := range ds.Rows {
				if idx >= len(row) || models.IsNull(row[idx]) {
					ds.NullHandling[col]++
					continue
				}
				kept = append(kept, row)
			}
			ds.Rows = kept

		case config.NullImputeZero:
			for _, row := range ds.Rows {
				if idx < len(row) && models.IsNull(row[idx]) {
					row[idx] = "0"
					ds.NullHandling[col]++
				}
			}

		case config.NullImputeMean:
			mean := columnMean(ds.Rows, idx)
			formatted := strconv.FormatFloat(mean, 'g', -1, 64)
			for _, row := range ds.Rows {
				if idx < len(row) && models.IsNull(row[idx]) {
					row[idx] = formatted
					ds.NullHandling[col]++
				}
			}

		case config.NullFlagOnly:
			for _, row := range ds.Rows {
				if idx >= len(row) || models.IsNull(row[idx]) {
					ds.NullHandling[col]++
				}
			}
		}

		if ds.NullHandling[col] > 0 {
			ds.RulesApplied = append(ds.RulesApplied,
				fmt.Sprintf("null_policy:%s:%s", col, policy))
		}
	}
}

// maskPII hashes every column matching the keyword set. Masking is not
// optional for matched columns.
func (e *Engine) maskPII(ds *models.NormalizedDataset) {
	for idx, col := range ds.Columns {
		if !e.masker.Matches(col) {
			continue
		}
		for _, row := range ds.Rows {
			if idx < len(row) {
				row[idx] = e.masker.Mask(row[idx])
			}
		}
		ds.MaskedColumns = append(ds.MaskedColumns, col)
	}
	sort.Strings(ds.MaskedColumns)
}

func columnMean(rows [][]string, idx int) float64 {
	var sum float64
	var n int
	for _, row := range rows {
		if idx >= len(row) || models.IsNull(row[idx]) {
			continue
		}
		if v, err := models.ParseNumeric(row[idx]); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func copyRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		dup := make([]string, len(row))
		copy(dup, row)
		out[i] = dup
	}
	return out
}

package ingest

import (
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/checksum"
	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

// Engine loads raw extracts, validates schema, deduplicates rows and
// records per-file provenance.
type Engine struct {
	logger    *logrus.Logger
	config    *config.DatasetConfig
	validator *SchemaValidator
	timeout   time.Duration
}

// NewEngine creates an ingestion engine for a declared dataset schema.
func NewEngine(cfg *config.DatasetConfig, timeout time.Duration, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Engine{
		logger:    logger,
		config:    cfg,
		validator: NewSchemaValidator(cfg),
		timeout:   timeout,
	}
}

// Ingest loads one delimited extract into a RawDataset. A missing,
// empty or malformed file is terminal; schema violations populate
// IngestionErrors unless the schema is declared strict.
func (e *Engine) Ingest(ctx context.Context, runCtx *models.RunContext, path string) (*models.RawDataset, error) {
	runCtx.Audit("ingestion", "ingestion:start", "info", map[string]interface{}{
		"source_path": path,
	})

	if _, err := os.Stat(path); err != nil {
		runCtx.Audit("ingestion", "ingestion:missing", "error", map[string]interface{}{
			"source_path": path,
		})
		return nil, errors.WrapError(err, errors.ErrorTypeIngestion, errors.CodeFileNotFound,
			fmt.Sprintf("input file does not exist: %s", path))
	}

	columns, rows, err := e.readCSV(ctx, path)
	if err != nil {
		return nil, e.auditTerminal(runCtx, path, err)
	}

	violations := e.validator.Validate(columns, rows)
	if len(violations) > 0 {
		runCtx.Audit("ingestion", "ingestion:schema_error", "warning", map[string]interface{}{
			"source_path": path,
			"violations":  violations,
		})
		if e.config.Strict {
			return nil, errors.NewIngestionError(errors.CodeSchemaError,
				"input violates declared schema in strict mode").
				WithDetails(strings.Join(violations, "; "))
		}
	}

	rows, dropped := e.deduplicate(columns, rows)

	ds := &models.RawDataset{
		Columns:           columns,
		Rows:              rows,
		SourcePath:        path,
		ContentChecksum:   checksum.Rows(columns, rows),
		RowCount:          len(rows),
		DuplicatesDropped: dropped,
		IngestionErrors:   violations,
		IngestedAt:        time.Now().UTC(),
	}

	if len(violations) == 0 {
		runCtx.Audit("ingestion", "ingestion:success", "success", map[string]interface{}{
			"source_path":        path,
			"row_count":          ds.RowCount,
			"duplicates_dropped": dropped,
			"content_checksum":   ds.ContentChecksum,
		})
	}

	e.logger.WithFields(logrus.Fields{
		"run_id":             runCtx.RunID,
		"source_path":        path,
		"row_count":          ds.RowCount,
		"duplicates_dropped": dropped,
		"schema_violations":  len(violations),
	}).Info("Ingestion completed")

	return ds, nil
}

// readCSV parses the file under a bounded timeout so ingestion can never
// block the run indefinitely.
func (e *Engine) readCSV(ctx context.Context, path string) ([]string, [][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type parsed struct {
		records [][]string
		err     error
	}
	done := make(chan parsed, 1)

	go func() {
		f, err := os.Open(path)
		if err != nil {
			done <- parsed{err: err}
			return
		}
		defer f.Close()

		reader := csv.NewReader(f)
		reader.TrimLeadingSpace = true
		records, err := reader.ReadAll()
		done <- parsed{records: records, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, nil, errors.WrapError(ctx.Err(), errors.ErrorTypeIngestion, errors.CodeMalformedInput,
			fmt.Sprintf("timed out reading %s", path))
	case p := <-done:
		if p.err != nil {
			return nil, nil, errors.WrapError(p.err, errors.ErrorTypeIngestion, errors.CodeMalformedInput,
				fmt.Sprintf("failed to parse %s", path))
		}
		if len(p.records) == 0 {
			return nil, nil, errors.NewIngestionError(errors.CodeEmptyInput,
				fmt.Sprintf("input file is empty: %s", path))
		}
		if len(p.records) == 1 {
			return nil, nil, errors.NewIngestionError(errors.CodeEmptyInput,
				fmt.Sprintf("input file has a header but no rows: %s", path))
		}
		header := make([]string, len(p.records[0]))
		for i, h := range p.records[0] {
			header[i] = strings.TrimSpace(h)
		}
		return header, p.records[1:], nil
	}
}

// deduplicate drops rows repeating the configured key, keeping the first
// occurrence. Without configured keys the full row is the key.
func (e *Engine) deduplicate(columns []string, rows [][]string) ([][]string, int) {
	keyIdx := make([]int, 0, len(e.config.DedupKeys))
	for _, key := range e.config.DedupKeys {
		for i, c := range columns {
			if normalizeHeader(c) == normalizeHeader(key) {
				keyIdx = append(keyIdx, i)
				break
			}
		}
	}

	seen := make(map[string]bool, len(rows))
	kept := make([][]string, 0, len(rows))
	dropped := 0

	for _, row := range rows {
		key := rowKey(row, keyIdx)
		if seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		kept = append(kept, row)
	}

	return kept, dropped
}

func rowKey(row []string, keyIdx []int) string {
	if len(keyIdx) == 0 {
		return strings.Join(row, "\x1f")
	}
	parts := make([]string, 0, len(keyIdx))
	for _, idx := range keyIdx {
		if idx < len(row) {
			parts = append(parts, strings.TrimSpace(row[idx]))
		}
	}
	return strings.Join(parts, "\x1f")
}

func (e *Engine) auditTerminal(runCtx *models.RunContext, path string, err error) error {
	event := "ingestion:empty"
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.Code == errors.CodeMalformedInput {
		event = "ingestion:malformed"
	}
	runCtx.Audit("ingestion", event, "error", map[string]interface{}{
		"source_path": path,
		"error":       err.Error(),
	})
	return err
}

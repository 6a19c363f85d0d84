package output

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/internal/observability"
	"github.com/inferloop/kpicore/pkg/checksum"
	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

// Manager persists run results locally, builds the lineage manifest and
// fans out to the configured external sinks. Local persistence is the
// source of truth; sinks are best-effort mirrors.
type Manager struct {
	logger      *logrus.Logger
	manifestDir string
	sinks       []Sink
	disabled    []string
	timeout     time.Duration
	retry       config.RetryConfig
}

// NewManager creates an output and lineage manager.
func NewManager(outputCfg *config.OutputConfig, timeouts *config.TimeoutConfig, retry config.RetryConfig, sinks []Sink, disabled []string, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if retry.Attempts < 1 {
		retry.Attempts = 1
	}
	return &Manager{
		logger:      logger,
		manifestDir: outputCfg.ManifestDir,
		sinks:       sinks,
		disabled:    disabled,
		timeout:     timeouts.SinkWrite,
		retry:       retry,
	}
}

// Finalize writes the RunManifest. The local atomic write happens first
// and alone decides run success; sink outcomes are recorded in
// sink_results afterwards. A crash mid-write never leaves a half-written
// manifest visible under the final name.
func (m *Manager) Finalize(ctx context.Context, runCtx *models.RunContext, inputChecksum string, results []models.MetricResult, report *models.DataQualityReport) (*models.RunManifest, error) {
	runCtx.Audit("output", "output:start", "info", map[string]interface{}{
		"sink_count": len(m.sinks),
	})

	manifest := &models.RunManifest{
		RunID:          runCtx.RunID,
		SchemaVersion:  models.ManifestSchemaVersion,
		InputChecksum:  inputChecksum,
		OutputChecksum: OutputChecksum(results),
		Metrics:        results,
		QualityReport:  report,
		SinkResults:    make(map[string]models.SinkResult, len(m.sinks)+len(m.disabled)),
		CreatedAt:      time.Now().UTC(),
	}
	for _, name := range m.disabled {
		manifest.SinkResults[name] = models.SinkResult{Status: models.SinkStatusDisabled}
	}

	// Local checkpoint before any sink is attempted.
	manifest.AuditTrail = runCtx.Trail()
	if err := m.writeAtomic(manifest); err != nil {
		runCtx.Audit("output", "output:persistence_error", "error", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, err
	}
	runCtx.Audit("output", "output:manifest_written", "success", map[string]interface{}{
		"output_checksum": manifest.OutputChecksum,
	})

	for _, sink := range m.sinks {
		result := m.writeSink(ctx, sink, manifest)
		manifest.SinkResults[sink.Name()] = result
		status := "success"
		if result.Status == models.SinkStatusFailed {
			status = "error"
		}
		runCtx.Audit("output", "sink:write", status, map[string]interface{}{
			"sink":   sink.Name(),
			"status": result.Status,
			"detail": result.Detail,
		})
		observability.SinkWrites.WithLabelValues(sink.Name(), result.Status).Inc()
	}

	// Publish the final manifest with sink outcomes and the full trail.
	manifest.AuditTrail = runCtx.Trail()
	if err := m.writeAtomic(manifest); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"run_id":          manifest.RunID,
		"output_checksum": manifest.OutputChecksum,
		"sinks":           len(m.sinks),
	}).Info("Run manifest finalized")

	return manifest, nil
}

// writeSink attempts one best-effort sink write under a bounded timeout,
// retrying transient failures with exponential backoff up to the cap.
func (m *Manager) writeSink(ctx context.Context, sink Sink, manifest *models.RunManifest) models.SinkResult {
	var lastErr error
	backoff := m.retry.Backoff

	for attempt := 1; attempt <= m.retry.Attempts; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		err := sink.Write(writeCtx, manifest)
		cancel()

		if err == nil {
			return models.SinkResult{Status: models.SinkStatusOK}
		}
		lastErr = err

		m.logger.WithFields(logrus.Fields{
			"sink":    sink.Name(),
			"attempt": attempt,
		}).WithError(err).Warn("Sink write failed")

		if !retryable(err) || attempt == m.retry.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return models.SinkResult{Status: models.SinkStatusFailed, Detail: ctx.Err().Error()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return models.SinkResult{Status: models.SinkStatusFailed, Detail: lastErr.Error()}
}

// writeAtomic writes the manifest to a run-scoped temp file and renames it
// into place, so concurrent runs cannot corrupt each other's output.
func (m *Manager) writeAtomic(manifest *models.RunManifest) error {
	if err := os.MkdirAll(m.manifestDir, 0o755); err != nil {
		return errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestWrite,
			fmt.Sprintf("failed to create manifest directory %s", m.manifestDir))
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestWrite,
			"failed to serialize manifest")
	}

	tmp, err := os.CreateTemp(m.manifestDir, manifest.RunID+".*.tmp")
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestWrite,
			"failed to create temporary manifest file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestWrite,
			"failed to write manifest")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestWrite,
			"failed to sync manifest")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestWrite,
			"failed to close manifest")
	}

	final := filepath.Join(m.manifestDir, ManifestFileName(manifest.RunID))
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return errors.WrapError(err, errors.ErrorTypePersistence, errors.CodeManifestWrite,
			fmt.Sprintf("failed to publish manifest %s", final))
	}

	return nil
}

// ManifestFileName returns the run-scoped manifest file name.
func ManifestFileName(runID string) string {
	return runID + ".json"
}

// OutputChecksum hashes the serialized metric results with the same scheme
// used for input rows. Timestamps are excluded so identical normalized
// input always yields an identical checksum.
func OutputChecksum(results []models.MetricResult) string {
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("%s|%s|%s|%s|%d|%d",
			r.MetricName,
			strconv.FormatFloat(r.Value, 'g', -1, 64),
			r.Status,
			r.Context.Formula,
			r.Context.RowsProcessed,
			r.Context.NullCount,
		)
	}
	return checksum.Lines(lines)
}

func retryable(err error) bool {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

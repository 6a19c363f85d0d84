package output

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

type stubSink struct {
	name  string
	errs  []error
	calls int
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Write(ctx context.Context, manifest *models.RunManifest) error {
	defer func() { s.calls++ }()
	if s.calls < len(s.errs) {
		return s.errs[s.calls]
	}
	return nil
}

func newManager(t *testing.T, sinks []Sink, disabled []string) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	mgr := NewManager(
		&config.OutputConfig{ManifestDir: dir},
		&config.TimeoutConfig{SinkWrite: time.Second},
		config.RetryConfig{Attempts: 3, Backoff: time.Millisecond},
		sinks, disabled, logrus.New(),
	)
	return mgr, dir
}

func sampleResults() []models.MetricResult {
	return []models.MetricResult{
		{
			MetricName: "par_90",
			Value:      5.0,
			Status:     models.MetricStatusOK,
			Context: models.MetricContext{
				Formula:       "dpd_90_plus_usd / total_receivable_usd * 100",
				RowsProcessed: 3,
				ComputedAt:    time.Now().UTC(),
			},
		},
	}
}

func TestFinalizeWritesManifestLocally(t *testing.T) {
	mgr, dir := newManager(t, nil, nil)
	runCtx := models.NewRunContext("run-local")

	report := &models.DataQualityReport{Score: 100}
	manifest, err := mgr.Finalize(context.Background(), runCtx, "input-sum", sampleResults(), report)
	require.NoError(t, err)

	assert.Equal(t, "run-local", manifest.RunID)
	assert.Equal(t, models.ManifestSchemaVersion, manifest.SchemaVersion)
	assert.Equal(t, "input-sum", manifest.InputChecksum)
	assert.NotEmpty(t, manifest.OutputChecksum)
	assert.NotEmpty(t, manifest.AuditTrail)

	stored, err := NewStore(dir).Get("run-local")
	require.NoError(t, err)
	assert.Equal(t, manifest.OutputChecksum, stored.OutputChecksum)
	assert.Equal(t, 100.0, stored.QualityReport.Score)

	// No temp files survive the atomic rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ManifestFileName("run-local"), entries[0].Name())
}

func TestFinalizeRecordsFailingSinkWithoutFailingRun(t *testing.T) {
	bad := &stubSink{name: "warehouse", errs: []error{
		stderrors.New("connection refused"),
	}}
	good := &stubSink{name: "cache"}
	mgr, dir := newManager(t, []Sink{bad, good}, nil)
	runCtx := models.NewRunContext("run-sinks")

	manifest, err := mgr.Finalize(context.Background(), runCtx, "sum", sampleResults(), &models.DataQualityReport{Score: 90})
	require.NoError(t, err)

	assert.Equal(t, models.SinkStatusFailed, manifest.SinkResults["warehouse"].Status)
	assert.Contains(t, manifest.SinkResults["warehouse"].Detail, "connection refused")
	assert.Equal(t, models.SinkStatusOK, manifest.SinkResults["cache"].Status)

	// The final manifest on disk carries the sink outcomes.
	stored, err := NewStore(dir).Get("run-sinks")
	require.NoError(t, err)
	assert.Equal(t, models.SinkStatusFailed, stored.SinkResults["warehouse"].Status)

	var audited bool
	for _, entry := range runCtx.Trail() {
		if entry.Event == "sink:write" && entry.Status == "error" {
			audited = true
		}
	}
	assert.True(t, audited)
}

func TestFinalizeRecordsDisabledSinks(t *testing.T) {
	mgr, _ := newManager(t, nil, []string{"object_storage"})

	manifest, err := mgr.Finalize(context.Background(), models.NewRunContext("run-disabled"),
		"sum", sampleResults(), &models.DataQualityReport{Score: 100})
	require.NoError(t, err)

	assert.Equal(t, models.SinkStatusDisabled, manifest.SinkResults["object_storage"].Status)
}

func TestWriteSinkRetriesRetryableErrors(t *testing.T) {
	sink := &stubSink{name: "cache", errs: []error{
		errors.NewSinkError(errors.CodeSinkWriteFailed, "transient"),
		errors.NewSinkError(errors.CodeSinkWriteFailed, "transient"),
	}}
	mgr, _ := newManager(t, []Sink{sink}, nil)

	manifest, err := mgr.Finalize(context.Background(), models.NewRunContext("run-retry"),
		"sum", sampleResults(), &models.DataQualityReport{Score: 100})
	require.NoError(t, err)

	assert.Equal(t, models.SinkStatusOK, manifest.SinkResults["cache"].Status)
	assert.Equal(t, 3, sink.calls)
}

func TestWriteSinkDoesNotRetryPermanentErrors(t *testing.T) {
	sink := &stubSink{name: "cache", errs: []error{
		stderrors.New("schema mismatch"),
		stderrors.New("schema mismatch"),
	}}
	mgr, _ := newManager(t, []Sink{sink}, nil)

	manifest, err := mgr.Finalize(context.Background(), models.NewRunContext("run-permanent"),
		"sum", sampleResults(), &models.DataQualityReport{Score: 100})
	require.NoError(t, err)

	assert.Equal(t, models.SinkStatusFailed, manifest.SinkResults["cache"].Status)
	assert.Equal(t, 1, sink.calls)
}

func TestWriteSinkGivesUpAfterAttemptCap(t *testing.T) {
	sink := &stubSink{name: "cache", errs: []error{
		errors.NewSinkError(errors.CodeSinkWriteFailed, "transient"),
		errors.NewSinkError(errors.CodeSinkWriteFailed, "transient"),
		errors.NewSinkError(errors.CodeSinkWriteFailed, "transient"),
		errors.NewSinkError(errors.CodeSinkWriteFailed, "transient"),
	}}
	mgr, _ := newManager(t, []Sink{sink}, nil)

	manifest, err := mgr.Finalize(context.Background(), models.NewRunContext("run-cap"),
		"sum", sampleResults(), &models.DataQualityReport{Score: 100})
	require.NoError(t, err)

	assert.Equal(t, models.SinkStatusFailed, manifest.SinkResults["cache"].Status)
	assert.Equal(t, 3, sink.calls)
}

func TestWriteSinkWithZeroAttemptsStillWritesOnce(t *testing.T) {
	sink := &stubSink{name: "cache", errs: []error{
		stderrors.New("connection refused"),
	}}
	dir := t.TempDir()
	mgr := NewManager(
		&config.OutputConfig{ManifestDir: dir},
		&config.TimeoutConfig{SinkWrite: time.Second},
		config.RetryConfig{},
		[]Sink{sink}, nil, logrus.New(),
	)

	manifest, err := mgr.Finalize(context.Background(), models.NewRunContext("run-zero-retry"),
		"sum", sampleResults(), &models.DataQualityReport{Score: 100})
	require.NoError(t, err)

	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, models.SinkStatusFailed, manifest.SinkResults["cache"].Status)
	assert.Contains(t, manifest.SinkResults["cache"].Detail, "connection refused")
}

func TestOutputChecksumExcludesComputedAt(t *testing.T) {
	first := sampleResults()
	second := sampleResults()
	second[0].Context.ComputedAt = second[0].Context.ComputedAt.Add(time.Hour)

	assert.Equal(t, OutputChecksum(first), OutputChecksum(second))

	second[0].Value = 6.0
	assert.NotEqual(t, OutputChecksum(first), OutputChecksum(second))
}

func TestStoreListNewestFirstAndSkipsTornFiles(t *testing.T) {
	mgr, dir := newManager(t, nil, nil)

	_, err := mgr.Finalize(context.Background(), models.NewRunContext("run-old"),
		"sum-a", sampleResults(), &models.DataQualityReport{Score: 100})
	require.NoError(t, err)

	older, err := NewStore(dir).Get("run-old")
	require.NoError(t, err)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	rewriteManifest(t, dir, older)

	_, err = mgr.Finalize(context.Background(), models.NewRunContext("run-new"),
		"sum-b", sampleResults(), &models.DataQualityReport{Score: 100})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "torn.json"), []byte("{not json"), 0o644))

	manifests, err := NewStore(dir).List()
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, "run-new", manifests[0].RunID)
	assert.Equal(t, "run-old", manifests[1].RunID)
}

func TestStoreGetMissingRun(t *testing.T) {
	_, err := NewStore(t.TempDir()).Get("run-missing")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrManifestNotFound))
}

func TestStoreFindByChecksum(t *testing.T) {
	mgr, dir := newManager(t, nil, nil)

	manifest, err := mgr.Finalize(context.Background(), models.NewRunContext("run-lineage"),
		"input-sum", sampleResults(), &models.DataQualityReport{Score: 100})
	require.NoError(t, err)

	store := NewStore(dir)

	byInput, err := store.FindByChecksum("input-sum")
	require.NoError(t, err)
	require.Len(t, byInput, 1)
	assert.Equal(t, "run-lineage", byInput[0].RunID)

	byOutput, err := store.FindByChecksum(manifest.OutputChecksum)
	require.NoError(t, err)
	require.Len(t, byOutput, 1)

	none, err := store.FindByChecksum("deadbeef")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func rewriteManifest(t *testing.T, dir string, manifest *models.RunManifest) {
	t.Helper()
	encoded, err := json.Marshal(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName(manifest.RunID)), encoded, 0o644))
}

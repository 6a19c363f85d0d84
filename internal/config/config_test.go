package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
dataset:
  required_columns: [loan_id, total_receivable_usd]
  column_types:
    total_receivable_usd: numeric
    reporting_date: date
  dedup_keys: [loan_id, reporting_date]
  strict: false
normalization:
  aliases:
    total_receivable_usd: [total_receivable, receivable_usd]
  null_policy:
    total_receivable_usd: impute_zero
metrics:
  - name: par_90
    kind: ratio_pct
    numerator: dpd_90_plus_usd
    denominator: total_receivable_usd
run_id_strategy: deterministic
sinks:
  - name: object_storage
    type: s3
    enabled: true
    bucket: kpi-manifests
    region: us-east-1
    access_key_env: TEST_S3_ACCESS
    secret_key_env: TEST_S3_SECRET
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kpicore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("KPICORE_MASKING_KEY", "test-key")
	t.Setenv("TEST_S3_ACCESS", "access")
	t.Setenv("TEST_S3_SECRET", "secret")

	cfg, err := Load(writeConfig(t, testConfig), logrus.New())
	require.NoError(t, err)

	assert.Equal(t, RunIDDeterministic, cfg.RunIDStrategy)
	assert.Equal(t, "./manifests", cfg.Output.ManifestDir)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Equal(t, 20.0, cfg.Quality.CriticalDeduction)
	assert.Equal(t, 70.0, cfg.Quality.InfoFloor)
	assert.NotEmpty(t, cfg.Normalization.PII.Keywords)
	assert.Equal(t, []byte("test-key"), cfg.Normalization.PII.MaskingKey)
	assert.True(t, cfg.Sinks[0].Enabled)
	assert.Equal(t, "access", cfg.Sinks[0].Secret("TEST_S3_ACCESS"))
}

func TestLoadMissingMaskingKeyIsConfigurationError(t *testing.T) {
	t.Setenv("KPICORE_MASKING_KEY", "")

	_, err := Load(writeConfig(t, testConfig), logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MISSING_SECRET")
}

func TestLoadMissingSinkSecretDisablesSink(t *testing.T) {
	t.Setenv("KPICORE_MASKING_KEY", "test-key")
	t.Setenv("TEST_S3_ACCESS", "access")
	t.Setenv("TEST_S3_SECRET", "")

	cfg, err := Load(writeConfig(t, testConfig), logrus.New())
	require.NoError(t, err)
	assert.False(t, cfg.Sinks[0].Enabled)
}

func TestLoadWithoutSecretsSkipsResolution(t *testing.T) {
	t.Setenv("KPICORE_MASKING_KEY", "")

	cfg, err := LoadWithoutSecrets(writeConfig(t, testConfig), logrus.New())
	require.NoError(t, err)
	assert.Nil(t, cfg.Normalization.PII.MaskingKey)
}

func TestValidateRejectsUnknownStrategy(t *testing.T) {
	t.Setenv("KPICORE_MASKING_KEY", "test-key")

	body := testConfig + "\n"
	cfg, err := LoadWithoutSecrets(writeConfig(t, body), logrus.New())
	require.NoError(t, err)

	cfg.RunIDStrategy = "sequential"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsDuplicateMetric(t *testing.T) {
	body := `
metrics:
  - name: par_90
    kind: ratio_pct
    numerator: dpd_90_plus_usd
    denominator: total_receivable_usd
  - name: par_90
    kind: sum
    column: total_receivable_usd
`
	_, err := LoadWithoutSecrets(writeConfig(t, body), logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate metric")
}

func TestValidateRejectsUnknownNullPolicy(t *testing.T) {
	body := `
dataset:
  required_columns: [loan_id]
normalization:
  null_policy:
    loan_id: interpolate
metrics:
  - name: total
    kind: sum
    column: loan_id
`
	_, err := LoadWithoutSecrets(writeConfig(t, body), logrus.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null policy")
}

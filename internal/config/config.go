package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/inferloop/kpicore/pkg/errors"
)

// Run-id strategies
const (
	RunIDRandom        = "random"
	RunIDDeterministic = "deterministic"
)

// Sink types
const (
	SinkTypeS3       = "s3"
	SinkTypePostgres = "postgres"
	SinkTypeRedis    = "redis"
)

// Column types accepted in the dataset schema declaration
const (
	ColumnNumeric = "numeric"
	ColumnDate    = "date"
	ColumnString  = "string"
)

// Null handling policies
const (
	NullDropRow    = "drop_row"
	NullImputeZero = "impute_zero"
	NullImputeMean = "impute_mean"
	NullFlagOnly   = "flag_only"
)

// Config is the declarative pipeline configuration document.
type Config struct {
	Dataset       DatasetConfig       `mapstructure:"dataset" json:"dataset"`
	Normalization NormalizationConfig `mapstructure:"normalization" json:"normalization"`
	Metrics       []MetricConfig      `mapstructure:"metrics" json:"metrics"`
	Quality       QualityConfig       `mapstructure:"quality" json:"quality"`
	Output        OutputConfig        `mapstructure:"output" json:"output"`
	Sinks         []SinkConfig        `mapstructure:"sinks" json:"sinks"`
	RunIDStrategy string              `mapstructure:"run_id_strategy" json:"run_id_strategy"`
	Timeouts      TimeoutConfig       `mapstructure:"timeouts" json:"timeouts"`
	Retry         RetryConfig         `mapstructure:"retry" json:"retry"`
}

// DatasetConfig declares the expected input schema.
type DatasetConfig struct {
	RequiredColumns []string          `mapstructure:"required_columns" json:"required_columns"`
	ColumnTypes     map[string]string `mapstructure:"column_types" json:"column_types"`
	DedupKeys       []string          `mapstructure:"dedup_keys" json:"dedup_keys"`
	Strict          bool              `mapstructure:"strict" json:"strict"`
}

// NormalizationConfig declares column aliases, null policies and PII rules.
type NormalizationConfig struct {
	Aliases    map[string][]string `mapstructure:"aliases" json:"aliases"`
	NullPolicy map[string]string   `mapstructure:"null_policy" json:"null_policy"`
	PII        PIIConfig           `mapstructure:"pii" json:"pii"`
}

// PIIConfig declares the masking keyword set and the key secret reference.
// The key itself is never written in configuration.
type PIIConfig struct {
	Keywords      []string `mapstructure:"keywords" json:"keywords"`
	MaskingKeyEnv string   `mapstructure:"masking_key_env" json:"masking_key_env"`

	MaskingKey []byte `mapstructure:"-" json:"-"`
}

// MetricConfig is one declarative metric registry entry.
type MetricConfig struct {
	Name              string             `mapstructure:"name" json:"name"`
	Kind              string             `mapstructure:"kind" json:"kind"`
	Numerator         string             `mapstructure:"numerator" json:"numerator,omitempty"`
	Denominator       string             `mapstructure:"denominator" json:"denominator,omitempty"`
	Column            string             `mapstructure:"column" json:"column,omitempty"`
	RequiredColumns   []string           `mapstructure:"required_columns" json:"required_columns,omitempty"`
	DependsOn         []string           `mapstructure:"depends_on" json:"depends_on,omitempty"`
	Weights           map[string]float64 `mapstructure:"weights" json:"weights,omitempty"`
	WarningThreshold  float64            `mapstructure:"warning_threshold" json:"warning_threshold,omitempty"`
	CriticalThreshold float64            `mapstructure:"critical_threshold" json:"critical_threshold,omitempty"`
}

// QualityConfig tunes the data quality reporter.
type QualityConfig struct {
	CriticalDeduction float64 `mapstructure:"critical_deduction" json:"critical_deduction"`
	WarningDeduction  float64 `mapstructure:"warning_deduction" json:"warning_deduction"`
	InfoDeduction     float64 `mapstructure:"info_deduction" json:"info_deduction"`
	InfoFloor         float64 `mapstructure:"info_floor" json:"info_floor"`
	FailBelowScore    float64 `mapstructure:"fail_below_score" json:"fail_below_score"`
}

// OutputConfig locates local manifest storage.
type OutputConfig struct {
	ManifestDir string `mapstructure:"manifest_dir" json:"manifest_dir"`
}

// SinkConfig declares one external sink. Credentials are referenced by
// environment variable name, never inline.
type SinkConfig struct {
	Name    string `mapstructure:"name" json:"name"`
	Type    string `mapstructure:"type" json:"type"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`

	// s3
	Bucket          string `mapstructure:"bucket" json:"bucket,omitempty"`
	Region          string `mapstructure:"region" json:"region,omitempty"`
	Prefix          string `mapstructure:"prefix" json:"prefix,omitempty"`
	AccessKeyEnv    string `mapstructure:"access_key_env" json:"access_key_env,omitempty"`
	SecretKeyEnv    string `mapstructure:"secret_key_env" json:"secret_key_env,omitempty"`
	EndpointURL     string `mapstructure:"endpoint_url" json:"endpoint_url,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" json:"force_path_style,omitempty"`

	// postgres
	DSNEnv string `mapstructure:"dsn_env" json:"dsn_env,omitempty"`
	Table  string `mapstructure:"table" json:"table,omitempty"`

	// redis
	Addr        string        `mapstructure:"addr" json:"addr,omitempty"`
	PasswordEnv string        `mapstructure:"password_env" json:"password_env,omitempty"`
	DB          int           `mapstructure:"db" json:"db,omitempty"`
	TTL         time.Duration `mapstructure:"ttl" json:"ttl,omitempty"`

	resolvedSecrets map[string]string
}

// Secret returns a secret resolved for this sink at load time.
func (s *SinkConfig) Secret(envName string) string {
	return s.resolvedSecrets[envName]
}

// TimeoutConfig bounds blocking operations. No pipeline operation may
// block indefinitely.
type TimeoutConfig struct {
	Ingest    time.Duration `mapstructure:"ingest" json:"ingest"`
	SinkWrite time.Duration `mapstructure:"sink_write" json:"sink_write"`
}

// RetryConfig bounds sink write retries.
type RetryConfig struct {
	Attempts int           `mapstructure:"attempts" json:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff" json:"backoff"`
}

// LoadWithoutSecrets reads and validates a configuration file without
// resolving secret references. For read-only consumers such as the
// lineage server.
func LoadWithoutSecrets(path string, logger *logrus.Logger) (*Config, error) {
	return load(path, logger, false)
}

// Load reads, validates and secret-resolves a configuration file. An
// enabled optional sink with a missing secret is disabled with a warning;
// a missing masking key is a configuration error.
func Load(path string, logger *logrus.Logger) (*Config, error) {
	return load(path, logger, true)
}

func load(path string, logger *logrus.Logger, withSecrets bool) (*Config, error) {
	if logger == nil {
		logger = logrus.New()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("KPICORE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			fmt.Sprintf("failed to read configuration file %s", path))
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeConfiguration, errors.CodeInvalidConfig,
			"failed to parse configuration")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if withSecrets {
		if err := cfg.resolveSecrets(logger); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RunIDStrategy == "" {
		c.RunIDStrategy = RunIDRandom
	}
	if c.Output.ManifestDir == "" {
		c.Output.ManifestDir = "./manifests"
	}
	if c.Timeouts.Ingest <= 0 {
		c.Timeouts.Ingest = 30 * time.Second
	}
	if c.Timeouts.SinkWrite <= 0 {
		c.Timeouts.SinkWrite = 10 * time.Second
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = 3
	}
	if c.Retry.Backoff <= 0 {
		c.Retry.Backoff = 500 * time.Millisecond
	}
	if c.Quality.CriticalDeduction <= 0 {
		c.Quality.CriticalDeduction = 20
	}
	if c.Quality.WarningDeduction <= 0 {
		c.Quality.WarningDeduction = 10
	}
	if c.Quality.InfoDeduction <= 0 {
		c.Quality.InfoDeduction = 2
	}
	if c.Quality.InfoFloor <= 0 {
		c.Quality.InfoFloor = 70
	}
	if len(c.Normalization.PII.Keywords) == 0 {
		c.Normalization.PII.Keywords = []string{
			"name", "email", "phone", "address", "government_id", "tax_id",
		}
	}
	if c.Normalization.PII.MaskingKeyEnv == "" {
		c.Normalization.PII.MaskingKeyEnv = "KPICORE_MASKING_KEY"
	}
}

// Validate checks the configuration document for structural errors.
func (c *Config) Validate() error {
	if c.RunIDStrategy != RunIDRandom && c.RunIDStrategy != RunIDDeterministic {
		return errors.NewConfigurationError(errors.CodeInvalidConfig,
			fmt.Sprintf("unknown run_id_strategy %q", c.RunIDStrategy))
	}

	if len(c.Metrics) == 0 {
		return errors.NewConfigurationError(errors.CodeInvalidConfig, "no metrics configured")
	}

	seen := make(map[string]bool, len(c.Metrics))
	for _, m := range c.Metrics {
		if m.Name == "" {
			return errors.NewConfigurationError(errors.CodeInvalidMetric, "metric without a name")
		}
		if seen[m.Name] {
			return errors.NewConfigurationError(errors.CodeInvalidMetric,
				fmt.Sprintf("duplicate metric %q", m.Name))
		}
		seen[m.Name] = true
	}

	for col, t := range c.Dataset.ColumnTypes {
		switch t {
		case ColumnNumeric, ColumnDate, ColumnString:
		default:
			return errors.NewConfigurationError(errors.CodeInvalidConfig,
				fmt.Sprintf("column %q has unknown type %q", col, t))
		}
	}

	for col, p := range c.Normalization.NullPolicy {
		switch p {
		case NullDropRow, NullImputeZero, NullImputeMean, NullFlagOnly:
		default:
			return errors.NewConfigurationError(errors.CodeInvalidConfig,
				fmt.Sprintf("column %q has unknown null policy %q", col, p))
		}
	}

	sinkNames := make(map[string]bool, len(c.Sinks))
	for _, s := range c.Sinks {
		if s.Name == "" {
			return errors.NewConfigurationError(errors.CodeInvalidConfig, "sink without a name")
		}
		if sinkNames[s.Name] {
			return errors.NewConfigurationError(errors.CodeInvalidConfig,
				fmt.Sprintf("duplicate sink %q", s.Name))
		}
		sinkNames[s.Name] = true
		switch s.Type {
		case SinkTypeS3, SinkTypePostgres, SinkTypeRedis:
		default:
			return errors.NewConfigurationError(errors.CodeInvalidConfig,
				fmt.Sprintf("sink %q has unknown type %q", s.Name, s.Type))
		}
	}

	return nil
}

// resolveSecrets pulls referenced secrets from the environment. The masking
// key is required; sink secrets are optional and disable their sink when
// absent.
func (c *Config) resolveSecrets(logger *logrus.Logger) error {
	key := os.Getenv(c.Normalization.PII.MaskingKeyEnv)
	if strings.TrimSpace(key) == "" {
		return errors.NewConfigurationError(errors.CodeMissingSecret,
			fmt.Sprintf("masking key environment variable %s is not set", c.Normalization.PII.MaskingKeyEnv))
	}
	c.Normalization.PII.MaskingKey = []byte(key)

	for i := range c.Sinks {
		sink := &c.Sinks[i]
		if !sink.Enabled {
			continue
		}
		sink.resolvedSecrets = make(map[string]string)
		for _, env := range sink.secretRefs() {
			val := os.Getenv(env)
			if val == "" {
				logger.WithFields(logrus.Fields{
					"sink":   sink.Name,
					"secret": env,
				}).Warn("Sink secret not set, disabling sink")
				sink.Enabled = false
				break
			}
			sink.resolvedSecrets[env] = val
		}
	}

	return nil
}

func (s *SinkConfig) secretRefs() []string {
	var refs []string
	switch s.Type {
	case SinkTypeS3:
		if s.AccessKeyEnv != "" {
			refs = append(refs, s.AccessKeyEnv)
		}
		if s.SecretKeyEnv != "" {
			refs = append(refs, s.SecretKeyEnv)
		}
	case SinkTypePostgres:
		if s.DSNEnv != "" {
			refs = append(refs, s.DSNEnv)
		}
	case SinkTypeRedis:
		if s.PasswordEnv != "" {
			refs = append(refs, s.PasswordEnv)
		}
	}
	return refs
}

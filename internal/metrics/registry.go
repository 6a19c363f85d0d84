package metrics

import (
	"fmt"
	"strings"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/errors"
	"github.com/inferloop/kpicore/pkg/models"
)

// Results holds already-computed metric values, keyed by name. Composite
// calculators read their dependencies from it.
type Results map[string]models.MetricResult

// Calculator computes one numeric value from a normalized dataset. It must
// be pure: identical input yields an identical value.
type Calculator func(ds *models.NormalizedDataset, prior Results) (float64, error)

// Definition is one declarative metric registry entry. The registry is
// data, not code-per-metric; adding a metric never changes the engine.
type Definition struct {
	Name              string
	RequiredColumns   []string
	Calculator        Calculator
	DenominatorField  string
	DependsOn         []string
	Formula           string
	WarningThreshold  float64
	CriticalThreshold float64
}

// Registry is an ordered catalog of metric definitions. Dependents must be
// registered after their dependencies; Register enforces this.
type Registry struct {
	defs   []Definition
	byName map[string]bool
}

// NewRegistry creates an empty metric registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]bool)}
}

// Register appends a definition. A dependency that is not yet registered
// is a configuration error, which keeps registry order topological.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return errors.NewConfigurationError(errors.CodeInvalidMetric, "metric definition without a name")
	}
	if r.byName[def.Name] {
		return errors.NewConfigurationError(errors.CodeInvalidMetric,
			fmt.Sprintf("metric %q already registered", def.Name))
	}
	if def.Calculator == nil {
		return errors.NewConfigurationError(errors.CodeInvalidMetric,
			fmt.Sprintf("metric %q has no calculator", def.Name))
	}
	for _, dep := range def.DependsOn {
		if !r.byName[dep] {
			return errors.NewConfigurationError(errors.CodeCyclicRegistry,
				fmt.Sprintf("metric %q depends on %q which is not registered before it", def.Name, dep))
		}
	}
	r.defs = append(r.defs, def)
	r.byName[def.Name] = true
	return nil
}

// Definitions returns the registry in registration order.
func (r *Registry) Definitions() []Definition {
	return r.defs
}

// Len returns the number of registered metrics.
func (r *Registry) Len() int {
	return len(r.defs)
}

// Metric calculator kinds accepted in configuration
const (
	KindRatioPct      = "ratio_pct"
	KindSum           = "sum"
	KindAverage       = "average"
	KindWeightedScore = "weighted_score"
)

// BuildRegistry turns configuration entries into a registry, attaching the
// built-in calculator for each declared kind.
func BuildRegistry(entries []config.MetricConfig) (*Registry, error) {
	registry := NewRegistry()
	for _, entry := range entries {
		def, err := buildDefinition(entry)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(def); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func buildDefinition(entry config.MetricConfig) (Definition, error) {
	def := Definition{
		Name:              entry.Name,
		RequiredColumns:   entry.RequiredColumns,
		DependsOn:         entry.DependsOn,
		WarningThreshold:  entry.WarningThreshold,
		CriticalThreshold: entry.CriticalThreshold,
	}

	switch entry.Kind {
	case KindRatioPct:
		if entry.Numerator == "" || entry.Denominator == "" {
			return def, errors.NewConfigurationError(errors.CodeInvalidMetric,
				fmt.Sprintf("metric %q of kind %s needs numerator and denominator", entry.Name, entry.Kind))
		}
		numerator, denominator := entry.Numerator, entry.Denominator
		if len(def.RequiredColumns) == 0 {
			def.RequiredColumns = []string{numerator, denominator}
		}
		def.DenominatorField = denominator
		def.Formula = fmt.Sprintf("%s / %s * 100", numerator, denominator)
		def.Calculator = func(ds *models.NormalizedDataset, _ Results) (float64, error) {
			num, _, err := ds.SumColumn(numerator)
			if err != nil {
				return 0, err
			}
			den, _, err := ds.SumColumn(denominator)
			if err != nil {
				return 0, err
			}
			if den == 0 {
				return 0, nil
			}
			return num / den * 100, nil
		}

	case KindSum:
		if entry.Column == "" {
			return def, errors.NewConfigurationError(errors.CodeInvalidMetric,
				fmt.Sprintf("metric %q of kind %s needs a column", entry.Name, entry.Kind))
		}
		column := entry.Column
		if len(def.RequiredColumns) == 0 {
			def.RequiredColumns = []string{column}
		}
		def.Formula = fmt.Sprintf("sum(%s)", column)
		def.Calculator = func(ds *models.NormalizedDataset, _ Results) (float64, error) {
			sum, _, err := ds.SumColumn(column)
			return sum, err
		}

	case KindAverage:
		if entry.Column == "" {
			return def, errors.NewConfigurationError(errors.CodeInvalidMetric,
				fmt.Sprintf("metric %q of kind %s needs a column", entry.Name, entry.Kind))
		}
		column := entry.Column
		if len(def.RequiredColumns) == 0 {
			def.RequiredColumns = []string{column}
		}
		def.Formula = fmt.Sprintf("avg(%s)", column)
		def.Calculator = func(ds *models.NormalizedDataset, _ Results) (float64, error) {
			values, _, err := ds.NumericColumn(column)
			if err != nil {
				return 0, err
			}
			if len(values) == 0 {
				return 0, nil
			}
			var sum float64
			for _, v := range values {
				sum += v
			}
			return sum / float64(len(values)), nil
		}

	case KindWeightedScore:
		if len(entry.DependsOn) == 0 || len(entry.Weights) == 0 {
			return def, errors.NewConfigurationError(errors.CodeInvalidMetric,
				fmt.Sprintf("metric %q of kind %s needs depends_on and weights", entry.Name, entry.Kind))
		}
		deps, weights := entry.DependsOn, entry.Weights
		def.Formula = weightedFormula(deps, weights)
		def.Calculator = func(_ *models.NormalizedDataset, prior Results) (float64, error) {
			var score float64
			for _, dep := range deps {
				result, ok := prior[dep]
				if !ok || result.Status == models.MetricStatusError {
					return 0, errors.NewCalculationError(errors.CodeDependencyMissing,
						fmt.Sprintf("dependency %q has no usable result", dep))
				}
				score += weights[dep] * result.Value
			}
			return score, nil
		}

	default:
		return def, errors.NewConfigurationError(errors.CodeInvalidMetric,
			fmt.Sprintf("metric %q has unknown kind %q", entry.Name, entry.Kind))
	}

	return def, nil
}

func weightedFormula(deps []string, weights map[string]float64) string {
	terms := make([]string, len(deps))
	for i, dep := range deps {
		terms[i] = fmt.Sprintf("%g*%s", weights[dep], dep)
	}
	return strings.Join(terms, " + ")
}

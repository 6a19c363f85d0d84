package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/models"
)

var dateFormats = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"01/02/2006",
	"02-Jan-2006",
}

// SchemaValidator applies typed assertions over a parsed tabular input:
// column presence and numeric/date coercibility.
type SchemaValidator struct {
	config *config.DatasetConfig
}

// NewSchemaValidator creates a validator for a declared dataset schema.
func NewSchemaValidator(cfg *config.DatasetConfig) *SchemaValidator {
	return &SchemaValidator{config: cfg}
}

// Validate returns one message per schema violation. It never mutates the
// input.
func (sv *SchemaValidator) Validate(columns []string, rows [][]string) []string {
	var violations []string

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[normalizeHeader(c)] = i
	}

	for _, required := range sv.config.RequiredColumns {
		if _, ok := index[normalizeHeader(required)]; !ok {
			violations = append(violations, fmt.Sprintf("required column %q is missing", required))
		}
	}

	for col, colType := range sv.config.ColumnTypes {
		idx, ok := index[normalizeHeader(col)]
		if !ok {
			continue
		}
		if bad := countUncoercible(rows, idx, colType); bad > 0 {
			violations = append(violations,
				fmt.Sprintf("column %q has %d values not coercible to %s", col, bad, colType))
		}
	}

	return violations
}

func countUncoercible(rows [][]string, idx int, colType string) int {
	bad := 0
	for _, row := range rows {
		if idx >= len(row) || models.IsNull(row[idx]) {
			continue
		}
		switch colType {
		case config.ColumnNumeric:
			if _, err := models.ParseNumeric(row[idx]); err != nil {
				bad++
			}
		case config.ColumnDate:
			if !coercibleDate(row[idx]) {
				bad++
			}
		}
	}
	return bad
}

func coercibleDate(s string) bool {
	s = strings.TrimSpace(s)
	for _, format := range dateFormats {
		if _, err := time.Parse(format, s); err == nil {
			return true
		}
	}
	return false
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

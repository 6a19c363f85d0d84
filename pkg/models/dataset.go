package models

import (
	"strconv"
	"strings"
	"time"
)

// RawDataset is the as-loaded tabular extract. It is immutable once created
// by the ingestion engine.
type RawDataset struct {
	Columns           []string  `json:"columns"`
	Rows              [][]string `json:"-"`
	SourcePath        string    `json:"source_path"`
	ContentChecksum   string    `json:"content_checksum"`
	RowCount          int       `json:"row_count"`
	DuplicatesDropped int       `json:"duplicates_dropped"`
	IngestionErrors   []string  `json:"ingestion_errors,omitempty"`
	IngestedAt        time.Time `json:"ingested_at"`
}

// NormalizedDataset is derived from exactly one RawDataset. Calculation and
// the quality reporter consume it read-only.
type NormalizedDataset struct {
	Columns        []string       `json:"columns"`
	Rows           [][]string     `json:"-"`
	SourceChecksum string         `json:"source_checksum"`
	MaskedColumns  []string       `json:"masked_columns"`
	RulesApplied   []string       `json:"normalization_rules_applied"`
	NullHandling   map[string]int `json:"null_handling_summary"`
	FailedColumns  map[string]bool `json:"-"`
}

// ColumnIndex returns the position of a column by exact name, or -1.
func (ds *NormalizedDataset) ColumnIndex(name string) int {
	for i, c := range ds.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the dataset carries a usable column of that
// name. Columns that failed type coercion are excluded from numeric use.
func (ds *NormalizedDataset) HasColumn(name string) bool {
	return ds.ColumnIndex(name) >= 0 && !ds.FailedColumns[name]
}

// NumericColumn parses a column into float64 values, skipping nulls and
// returning the null count alongside the parsed values.
func (ds *NormalizedDataset) NumericColumn(name string) ([]float64, int, error) {
	idx := ds.ColumnIndex(name)
	if idx < 0 {
		return nil, 0, strconv.ErrSyntax
	}
	values := make([]float64, 0, len(ds.Rows))
	nulls := 0
	for _, row := range ds.Rows {
		if idx >= len(row) || IsNull(row[idx]) {
			nulls++
			continue
		}
		v, err := ParseNumeric(row[idx])
		if err != nil {
			nulls++
			continue
		}
		values = append(values, v)
	}
	return values, nulls, nil
}

// SumColumn sums a numeric column, treating nulls as zero.
func (ds *NormalizedDataset) SumColumn(name string) (float64, int, error) {
	values, nulls, err := ds.NumericColumn(name)
	if err != nil {
		return 0, 0, err
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum, nulls, nil
}

// ParseNumeric parses a numeric field. Thousands separators are stripped
// and accounting-negative parenthesis notation "(1,234.56)" is interpreted
// as a negative value.
func ParseNumeric(s string) (float64, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "$")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if negative {
		v = -v
	}
	return v, nil
}

// IsNull reports whether a raw cell value represents a missing value.
func IsNull(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "null", "na", "n/a", "none", "nan":
		return true
	default:
		return false
	}
}

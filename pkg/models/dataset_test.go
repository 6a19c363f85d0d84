package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumeric(t *testing.T) {
	cases := []struct {
		input    string
		expected float64
	}{
		{"100", 100},
		{"1,234.56", 1234.56},
		{"(1,234.56)", -1234.56},
		{" (42) ", -42},
		{"$500.25", 500.25},
		{"-17.5", -17.5},
	}

	for _, tc := range cases {
		v, err := ParseNumeric(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.expected, v, tc.input)
	}

	_, err := ParseNumeric("not a number")
	assert.Error(t, err)
}

func TestIsNull(t *testing.T) {
	assert.True(t, IsNull(""))
	assert.True(t, IsNull("  "))
	assert.True(t, IsNull("NULL"))
	assert.True(t, IsNull("n/a"))
	assert.True(t, IsNull("NaN"))
	assert.False(t, IsNull("0"))
	assert.False(t, IsNull("value"))
}

func TestNumericColumn(t *testing.T) {
	ds := &NormalizedDataset{
		Columns: []string{"loan_id", "balance"},
		Rows: [][]string{
			{"L-1", "100"},
			{"L-2", ""},
			{"L-3", "(50)"},
		},
	}

	values, nulls, err := ds.NumericColumn("balance")
	require.NoError(t, err)
	assert.Equal(t, []float64{100, -50}, values)
	assert.Equal(t, 1, nulls)
}

func TestSumColumn(t *testing.T) {
	ds := &NormalizedDataset{
		Columns: []string{"balance"},
		Rows:    [][]string{{"100"}, {"200"}, {"(50)"}},
	}

	sum, nulls, err := ds.SumColumn("balance")
	require.NoError(t, err)
	assert.Equal(t, 250.0, sum)
	assert.Equal(t, 0, nulls)
}

func TestHasColumnExcludesFailed(t *testing.T) {
	ds := &NormalizedDataset{
		Columns:       []string{"balance"},
		FailedColumns: map[string]bool{"balance": true},
	}

	assert.False(t, ds.HasColumn("balance"))
	assert.False(t, ds.HasColumn("missing"))
}

func TestRunContextAuditOrdering(t *testing.T) {
	rc := NewRunContext("run-test")
	rc.Audit("ingestion", "ingestion:start", "info", nil)
	rc.Audit("ingestion", "ingestion:success", "success", nil)
	rc.Audit("transformation", "transformation:start", "info", nil)

	trail := rc.Trail()
	require.Len(t, trail, 3)
	for _, entry := range trail {
		assert.Equal(t, "run-test", entry.RunID)
	}
	for i := 1; i < len(trail); i++ {
		assert.False(t, trail[i].Timestamp.Before(trail[i-1].Timestamp),
			"audit timestamps must be monotonically non-decreasing")
	}
}

package transform

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/kpicore/internal/config"
	"github.com/inferloop/kpicore/pkg/models"
)

func testNormConfig() *config.NormalizationConfig {
	return &config.NormalizationConfig{
		Aliases: map[string][]string{
			"total_receivable_usd": {"total_receivable", "receivable_usd"},
		},
		NullPolicy: map[string]string{
			"total_receivable_usd": config.NullImputeZero,
		},
		PII: config.PIIConfig{
			Keywords:   []string{"name", "ssn", "email"},
			MaskingKey: []byte("test-masking-key"),
		},
	}
}

func rawDataset(columns []string, rows [][]string) *models.RawDataset {
	return &models.RawDataset{
		Columns:         columns,
		Rows:            rows,
		ContentChecksum: "abc123",
		RowCount:        len(rows),
	}
}

func TestTransformResolvesAliases(t *testing.T) {
	engine := NewEngine(testNormConfig(), nil, logrus.New())
	runCtx := models.NewRunContext("run-test")

	ds, err := engine.Transform(context.Background(), runCtx, rawDataset(
		[]string{"loan_id", "Total Receivable"},
		[][]string{{"L-1", "100"}},
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"loan_id", "total_receivable_usd"}, ds.Columns)
	assert.Contains(t, ds.RulesApplied, "rename:Total Receivable->total_receivable_usd")
	assert.Equal(t, "abc123", ds.SourceChecksum)
}

func TestTransformAliasWinnerIsStable(t *testing.T) {
	cfg := testNormConfig()
	// Both canonical names match the same physical column through the
	// substring fallback; the winner must not depend on map order.
	cfg.Aliases = map[string][]string{
		"alpha": {},
		"beta":  {},
	}
	engine := NewEngine(cfg, nil, logrus.New())

	var first []string
	for i := 0; i < 50; i++ {
		ds, err := engine.Transform(context.Background(), models.NewRunContext("run-test"), rawDataset(
			[]string{"loan_alpha_beta_usd"},
			[][]string{{"100"}},
		))
		require.NoError(t, err)
		if first == nil {
			first = ds.Columns
			assert.Equal(t, []string{"alpha"}, first)
			continue
		}
		require.Equal(t, first, ds.Columns)
	}
}

func TestTransformDoesNotMutateRawRows(t *testing.T) {
	engine := NewEngine(testNormConfig(), nil, logrus.New())
	raw := rawDataset(
		[]string{"total_receivable_usd"},
		[][]string{{""}},
	)

	ds, err := engine.Transform(context.Background(), models.NewRunContext("run-test"), raw)
	require.NoError(t, err)

	assert.Equal(t, "0", ds.Rows[0][0])
	assert.Equal(t, "", raw.Rows[0][0])
}

func TestTransformNullPolicies(t *testing.T) {
	cfg := testNormConfig()
	cfg.NullPolicy = map[string]string{
		"balance": config.NullImputeMean,
		"loan_id": config.NullDropRow,
		"notes":   config.NullFlagOnly,
	}
	engine := NewEngine(cfg, nil, logrus.New())

	ds, err := engine.Transform(context.Background(), models.NewRunContext("run-test"), rawDataset(
		[]string{"loan_id", "balance", "notes"},
		[][]string{
			{"L-1", "100", "ok"},
			{"L-2", "", ""},
			{"", "300", "x"},
		},
	))
	require.NoError(t, err)

	// Policies apply in sorted column order: balance imputation sees the
	// row that loan_id drop_row later removes, so the mean is (100+300)/2.
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "200", ds.Rows[1][1])
	assert.Equal(t, 1, ds.NullHandling["balance"])
	assert.Equal(t, 1, ds.NullHandling["loan_id"])
	assert.Equal(t, 1, ds.NullHandling["notes"])
	assert.Contains(t, ds.RulesApplied, "null_policy:balance:impute_mean")
	assert.Contains(t, ds.RulesApplied, "null_policy:loan_id:drop_row")
}

func TestTransformFlagsCoercionFailures(t *testing.T) {
	types := map[string]string{"balance": config.ColumnNumeric}
	engine := NewEngine(testNormConfig(), types, logrus.New())

	ds, err := engine.Transform(context.Background(), models.NewRunContext("run-test"), rawDataset(
		[]string{"balance"},
		[][]string{{"100"}, {"garbage"}},
	))
	require.NoError(t, err)

	assert.True(t, ds.FailedColumns["balance"])
	assert.False(t, ds.HasColumn("balance"))
	assert.Contains(t, ds.RulesApplied, FailedRulePrefix+"balance:numeric_coercion")
}

func TestTransformMasksPIIColumns(t *testing.T) {
	engine := NewEngine(testNormConfig(), nil, logrus.New())

	ds, err := engine.Transform(context.Background(), models.NewRunContext("run-test"), rawDataset(
		[]string{"borrower_name", "balance"},
		[][]string{
			{"Alice", "100"},
			{"Alice", "200"},
			{"Bob", "300"},
			{"", "400"},
		},
	))
	require.NoError(t, err)

	assert.Equal(t, []string{"borrower_name"}, ds.MaskedColumns)
	assert.NotEqual(t, "Alice", ds.Rows[0][0])
	assert.Len(t, ds.Rows[0][0], 64)
	// Deterministic: identical raw values mask to identical outputs.
	assert.Equal(t, ds.Rows[0][0], ds.Rows[1][0])
	assert.NotEqual(t, ds.Rows[0][0], ds.Rows[2][0])
	// Nulls pass through unmasked.
	assert.Equal(t, "", ds.Rows[3][0])
	// Non-PII columns are untouched.
	assert.Equal(t, "100", ds.Rows[0][1])
}

func TestMaskerKeyChangesOutput(t *testing.T) {
	a := NewMasker([]string{"name"}, []byte("key-a"))
	b := NewMasker([]string{"name"}, []byte("key-b"))

	assert.NotEqual(t, a.Mask("Alice"), b.Mask("Alice"))
	assert.Equal(t, a.Mask("Alice"), a.Mask("Alice"))
}

func TestColumnResolverPriority(t *testing.T) {
	r := NewColumnResolver([]string{"loan_id", "Total_Receivable_USD", "receivable_note"})

	idx, ok := r.Resolve("loan_id")
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	// Case-insensitive beats substring.
	idx, ok = r.Resolve("total_receivable_usd")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	// Substring falls back to the first containing column.
	idx, ok = r.Resolve("receivable")
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = r.Resolve("missing_column")
	assert.False(t, ok)
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "total_receivable_usd", canonicalName("  Total Receivable-USD "))
}

package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRowsDeterministic(t *testing.T) {
	columns := []string{"loan_id", "balance"}
	rows := [][]string{
		{"L-1", "100"},
		{"L-2", "200"},
	}

	first := Rows(columns, rows)
	second := Rows(columns, rows)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestRowsOrderInsensitive(t *testing.T) {
	columns := []string{"loan_id", "balance"}

	forward := Rows(columns, [][]string{{"L-1", "100"}, {"L-2", "200"}})
	reversed := Rows(columns, [][]string{{"L-2", "200"}, {"L-1", "100"}})

	assert.Equal(t, forward, reversed)
}

func TestRowsSensitiveToContent(t *testing.T) {
	columns := []string{"loan_id", "balance"}

	base := Rows(columns, [][]string{{"L-1", "100"}})
	changed := Rows(columns, [][]string{{"L-1", "101"}})
	differentHeader := Rows([]string{"loan_id", "amount"}, [][]string{{"L-1", "100"}})

	assert.NotEqual(t, base, changed)
	assert.NotEqual(t, base, differentHeader)
}

func TestLinesMatchesRowsScheme(t *testing.T) {
	a := Lines([]string{"x", "y"})
	b := Lines([]string{"y", "x"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Lines([]string{"x", "z"}))
}

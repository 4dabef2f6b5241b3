package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructureBasic(t *testing.T) {
	data := []byte("Date,Amount,Region\n2024-01-01,100,north\n2024-01-02,250,south\n")

	tbl, err := Structure(data, 0)
	require.NoError(t, err)

	require.Len(t, tbl.Columns, 3)
	assert.Equal(t, []string{"date", "amount", "region"}, tbl.ColumnNames())
	assert.Equal(t, TypeDate, tbl.Columns[0].Type)
	assert.Equal(t, TypeInteger, tbl.Columns[1].Type)
	assert.Equal(t, TypeText, tbl.Columns[2].Type)

	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "100", tbl.Rows[0]["amount"])
	assert.Equal(t, "south", tbl.Rows[1]["region"])
	assert.Empty(t, tbl.Warnings)
}

func TestStructureMalformedRowIsFlaggedAndSkipped(t *testing.T) {
	data := []byte("a,b,c\n1,2,3\n1,2\n4,5,6\n")

	tbl, err := Structure(data, 0)
	require.NoError(t, err)

	// The short row is excluded; well-formed rows around it survive.
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "3", tbl.Rows[0]["c"])
	assert.Equal(t, "6", tbl.Rows[1]["c"])

	require.Len(t, tbl.Warnings, 1)
	assert.Contains(t, tbl.Warnings[0], "line 3")
	assert.Contains(t, tbl.Warnings[0], "row skipped")
}

func TestStructureDirtyHeaders(t *testing.T) {
	data := []byte("First Name!,Amount (€)\nada,10\ngrace,20\n")

	tbl, err := Structure(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"first_name", "amount"}, tbl.ColumnNames())
	assert.Equal(t, "First Name!", tbl.Columns[0].RawHeader)
}

func TestStructureDelimiterInference(t *testing.T) {
	tests := []struct {
		name string
		data string
		want []string
	}{
		{"semicolon", "a;b;c\n1;2;3\n", []string{"a", "b", "c"}},
		{"tab", "a\tb\n1\t2\n", []string{"a", "b"}},
		{"pipe", "a|b\n1|2\n", []string{"a", "b"}},
		{"comma default", "a,b\n1,2\n", []string{"a", "b"}},
		{"single column falls back to comma", "only\nrow\n", []string{"only"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl, err := Structure([]byte(tt.data), 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tbl.ColumnNames())
			assert.Len(t, tbl.Rows, 1)
		})
	}
}

func TestStructureExplicitDelimiterWins(t *testing.T) {
	// Commas inside the data must not flip an explicitly requested delimiter.
	data := []byte("a;b\nx,y;2\n")
	tbl, err := Structure(data, ';')
	require.NoError(t, err)
	assert.Equal(t, "x,y", tbl.Rows[0]["a"])
}

func TestStructureSkipsLeadingBlankLines(t *testing.T) {
	data := []byte("\n\na,b\n1,2\n")
	tbl, err := Structure(data, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.ColumnNames())
	require.Len(t, tbl.Rows, 1)
}

func TestStructureEmptyInput(t *testing.T) {
	_, err := Structure(nil, 0)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Structure([]byte("\n   \n"), 0)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestStructureHeaderOnly(t *testing.T) {
	tbl, err := Structure([]byte("a,b,c\n"), 0)
	require.NoError(t, err)
	assert.Len(t, tbl.Rows, 0)
	// Columns with no values default to text.
	for _, c := range tbl.Columns {
		assert.Equal(t, TypeText, c.Type)
	}
}

func TestStructureInvalidUTF8(t *testing.T) {
	data := []byte("a,b\ncaf\xe9,2\n")
	tbl, err := Structure(data, 0)
	require.NoError(t, err)
	assert.Equal(t, "caf�", tbl.Rows[0]["a"])
}

package tabular

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFile(t *testing.T) {
	path := writeTemp(t, "a,b,c\n1, 2 ,3\n4,5,6\n")

	tbl, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "2", tbl.Get(0, "b"))
	assert.Equal(t, "6", tbl.Get(1, "c"))
	assert.True(t, tbl.HasColumn("a"))
	assert.False(t, tbl.HasColumn("z"))
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestWriteFileRoundTrip(t *testing.T) {
	tbl := New([]string{"project_id", "amount"})
	tbl.Append(map[string]string{"project_id": "PRJ_0001", "amount": "100000"})
	tbl.Append(map[string]string{"project_id": "PRJ_0002", "amount": "200000"})

	path := filepath.Join(t.TempDir(), "out", "seed.csv")
	require.NoError(t, tbl.WriteFile(path))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Headers, got.Headers)
	assert.Equal(t, 2, got.Len())
	assert.Equal(t, "PRJ_0002", got.Get(1, "project_id"))
}

func TestMissingColumns(t *testing.T) {
	tbl := New([]string{"a", "b"})
	assert.Empty(t, tbl.MissingColumns([]string{"a", "b"}))
	assert.Equal(t, []string{"c", "d"}, tbl.MissingColumns([]string{"a", "c", "d"}))
}

func TestDuplicateKeys(t *testing.T) {
	tbl := New([]string{"id", "month"})
	tbl.Append(map[string]string{"id": "PRJ_0001", "month": "1"})
	tbl.Append(map[string]string{"id": "PRJ_0002", "month": "1"})
	tbl.Append(map[string]string{"id": "PRJ_0001", "month": "1"})
	tbl.Append(map[string]string{"id": "PRJ_0001", "month": "2"})

	assert.Equal(t, []string{"PRJ_0001"}, tbl.DuplicateKeys([]string{"id"}))
	assert.Equal(t, []string{"PRJ_0001\x1f1"}, tbl.DuplicateKeys([]string{"id", "month"}))
	assert.Empty(t, New([]string{"id"}).DuplicateKeys([]string{"id"}))
}

func TestOutliers(t *testing.T) {
	// One value far outside the cluster.
	values := []float64{100, 102, 98, 101, 99, 100, 101, 99, 100, 1000}
	idx := Outliers(values, 2)
	assert.Equal(t, []int{9}, idx)

	// Tight data, nothing beyond 3 sigma.
	assert.Empty(t, Outliers([]float64{1, 2, 3, 4, 5}, 3))

	// Too few values to judge spread.
	assert.Empty(t, Outliers([]float64{42}, 3))
}

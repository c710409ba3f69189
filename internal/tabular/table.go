package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strings"
)

// Table is an in-memory CSV table with header-indexed access. Stages hand
// tables to each other by value; a stage that needs to change rows builds a
// new table.
type Table struct {
	Headers []string
	Rows    [][]string

	index map[string]int
}

// New creates an empty table with the given headers.
func New(headers []string) *Table {
	t := &Table{Headers: headers}
	t.reindex()
	return t
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.Headers))
	for i, h := range t.Headers {
		t.index[strings.TrimSpace(h)] = i
	}
}

// ReadFile loads a CSV file into a Table. The first record is the header.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("tabular: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("tabular: read %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("tabular: %s has no header row", path)
	}

	t := New(records[0])
	t.Rows = records[1:]
	return t, nil
}

// WriteFile writes the table as CSV, creating parent directories.
func (t *Table) WriteFile(path string) error {
	if dir := dirOf(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("tabular: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tabular: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		return fmt.Errorf("tabular: write header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return fmt.Errorf("tabular: write rows: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Bytes renders the table as CSV.
func (t *Table) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Headers); err != nil {
		return nil, fmt.Errorf("tabular: render header: %w", err)
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return nil, fmt.Errorf("tabular: render rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dirOf(path string) string {
	if i := strings.LastIndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	return ""
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.Rows) }

// HasColumn reports whether the table carries the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Get returns the trimmed cell value of the named column in the given row.
// Missing columns and short rows read as empty.
func (t *Table) Get(row int, col string) string {
	i, ok := t.index[col]
	if !ok || row < 0 || row >= len(t.Rows) || i >= len(t.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(t.Rows[row][i])
}

// Append adds a row built from a column-name → value map. Unnamed columns
// are left empty.
func (t *Table) Append(values map[string]string) {
	row := make([]string, len(t.Headers))
	for col, v := range values {
		if i, ok := t.index[col]; ok {
			row[i] = v
		}
	}
	t.Rows = append(t.Rows, row)
}

// MissingColumns returns the required columns absent from the table, in the
// order they were required.
func (t *Table) MissingColumns(required []string) []string {
	var missing []string
	for _, col := range required {
		if !t.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	return missing
}

// DuplicateKeys returns every key (the concatenation of the subset columns)
// appearing on more than one row, in first-seen order.
func (t *Table) DuplicateKeys(subset []string) []string {
	counts := make(map[string]int)
	var order []string
	for row := range t.Rows {
		key := t.rowKey(row, subset)
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}
	var dups []string
	for _, key := range order {
		if counts[key] > 1 {
			dups = append(dups, key)
		}
	}
	return dups
}

func (t *Table) rowKey(row int, subset []string) string {
	parts := make([]string, len(subset))
	for i, col := range subset {
		parts[i] = t.Get(row, col)
	}
	return strings.Join(parts, "\x1f")
}

// Outliers returns the row indexes whose value lies outside mean ± k·σ.
// Values that fail to parse are skipped. With fewer than two parsable values
// there is no spread to judge and no outliers are reported.
func Outliers(values []float64, k float64) []int {
	if len(values) < 2 {
		return nil
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	// Sample standard deviation, matching the statistics the reports quote.
	std := math.Sqrt(variance / float64(len(values)-1))

	var out []int
	for i, v := range values {
		if v < mean-k*std || v > mean+k*std {
			out = append(out, i)
		}
	}
	return out
}

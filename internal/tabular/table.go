// Package tabular reads header-keyed tables from CSV and XLSX files.
package tabular

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Record is one data row addressed by normalized column name.
type Record struct {
	// Index is the zero-based position of the row among data rows.
	Index  int
	values map[string]string
}

// Get returns the trimmed value for column, or "" when absent.
func (r Record) Get(column string) string {
	return r.values[normalizeColumn(column)]
}

// Has reports whether the row carries the column.
func (r Record) Has(column string) bool {
	_, ok := r.values[normalizeColumn(column)]
	return ok
}

// Table is a fully materialised header + rows.
type Table struct {
	Name    string
	Columns []string
	Rows    []Record
	// Digest is a SHA-256 of the source bytes, used as a dataset version.
	Digest string
}

// HasColumn reports whether the header contains column.
func (t *Table) HasColumn(column string) bool {
	want := normalizeColumn(column)
	for _, c := range t.Columns {
		if c == want {
			return true
		}
	}
	return false
}

// Require fails with a descriptive error when any column is missing.
func (t *Table) Require(columns ...string) error {
	var missing []string
	for _, c := range columns {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("tabular: %s missing columns %s", t.Name, strings.Join(missing, ", "))
	}
	return nil
}

// ReadFile loads a table, choosing the parser by file extension (.csv,
// .tsv, .xlsx).
func ReadFile(ctx context.Context, path string) (*Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx":
		digest, err := fileDigest(path)
		if err != nil {
			return nil, err
		}
		rowCh, errCh := StreamXLSX(ctx, path, XLSXOptions{})
		t, err := collect(filepath.Base(path), rowCh, errCh)
		if err != nil {
			return nil, err
		}
		t.Digest = digest
		return t, nil
	case ".csv", ".tsv", ".txt":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "tabular: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		h := sha256.New()
		opts := CSVOptions{TrimSpace: true, LazyQuotes: true}
		if ext == ".tsv" {
			opts.Delimiter = '\t'
		}
		rowCh, errCh := StreamCSV(ctx, io.TeeReader(f, h), opts)
		t, err := collect(filepath.Base(path), rowCh, errCh)
		if err != nil {
			return nil, err
		}
		t.Digest = hex.EncodeToString(h.Sum(nil))
		return t, nil
	default:
		return nil, eris.Errorf("tabular: unsupported file type %q", ext)
	}
}

// ReadCSV loads a CSV table from r.
func ReadCSV(ctx context.Context, name string, r io.Reader) (*Table, error) {
	h := sha256.New()
	rowCh, errCh := StreamCSV(ctx, io.TeeReader(r, h), CSVOptions{TrimSpace: true, LazyQuotes: true})
	t, err := collect(name, rowCh, errCh)
	if err != nil {
		return nil, err
	}
	t.Digest = hex.EncodeToString(h.Sum(nil))
	return t, nil
}

// collect treats the first row as the header and folds the rest into
// records. Blank rows are skipped.
func collect(name string, rowCh <-chan []string, errCh <-chan error) (*Table, error) {
	t := &Table{Name: name}
	first := true
	for row := range rowCh {
		if first {
			first = false
			for _, c := range row {
				t.Columns = append(t.Columns, normalizeColumn(c))
			}
			continue
		}
		if blank(row) {
			continue
		}
		rec := Record{Index: len(t.Rows), values: make(map[string]string, len(t.Columns))}
		for i, col := range t.Columns {
			if col == "" {
				continue
			}
			if i < len(row) {
				rec.values[col] = strings.TrimSpace(row[i])
			} else {
				rec.values[col] = ""
			}
		}
		t.Rows = append(t.Rows, rec)
	}
	for err := range errCh {
		if err != nil {
			return nil, eris.Wrapf(err, "tabular: read %s", name)
		}
	}
	if first {
		return nil, eris.Errorf("tabular: %s has no header row", name)
	}
	return t, nil
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// normalizeColumn lowercases a header and maps spaces/dashes to underscores
// so "Unit ID" and "unit_id" address the same column.
func normalizeColumn(c string) string {
	c = strings.TrimSpace(strings.TrimPrefix(c, "\ufeff"))
	c = strings.ToLower(c)
	return strings.NewReplacer(" ", "_", "-", "_").Replace(c)
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "tabular: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "tabular: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

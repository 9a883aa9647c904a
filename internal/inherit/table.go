// Package inherit pushes coarse-unit attributes down to the label or
// example title a title resolved to.
package inherit

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/tabular"
)

// Row is one attribute row of a unit, in dataset order.
type Row struct {
	Index  int
	Values map[string]string
}

// AttributeTable is an attribute dataset keyed by coarse unit id. Only the
// key column and the attribute columns are interpreted.
type AttributeTable struct {
	Name      string
	KeyColumn string
	Columns   []string
	rows      map[string][]Row
	n         int
}

// NewAttributeTable returns an empty table.
func NewAttributeTable(name, keyColumn string, columns ...string) *AttributeTable {
	return &AttributeTable{
		Name:      name,
		KeyColumn: keyColumn,
		Columns:   columns,
		rows:      make(map[string][]Row),
	}
}

// Add appends a row for unitID. Columns not declared on the table are ignored.
func (t *AttributeTable) Add(unitID string, values map[string]string) {
	t.addAt(unitID, t.n, values)
}

func (t *AttributeTable) addAt(unitID string, index int, values map[string]string) {
	t.n++
	row := Row{Index: index, Values: make(map[string]string, len(t.Columns))}
	for _, c := range t.Columns {
		if v, ok := values[c]; ok {
			row.Values[c] = v
		}
	}
	t.rows[unitID] = append(t.rows[unitID], row)
}

// Rows returns the rows of unitID in dataset order.
func (t *AttributeTable) Rows(unitID string) []Row {
	return t.rows[unitID]
}

// Len returns the total row count.
func (t *AttributeTable) Len() int {
	return t.n
}

// HasColumn reports whether the table carries the attribute.
func (t *AttributeTable) HasColumn(c string) bool {
	return slices.Contains(t.Columns, c)
}

// FromTable builds an attribute table from a tabular source. When columns is
// empty every column except the key is an attribute.
func FromTable(tbl *tabular.Table, keyColumn string, columns ...string) (*AttributeTable, error) {
	if err := tbl.Require(keyColumn); err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "inherit: %v", err)
	}
	if len(columns) == 0 {
		for _, c := range tbl.Columns {
			if c != keyColumn {
				columns = append(columns, c)
			}
		}
	} else if err := tbl.Require(columns...); err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "inherit: %v", err)
	}

	out := NewAttributeTable(tbl.Name, keyColumn, columns...)
	for _, r := range tbl.Rows {
		key := r.Get(keyColumn)
		if key == "" {
			continue
		}
		values := make(map[string]string, len(columns))
		for _, c := range columns {
			values[c] = r.Get(c)
		}
		out.addAt(key, r.Index, values)
	}
	return out, nil
}

// LoadTable reads an attribute file. Read failures wrap model.ErrDataUnavailable.
func LoadTable(ctx context.Context, path, name, keyColumn string, columns ...string) (*AttributeTable, error) {
	tbl, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "inherit: read %s: %v", path, err)
	}
	if name != "" {
		tbl.Name = name
	}
	return FromTable(tbl, keyColumn, columns...)
}

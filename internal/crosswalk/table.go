// Package crosswalk maps coarse units to external occupation codes and
// gathers attribute candidates from the external classification service.
package crosswalk

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"

	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/tabular"
)

// Table is the many-to-many unit to external code mapping.
type Table struct {
	codes map[string][]string
	rows  map[string]map[string]int
}

// NewTable returns an empty mapping.
func NewTable() *Table {
	return &Table{
		codes: make(map[string][]string),
		rows:  make(map[string]map[string]int),
	}
}

// Add records that unitID maps to code. Repeated pairs keep their first row.
func (t *Table) Add(unitID, code string, row int) {
	if unitID == "" || code == "" {
		return
	}
	if _, ok := t.rows[unitID]; !ok {
		t.rows[unitID] = make(map[string]int)
	}
	if _, dup := t.rows[unitID][code]; dup {
		return
	}
	t.rows[unitID][code] = row
	t.codes[unitID] = append(t.codes[unitID], code)
}

// Mapping returns the unit's external codes, de-duplicated and sorted.
func (t *Table) Mapping(unitID string) model.CrosswalkMapping {
	codes := slices.Clone(t.codes[unitID])
	slices.Sort(codes)
	return model.CrosswalkMapping{UnitID: unitID, ExternalCodes: codes}
}

// Row returns the dataset row at which unitID was mapped to code.
func (t *Table) Row(unitID, code string) int {
	return t.rows[unitID][code]
}

// Units returns how many units have at least one mapping.
func (t *Table) Units() int {
	return len(t.codes)
}

// CodeColumns are accepted names for the external code column.
var CodeColumns = []string{"external_code", "onet_code", "onet_soc_code"}

// LoadTable reads a crosswalk file with a unit_id column and an external
// code column.
func LoadTable(ctx context.Context, path string) (*Table, error) {
	tbl, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "crosswalk: read %s: %v", path, err)
	}
	if err := tbl.Require("unit_id"); err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "crosswalk: %v", err)
	}
	codeCol := ""
	for _, c := range CodeColumns {
		if tbl.HasColumn(c) {
			codeCol = c
			break
		}
	}
	if codeCol == "" {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "crosswalk: %s has no external code column", path)
	}

	t := NewTable()
	for _, r := range tbl.Rows {
		t.Add(r.Get("unit_id"), r.Get(codeCol), r.Index)
	}
	return t, nil
}

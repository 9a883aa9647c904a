package inherit

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/tabular"
)

// NativeValue is an attribute authored directly at a finer level.
type NativeValue struct {
	Value    string
	Dataset  string
	RowIndex int
}

// NativeIndex holds native values by entity and attribute.
type NativeIndex struct {
	values map[model.EntityRef]map[string]NativeValue
	order  map[model.EntityRef][]string
}

// NewNativeIndex returns an empty index.
func NewNativeIndex() *NativeIndex {
	return &NativeIndex{
		values: make(map[model.EntityRef]map[string]NativeValue),
		order:  make(map[model.EntityRef][]string),
	}
}

// Set records a native value. A later Set for the same entity and attribute
// replaces the earlier one.
func (n *NativeIndex) Set(ref model.EntityRef, attribute string, v NativeValue) {
	m, ok := n.values[ref]
	if !ok {
		m = make(map[string]NativeValue)
		n.values[ref] = m
	}
	if _, exists := m[attribute]; !exists {
		n.order[ref] = append(n.order[ref], attribute)
	}
	m[attribute] = v
}

// Get returns the native value for the entity's attribute.
func (n *NativeIndex) Get(ref model.EntityRef, attribute string) (NativeValue, bool) {
	if n == nil {
		return NativeValue{}, false
	}
	v, ok := n.values[ref][attribute]
	return v, ok
}

// Attributes lists the entity's native attributes in insertion order.
func (n *NativeIndex) Attributes(ref model.EntityRef) []string {
	if n == nil {
		return nil
	}
	return n.order[ref]
}

// NativeColumns are the columns of a native values file.
var NativeColumns = []string{"level", "entity_id", "attribute", "value"}

// LoadNatives reads a native values file with one row per
// (level, entity_id, attribute, value).
func LoadNatives(ctx context.Context, path string) (*NativeIndex, error) {
	tbl, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "inherit: read natives %s: %v", path, err)
	}
	if err := tbl.Require(NativeColumns...); err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "inherit: %v", err)
	}

	idx := NewNativeIndex()
	for _, r := range tbl.Rows {
		level, err := model.ParseLevel(r.Get("level"))
		if err != nil {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "inherit: natives row %d: %v", r.Index, err)
		}
		id, attr := r.Get("entity_id"), r.Get("attribute")
		if id == "" || attr == "" {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "inherit: natives row %d: empty entity or attribute", r.Index)
		}
		idx.Set(model.EntityRef{Level: level, ID: id}, attr, NativeValue{
			Value:    r.Get("value"),
			Dataset:  tbl.Name,
			RowIndex: r.Index,
		})
	}
	return idx, nil
}

// Package taxonomy provides read-only access to coarse units, their labels
// and their example titles.
package taxonomy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/dubedad/jobforge/internal/model"
)

// Store is read-only access to the three taxonomy datasets.
type Store interface {
	// Version identifies the loaded dataset contents. It changes whenever
	// the underlying data changes.
	Version() string
	Unit(ctx context.Context, unitID string) (model.CoarseUnit, error)
	Units(ctx context.Context) ([]model.CoarseUnit, error)
	Labels(ctx context.Context, unitID string) ([]model.Label, error)
	Examples(ctx context.Context, unitID string) ([]model.ExampleTitle, error)
}

// MemoryStore holds a validated snapshot of the taxonomy. Safe for
// concurrent readers; never mutated after construction.
type MemoryStore struct {
	version  string
	units    []model.CoarseUnit
	byID     map[string]int
	labels   map[string][]model.Label
	examples map[string][]model.ExampleTitle
}

// Snapshot is the raw content of the three datasets in row order.
type Snapshot struct {
	Units    []model.CoarseUnit
	Labels   []model.Label
	Examples []model.ExampleTitle
}

// NewMemoryStore validates a snapshot and indexes it. Duplicate ids, empty
// ids and orphaned labels/examples are data errors wrapping
// model.ErrDataUnavailable. When version is empty a content digest is used.
func NewMemoryStore(version string, snap Snapshot) (*MemoryStore, error) {
	s := &MemoryStore{
		units:    make([]model.CoarseUnit, 0, len(snap.Units)),
		byID:     make(map[string]int, len(snap.Units)),
		labels:   make(map[string][]model.Label),
		examples: make(map[string][]model.ExampleTitle),
	}

	for i, u := range snap.Units {
		if u.ID == "" {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: unit row %d has empty id", i)
		}
		if _, dup := s.byID[u.ID]; dup {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: duplicate unit id %q", u.ID)
		}
		s.byID[u.ID] = len(s.units)
		s.units = append(s.units, u)
	}

	seenLabels := make(map[string]bool, len(snap.Labels))
	for i, l := range snap.Labels {
		if l.ID == "" {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: label row %d has empty id", i)
		}
		if seenLabels[l.ID] {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: duplicate label id %q", l.ID)
		}
		seenLabels[l.ID] = true
		if _, ok := s.byID[l.UnitID]; !ok {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: label %q references unknown unit %q", l.ID, l.UnitID)
		}
		s.labels[l.UnitID] = append(s.labels[l.UnitID], l)
	}

	seenExamples := make(map[string]bool, len(snap.Examples))
	for i, e := range snap.Examples {
		if e.ID == "" {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: example row %d has empty id", i)
		}
		if seenExamples[e.ID] {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: duplicate example id %q", e.ID)
		}
		seenExamples[e.ID] = true
		if _, ok := s.byID[e.UnitID]; !ok {
			return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: example %q references unknown unit %q", e.ID, e.UnitID)
		}
		s.examples[e.UnitID] = append(s.examples[e.UnitID], e)
	}

	if version == "" {
		version = snapshotDigest(snap)
	}
	s.version = version
	return s, nil
}

func (s *MemoryStore) Version() string { return s.version }

func (s *MemoryStore) Unit(_ context.Context, unitID string) (model.CoarseUnit, error) {
	i, ok := s.byID[unitID]
	if !ok {
		return model.CoarseUnit{}, eris.Wrapf(model.ErrNotFound, "taxonomy: unit %q", unitID)
	}
	return s.units[i], nil
}

func (s *MemoryStore) Units(_ context.Context) ([]model.CoarseUnit, error) {
	out := make([]model.CoarseUnit, len(s.units))
	copy(out, s.units)
	return out, nil
}

func (s *MemoryStore) Labels(_ context.Context, unitID string) ([]model.Label, error) {
	if _, ok := s.byID[unitID]; !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "taxonomy: unit %q", unitID)
	}
	src := s.labels[unitID]
	out := make([]model.Label, len(src))
	copy(out, src)
	return out, nil
}

func (s *MemoryStore) Examples(_ context.Context, unitID string) ([]model.ExampleTitle, error) {
	if _, ok := s.byID[unitID]; !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "taxonomy: unit %q", unitID)
	}
	src := s.examples[unitID]
	out := make([]model.ExampleTitle, len(src))
	copy(out, src)
	return out, nil
}

// Stats summarises the loaded dataset.
type Stats struct {
	Version          string `json:"version"`
	Units            int    `json:"units"`
	Labels           int    `json:"labels"`
	Examples         int    `json:"examples"`
	SingleLabelUnits int    `json:"single_label_units"`
	UnlabeledUnits   int    `json:"unlabeled_units"`
}

// Stats counts rows and label cardinalities.
func (s *MemoryStore) Stats() Stats {
	st := Stats{Version: s.version, Units: len(s.units)}
	for _, u := range s.units {
		n := len(s.labels[u.ID])
		st.Labels += n
		st.Examples += len(s.examples[u.ID])
		switch n {
		case 0:
			st.UnlabeledUnits++
		case 1:
			st.SingleLabelUnits++
		}
	}
	return st
}

// snapshotDigest hashes the snapshot content in a stable order.
func snapshotDigest(snap Snapshot) string {
	h := sha256.New()
	write := func(parts ...string) {
		for _, p := range parts {
			h.Write([]byte(p))
			h.Write([]byte{0})
		}
		h.Write([]byte{'\n'})
	}
	units := append([]model.CoarseUnit(nil), snap.Units...)
	sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
	for _, u := range units {
		write("u", u.ID, u.Code, u.Title, u.Definition, u.Family)
	}
	for _, l := range snap.Labels {
		write("l", l.ID, l.UnitID, l.Text)
	}
	for _, e := range snap.Examples {
		write("e", e.ID, e.UnitID, e.Text)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

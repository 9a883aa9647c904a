// Package merge selects one value per attribute from the candidates the
// tiers produced.
package merge

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/dubedad/jobforge/internal/metrics"
	"github.com/dubedad/jobforge/internal/model"
)

// Merger applies tier precedence. The zero value discards losing candidates.
type Merger struct {
	// RetainLosers keeps the provenance of losing candidates on the merged
	// value for audit.
	RetainLosers bool
}

// New creates a Merger.
func New(retainLosers bool) *Merger {
	return &Merger{RetainLosers: retainLosers}
}

// Merge picks the winning candidate for one attribute. The highest-ranked
// tier present wins outright; confidence is never compared across tiers.
// Within that tier the order is external code, then dataset row, then input
// order.
func (m *Merger) Merge(candidates []model.AttributeCandidate) (model.AttributeValue, error) {
	if len(candidates) == 0 {
		return model.AttributeValue{}, eris.New("merge: no candidates")
	}
	attr := candidates[0].Attribute
	for _, c := range candidates[1:] {
		if c.Attribute != attr {
			return model.AttributeValue{}, eris.Errorf("merge: mixed attributes %q and %q", attr, c.Attribute)
		}
	}
	for _, c := range candidates {
		if !c.Tier.Valid() {
			return model.AttributeValue{}, eris.Errorf("merge: candidate for %q has invalid tier %d", attr, int(c.Tier))
		}
	}

	ordered := Order(candidates)
	winner := ordered[0]
	out := winner.AsValue()
	if m != nil && m.RetainLosers && len(ordered) > 1 {
		out.Superseded = make([]model.Provenance, 0, len(ordered)-1)
		for _, c := range ordered[1:] {
			out.Superseded = append(out.Superseded, c.Provenance())
		}
	}
	metrics.RecordWinningTier(winner.Tier.String())
	return out, nil
}

// MergeAll groups candidates by attribute and merges each group. Values are
// returned sorted by attribute name.
func (m *Merger) MergeAll(candidates []model.AttributeCandidate) ([]model.AttributeValue, error) {
	groups := make(map[string][]model.AttributeCandidate)
	for _, c := range candidates {
		groups[c.Attribute] = append(groups[c.Attribute], c)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]model.AttributeValue, 0, len(names))
	for _, name := range names {
		v, err := m.Merge(groups[name])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Order returns a copy of candidates in precedence order.
func Order(candidates []model.AttributeCandidate) []model.AttributeCandidate {
	out := make([]model.AttributeCandidate, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := a.Tier.Rank(), b.Tier.Rank(); ra != rb {
			return ra > rb
		}
		if ca, cb := codeOf(a), codeOf(b); ca != cb {
			return ca < cb
		}
		return rowOf(a) < rowOf(b)
	})
	return out
}

func codeOf(c model.AttributeCandidate) string {
	if c.Crosswalk != nil {
		return c.Crosswalk.ExternalCode
	}
	return ""
}

func rowOf(c model.AttributeCandidate) int {
	switch {
	case c.Crosswalk != nil:
		return c.Crosswalk.RowIndex
	case c.Inheritance != nil:
		return c.Inheritance.RowIndex
	}
	return 0
}

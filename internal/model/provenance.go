package model

import "sort"

// ProvenanceRecord is the flattened lineage row for one stored value, as
// handed to catalog/lineage consumers.
type ProvenanceRecord struct {
	RunID            string     `json:"run_id"`
	EntityID         string     `json:"entity_id"`
	Target           EntityRef  `json:"target"`
	Attribute        string     `json:"attribute"`
	Value            string     `json:"value"`
	Tier             SourceTier `json:"tier"`
	Confidence       float64    `json:"confidence"`
	SourceIdentifier string     `json:"source_identifier"`
	Rationale        string     `json:"rationale,omitempty"`
	ResolutionMethod Method     `json:"resolution_method"`
	SupersededCount  int        `json:"superseded_count"`
}

// BuildProvenance flattens an entity result into lineage records, ordered by
// attribute name.
func BuildProvenance(runID string, r EntityResult) []ProvenanceRecord {
	if len(r.Attributes) == 0 {
		return nil
	}
	var method Method
	if r.Resolution != nil {
		method = r.Resolution.Method
	}
	out := make([]ProvenanceRecord, 0, len(r.Attributes))
	for _, v := range r.Attributes {
		out = append(out, ProvenanceRecord{
			RunID:            runID,
			EntityID:         r.Input.ID,
			Target:           v.Entity,
			Attribute:        v.Attribute,
			Value:            v.Value,
			Tier:             v.Provenance.Tier,
			Confidence:       v.Provenance.Confidence,
			SourceIdentifier: v.Provenance.SourceIdentifier,
			Rationale:        v.Provenance.Rationale,
			ResolutionMethod: method,
			SupersededCount:  len(v.Superseded),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Attribute < out[j].Attribute })
	return out
}

// CountByTier returns how many records each tier won.
func CountByTier(records []ProvenanceRecord) map[SourceTier]int {
	counts := make(map[SourceTier]int)
	for _, r := range records {
		counts[r.Tier]++
	}
	return counts
}

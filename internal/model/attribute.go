package model

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// SourceTier identifies which tier produced a candidate value. The set is
// closed; precedence is Native > Authoritative > ExternalCrosswalk > Generative.
type SourceTier int

const (
	TierGenerative SourceTier = iota + 1
	TierExternalCrosswalk
	TierAuthoritative
	// TierNative marks a value authored directly at the finer level. It is
	// never produced by inheritance and always outranks inherited values.
	TierNative
)

func (t SourceTier) String() string {
	switch t {
	case TierNative:
		return "native"
	case TierAuthoritative:
		return "authoritative"
	case TierExternalCrosswalk:
		return "external_crosswalk"
	case TierGenerative:
		return "generative"
	default:
		return fmt.Sprintf("tier_%d", int(t))
	}
}

// Rank returns the precedence rank of the tier; higher wins.
func (t SourceTier) Rank() int {
	switch t {
	case TierNative:
		return 4
	case TierAuthoritative:
		return 3
	case TierExternalCrosswalk:
		return 2
	case TierGenerative:
		return 1
	default:
		return 0
	}
}

// Valid reports whether t is one of the defined tiers.
func (t SourceTier) Valid() bool {
	return t.Rank() > 0
}

// MarshalText encodes the tier by name.
func (t SourceTier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, eris.Errorf("model: invalid source tier %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *SourceTier) UnmarshalText(b []byte) error {
	parsed, err := ParseSourceTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseSourceTier returns the tier with the given name.
func ParseSourceTier(s string) (SourceTier, error) {
	for _, t := range []SourceTier{TierNative, TierAuthoritative, TierExternalCrosswalk, TierGenerative} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, eris.Errorf("model: unknown source tier %q", s)
}

// InheritanceDetail is the payload of Authoritative and Native candidates.
type InheritanceDetail struct {
	SourceLevel Level  `json:"source_level"`
	Dataset     string `json:"dataset"`
	RowIndex    int    `json:"row_index"`
}

// CrosswalkDetail is the payload of ExternalCrosswalk candidates.
type CrosswalkDetail struct {
	ExternalCode string `json:"external_code"`
	Category     string `json:"category"`
	RowIndex     int    `json:"row_index"`
}

// GenerativeDetail is the payload of Generative candidates.
type GenerativeDetail struct {
	ModelID string `json:"model_id"`
}

// AttributeCandidate is one proposed value for one attribute of one entity.
// Exactly one payload pointer is set, matching Tier.
type AttributeCandidate struct {
	Entity           EntityRef  `json:"entity"`
	Attribute        string     `json:"attribute"`
	Value            string     `json:"value"`
	Tier             SourceTier `json:"tier"`
	Confidence       float64    `json:"confidence"`
	SourceIdentifier string     `json:"source_identifier"`
	Rationale        string     `json:"rationale,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`

	Inheritance *InheritanceDetail `json:"inheritance,omitempty"`
	Crosswalk   *CrosswalkDetail   `json:"crosswalk,omitempty"`
	Generative  *GenerativeDetail  `json:"generative,omitempty"`
}

// Provenance records how a stored value was produced.
type Provenance struct {
	Tier             SourceTier `json:"tier"`
	Confidence       float64    `json:"confidence"`
	SourceIdentifier string     `json:"source_identifier"`
	Rationale        string     `json:"rationale,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`

	Inheritance *InheritanceDetail `json:"inheritance,omitempty"`
	Crosswalk   *CrosswalkDetail   `json:"crosswalk,omitempty"`
	Generative  *GenerativeDetail  `json:"generative,omitempty"`
}

// Provenance returns the provenance block carried by the candidate.
func (c AttributeCandidate) Provenance() Provenance {
	return Provenance{
		Tier:             c.Tier,
		Confidence:       c.Confidence,
		SourceIdentifier: c.SourceIdentifier,
		Rationale:        c.Rationale,
		Timestamp:        c.Timestamp,
		Inheritance:      c.Inheritance,
		Crosswalk:        c.Crosswalk,
		Generative:       c.Generative,
	}
}

// AsValue wraps the candidate as a stored value with its own provenance.
func (c AttributeCandidate) AsValue() AttributeValue {
	return AttributeValue{
		Entity:     c.Entity,
		Attribute:  c.Attribute,
		Value:      c.Value,
		Provenance: c.Provenance(),
	}
}

// AttributeValue is the merged value stored or returned for one attribute.
// A value without provenance is not a valid state.
type AttributeValue struct {
	Entity     EntityRef  `json:"entity"`
	Attribute  string     `json:"attribute"`
	Value      string     `json:"value"`
	Provenance Provenance `json:"provenance"`
	// Superseded holds losing candidates when audit retention is enabled.
	Superseded []Provenance `json:"superseded,omitempty"`
}

// Validate checks the provenance invariant.
func (v AttributeValue) Validate() error {
	if v.Attribute == "" {
		return eris.Errorf("model: attribute value has no attribute name")
	}
	if !v.Provenance.Tier.Valid() {
		return eris.Errorf("model: attribute %q has no provenance tier", v.Attribute)
	}
	if v.Provenance.SourceIdentifier == "" {
		return eris.Errorf("model: attribute %q has no source identifier", v.Attribute)
	}
	if v.Provenance.Timestamp.IsZero() {
		return eris.Errorf("model: attribute %q has no provenance timestamp", v.Attribute)
	}
	return nil
}

package model

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
)

// Level is a position in the occupational hierarchy. Coarse units sit at
// level 5; labels and example titles are the finer levels beneath them.
type Level int

const (
	LevelUnit         Level = 5
	LevelLabel        Level = 6
	LevelExampleTitle Level = 7
)

func (l Level) String() string {
	switch l {
	case LevelUnit:
		return "unit"
	case LevelLabel:
		return "label"
	case LevelExampleTitle:
		return "example_title"
	default:
		return fmt.Sprintf("level_%d", int(l))
	}
}

// ParseLevel accepts a level name ("unit", "label", "example_title") or
// its number.
func ParseLevel(s string) (Level, error) {
	for _, l := range []Level{LevelUnit, LevelLabel, LevelExampleTitle} {
		if s == l.String() || s == strconv.Itoa(int(l)) {
			return l, nil
		}
	}
	return 0, eris.Errorf("model: unknown level %q", s)
}

// Method identifies which step of the resolution cascade produced a result.
type Method string

const (
	MethodDirectMatch     Method = "DIRECT_MATCH"
	MethodExampleMatch    Method = "EXAMPLE_MATCH"
	MethodUGDominant      Method = "UG_DOMINANT"
	MethodLabelImputation Method = "LABEL_IMPUTATION"
	MethodUGImputation    Method = "UG_IMPUTATION"
)

// Fixed confidence per method, ordered by specificity of evidence.
const (
	ConfidenceDirectMatch     = 1.00
	ConfidenceExampleMatch    = 0.95
	ConfidenceUGDominant      = 0.85
	ConfidenceLabelImputation = 0.60
	ConfidenceUGImputation    = 0.40
)

// Methods lists every method from most to least specific.
var Methods = []Method{
	MethodDirectMatch,
	MethodExampleMatch,
	MethodUGDominant,
	MethodLabelImputation,
	MethodUGImputation,
}

// Confidence returns the fixed confidence for the method. Unknown methods
// return 0.
func (m Method) Confidence() float64 {
	switch m {
	case MethodDirectMatch:
		return ConfidenceDirectMatch
	case MethodExampleMatch:
		return ConfidenceExampleMatch
	case MethodUGDominant:
		return ConfidenceUGDominant
	case MethodLabelImputation:
		return ConfidenceLabelImputation
	case MethodUGImputation:
		return ConfidenceUGImputation
	default:
		return 0
	}
}

// Level returns the taxonomy level a method resolves to.
func (m Method) Level() Level {
	switch m {
	case MethodDirectMatch, MethodLabelImputation:
		return LevelLabel
	case MethodExampleMatch:
		return LevelExampleTitle
	default:
		return LevelUnit
	}
}

// ResolutionResult is the immutable outcome of resolving one title against
// one unit.
type ResolutionResult struct {
	Title            string  `json:"title"`
	UnitID           string  `json:"unit_id"`
	Level            Level   `json:"level"`
	Method           Method  `json:"method"`
	Confidence       float64 `json:"confidence"`
	SourceIdentifier string  `json:"source_identifier"`
	Rationale        string  `json:"rationale"`
	// Similarity is the fuzzy score (0-100) for LABEL_IMPUTATION results.
	Similarity float64 `json:"similarity,omitempty"`
}

// NewResolutionResult builds a result whose level and confidence are derived
// from the method.
func NewResolutionResult(title, unitID string, method Method, sourceID, rationale string) ResolutionResult {
	return ResolutionResult{
		Title:            title,
		UnitID:           unitID,
		Level:            method.Level(),
		Method:           method,
		Confidence:       method.Confidence(),
		SourceIdentifier: sourceID,
		Rationale:        rationale,
	}
}

// Target returns the entity the resolution points at: the matched label or
// example for finer-level results, the unit itself otherwise.
func (r ResolutionResult) Target() EntityRef {
	if r.Level == LevelUnit {
		return EntityRef{Level: LevelUnit, ID: r.UnitID}
	}
	return EntityRef{Level: r.Level, ID: r.SourceIdentifier}
}

// EntityRef addresses one node of the hierarchy.
type EntityRef struct {
	Level Level  `json:"level"`
	ID    string `json:"id"`
}

func (e EntityRef) String() string {
	return fmt.Sprintf("%s:%s", e.Level, e.ID)
}

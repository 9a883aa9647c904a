package model

import "time"

// EntityStatus is the outcome of processing one entity in a batch.
type EntityStatus string

const (
	// StatusResolved means every requested attribute was filled.
	StatusResolved EntityStatus = "resolved"
	// StatusPartial means the title resolved but some attributes are
	// unfilled or an external tier was unavailable.
	StatusPartial EntityStatus = "partial"
	// StatusFailed means the entity could not be resolved at all.
	StatusFailed EntityStatus = "failed"
	// StatusIncomplete means processing was cancelled before finishing.
	StatusIncomplete EntityStatus = "incomplete"
)

// EntityInput is one job title to resolve and enrich.
type EntityInput struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	UnitID string `json:"unit_id"`
	Family string `json:"family,omitempty"`
}

// UnfilledAttribute records an attribute no tier could supply.
type UnfilledAttribute struct {
	Attribute string `json:"attribute"`
	Reason    string `json:"reason"`
}

// TierFailure records an external tier that was unavailable for an entity.
type TierFailure struct {
	Tier  SourceTier `json:"tier"`
	Error string     `json:"error"`
}

// EntityResult is the full outcome for one entity.
type EntityResult struct {
	Input       EntityInput         `json:"input"`
	Status      EntityStatus        `json:"status"`
	Resolution  *ResolutionResult   `json:"resolution,omitempty"`
	Attributes  []AttributeValue    `json:"attributes,omitempty"`
	Inherited   []AttributeValue    `json:"inherited,omitempty"`
	Unfilled    []UnfilledAttribute `json:"unfilled,omitempty"`
	TierErrors  []TierFailure       `json:"tier_errors,omitempty"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
}

// BatchSummary tallies entity statuses for a batch.
type BatchSummary struct {
	Total      int `json:"total"`
	Resolved   int `json:"resolved"`
	Partial    int `json:"partial"`
	Failed     int `json:"failed"`
	Incomplete int `json:"incomplete"`
}

// Summarize counts results by status.
func Summarize(results []EntityResult) BatchSummary {
	s := BatchSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusResolved:
			s.Resolved++
		case StatusPartial:
			s.Partial++
		case StatusFailed:
			s.Failed++
		case StatusIncomplete:
			s.Incomplete++
		}
	}
	return s
}

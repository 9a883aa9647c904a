package model

// CoarseUnit is one node of the coarsest taxonomy level (a unit group).
type CoarseUnit struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Title      string `json:"title"`
	Definition string `json:"definition"`
	// Family is the broader family/function grouping the unit belongs to.
	// Optional in source data.
	Family string `json:"family,omitempty"`
}

// Label is a descriptive sub-classification owned by exactly one unit.
type Label struct {
	ID     string `json:"id"`
	UnitID string `json:"unit_id"`
	Text   string `json:"text"`
}

// ExampleTitle is a known real-world title owned by exactly one unit.
type ExampleTitle struct {
	ID     string `json:"id"`
	UnitID string `json:"unit_id"`
	Text   string `json:"text"`
}

// CrosswalkMapping links an internal unit to zero or more external
// classification codes.
type CrosswalkMapping struct {
	UnitID        string   `json:"unit_id"`
	ExternalCodes []string `json:"external_codes"`
}

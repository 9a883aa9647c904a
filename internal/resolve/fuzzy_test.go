package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  Registered   Nurse ", "registered nurse"},
		{"SENIOR DATA ANALYST.", "senior data analyst"},
		{"(Software engineer)", "software engineer"},
		{"C++ developer", "c++ developer"},
		{"Ｗｅｂ Developer", "web developer"},
		{"...", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTitle(tt.in))
		})
	}
}

func TestWeightedRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Software engineer", "software engineer", 100},
		{"typos", "Sofware Enginer", "Software engineer", 88.2},
		{"token order", "Engineer Software", "Software Engineer", 95},
		{"substring of longer title", "Senior Java developer at Acme Corporation", "Java developer", 90},
		{"empty left", "", "Software engineer", 0},
		{"empty right", "Software engineer", "", 0},
		{"both empty", "", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, WeightedRatio(tt.a, tt.b), 0.05)
		})
	}
}

func TestWeightedRatio_UnrelatedBelowThreshold(t *testing.T) {
	assert.Less(t, WeightedRatio("Registered Nurse", "Software engineer"), DefaultThreshold)
	assert.Less(t, WeightedRatio("Zookeeper", "Nurse Practitioner"), DefaultThreshold)
}

func TestWeightedRatio_Symmetric(t *testing.T) {
	pairs := [][2]string{
		{"Sofware Enginer", "Software engineer"},
		{"Data analyst", "Senior data analyst II"},
		{"Nurse", "Registered Nurse"},
	}
	for _, p := range pairs {
		assert.Equal(t, WeightedRatio(p[0], p[1]), WeightedRatio(p[1], p[0]))
	}
}

func TestTokenSetRatio_ExtraWords(t *testing.T) {
	// Shared tokens dominate when one side only adds words.
	assert.InDelta(t, 100, tokenSetRatio("data analyst", "senior data analyst"), 0.001)
}

package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceTier_Precedence(t *testing.T) {
	t.Parallel()

	assert.Greater(t, TierNative.Rank(), TierAuthoritative.Rank())
	assert.Greater(t, TierAuthoritative.Rank(), TierExternalCrosswalk.Rank())
	assert.Greater(t, TierExternalCrosswalk.Rank(), TierGenerative.Rank())
	assert.False(t, SourceTier(0).Valid())
	assert.False(t, SourceTier(9).Valid())
}

func TestSourceTier_TextEncoding(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(map[string]SourceTier{"tier": TierExternalCrosswalk})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tier":"external_crosswalk"}`, string(b))

	var decoded struct {
		Tier SourceTier `json:"tier"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"tier":"generative"}`), &decoded))
	assert.Equal(t, TierGenerative, decoded.Tier)

	_, err = ParseSourceTier("guess")
	assert.Error(t, err)
}

func TestAttributeValue_Validate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	v := AttributeValue{
		Attribute: "skills",
		Value:     "Programming",
		Provenance: Provenance{
			Tier:             TierAuthoritative,
			Confidence:       0.4,
			SourceIdentifier: "21231",
			Timestamp:        now,
		},
	}
	assert.NoError(t, v.Validate())

	missingTier := v
	missingTier.Provenance.Tier = 0
	assert.Error(t, missingTier.Validate())

	missingSource := v
	missingSource.Provenance.SourceIdentifier = ""
	assert.Error(t, missingSource.Validate())

	missingTime := v
	missingTime.Provenance.Timestamp = time.Time{}
	assert.Error(t, missingTime.Validate())
}

func TestAttributeCandidate_Provenance(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	c := AttributeCandidate{
		Attribute:        "knowledge",
		Value:            "Computers and Electronics",
		Tier:             TierExternalCrosswalk,
		Confidence:       0.5,
		SourceIdentifier: "15-1252.00",
		Timestamp:        now,
		Crosswalk:        &CrosswalkDetail{ExternalCode: "15-1252.00", Category: "knowledge"},
	}
	p := c.Provenance()
	assert.Equal(t, TierExternalCrosswalk, p.Tier)
	assert.Equal(t, "15-1252.00", p.Crosswalk.ExternalCode)
	assert.Nil(t, p.Generative)
	assert.Equal(t, now, p.Timestamp)
}

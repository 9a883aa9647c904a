package impute

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/resilience"
	"github.com/dubedad/jobforge/pkg/anthropic"
	"github.com/dubedad/jobforge/pkg/anthropic/mocks"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var fixedNow = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func newService(c anthropic.Client) *Service {
	return New(c,
		WithPolicy(resilience.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
		WithNow(func() time.Time { return fixedNow }),
		WithModel("test-model"),
	)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Model:   "test-model-2026",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

func baseRequest(attrs ...string) Request {
	return Request{
		Target:     model.EntityRef{Level: model.LevelUnit, ID: "u-21232"},
		Title:      "Quantum Ethicist",
		Unit:       model.CoarseUnit{ID: "u-21232", Code: "21232", Title: "Software developers"},
		Attributes: attrs,
	}
}

func TestImpute_LowConfidenceAccepted(t *testing.T) {
	c := mocks.NewMockClient(t)
	c.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"work_context":{"value":"Office based","confidence":0.10,"rationale":"guess"}}`), nil)

	cands, unfilled, err := newService(c).Impute(context.Background(), baseRequest("work_context"))
	require.NoError(t, err)
	assert.Empty(t, unfilled)
	require.Len(t, cands, 1)

	got := cands[0]
	assert.Equal(t, "work_context", got.Attribute)
	assert.Equal(t, "Office based", got.Value)
	assert.Equal(t, model.TierGenerative, got.Tier)
	assert.InDelta(t, 0.10, got.Confidence, 1e-9)
	assert.Equal(t, "guess", got.Rationale)
	assert.Equal(t, "test-model-2026", got.SourceIdentifier)
	require.NotNil(t, got.Generative)
	assert.Equal(t, "test-model-2026", got.Generative.ModelID)
	assert.Equal(t, fixedNow, got.Timestamp)
	assert.Equal(t, "u-21232", got.Entity.ID)
}

func TestImpute_MissingAttributeUnfilled(t *testing.T) {
	c := mocks.NewMockClient(t)
	c.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("```json\n{\"skills\":{\"value\":[\"Ethics\",\"Physics\"],\"confidence\":\"0.7\"}}\n```"), nil)

	cands, unfilled, err := newService(c).Impute(context.Background(), baseRequest("skills", "tasks"))
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "Ethics; Physics", cands[0].Value)
	assert.InDelta(t, 0.7, cands[0].Confidence, 1e-9)
	require.Len(t, unfilled, 1)
	assert.Equal(t, "tasks", unfilled[0].Attribute)
}

func TestImpute_ConfidenceClamped(t *testing.T) {
	c := mocks.NewMockClient(t)
	c.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"a":{"value":"x","confidence":4},"b":{"value":"y","confidence":-1}}`), nil)

	cands, _, err := newService(c).Impute(context.Background(), baseRequest("a", "b"))
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, 1.0, cands[0].Confidence)
	assert.Equal(t, 0.0, cands[1].Confidence)
}

func TestImpute_MalformedResponse(t *testing.T) {
	c := mocks.NewMockClient(t)
	c.On("CreateMessage", mock.Anything, mock.Anything).Return(textResponse("I cannot help with that."), nil)

	cands, unfilled, err := newService(c).Impute(context.Background(), baseRequest("skills"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrExternalUnavailable))
	assert.Empty(t, cands)
	assert.Len(t, unfilled, 1)
}

func TestImpute_CallFailure(t *testing.T) {
	c := mocks.NewMockClient(t)
	c.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529)).Twice()

	cands, unfilled, err := newService(c).Impute(context.Background(), baseRequest("skills", "tasks"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrExternalUnavailable))
	assert.Empty(t, cands)
	assert.Len(t, unfilled, 2)
}

func TestImpute_NothingRequested(t *testing.T) {
	c := mocks.NewMockClient(t)
	cands, unfilled, err := newService(c).Impute(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Nil(t, cands)
	assert.Nil(t, unfilled)
}

func TestImpute_RequestShape(t *testing.T) {
	c := mocks.NewMockClient(t)
	c.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == "test-model" &&
			len(r.System) == 1 && r.System[0].Cached &&
			len(r.Messages) == 1 && r.Messages[0].Role == "user"
	})).Return(textResponse(`{}`), nil)

	_, unfilled, err := newService(c).Impute(context.Background(), baseRequest("skills"))
	require.NoError(t, err)
	assert.Len(t, unfilled, 1)
}

func TestBuildPrompt(t *testing.T) {
	req := baseRequest("skills", "tasks")
	req.Known = map[string]string{"b_attr": "2", "a_attr": "1", "c_attr": "3"}
	req.Descriptions = map[string]string{"skills": "core skills"}

	p := buildPrompt(req, 2)
	assert.Contains(t, p, "Job title: Quantum Ethicist")
	assert.Contains(t, p, "Occupational family: (none)")
	assert.Contains(t, p, "Unit group: 21232 Software developers")
	assert.Contains(t, p, "- a_attr: 1")
	assert.Contains(t, p, "- b_attr: 2")
	assert.NotContains(t, p, "c_attr")
	assert.Contains(t, p, "- skills (core skills)")
	assert.Contains(t, p, "- tasks\n")
}

func TestCleanJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"Here you go: {\"a\":{\"b\":2}} thanks", `{"a":{"b":2}}`},
		{"no json", "no json"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cleanJSON(tt.in))
	}
}

func TestImpute_SuccessLogsNothing(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	c := mocks.NewMockClient(t)
	c.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"skills":{"value":"Triage","confidence":0.7}}`), nil)

	_, _, err := newService(c).Impute(context.Background(), baseRequest("skills"))
	require.NoError(t, err)
	// Usage and cost are logged once by the client.
	assert.Zero(t, logs.Len())
}

// Package impute fills attributes no data-backed tier could supply by asking
// a generative model.
package impute

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/metrics"
	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/resilience"
	"github.com/dubedad/jobforge/pkg/anthropic"
)

const service = "anthropic"

// Request is the grounding context for one entity.
type Request struct {
	Target model.EntityRef
	Title  string
	Family string
	Unit   model.CoarseUnit
	// Known holds attribute values already filled by earlier tiers.
	Known map[string]string
	// Attributes are the names still missing.
	Attributes []string
	// Descriptions optionally explain requested attributes to the model.
	Descriptions map[string]string
}

// Service calls the generative model and turns its answer into candidates.
type Service struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	maxKnown  int
	policy    resilience.Policy
	breaker   *resilience.Breaker
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithModel sets the model id.
func WithModel(m string) Option {
	return func(s *Service) {
		if m != "" {
			s.model = m
		}
	}
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithMaxKnown caps the known attributes included in the prompt.
func WithMaxKnown(n int) Option {
	return func(s *Service) { s.maxKnown = n }
}

// WithPolicy sets the retry policy.
func WithPolicy(p resilience.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(s *Service) { s.breaker = b }
}

// WithNow sets the clock used for invocation timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service.
func New(client anthropic.Client, opts ...Option) *Service {
	s := &Service{
		client:    client,
		model:     anthropic.DefaultModel,
		maxTokens: 2048,
		maxKnown:  20,
		policy:    resilience.DefaultPolicy(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// answer is one attribute entry of the model's JSON response.
type answer struct {
	Value      json.RawMessage `json:"value"`
	Confidence json.RawMessage `json:"confidence"`
	Rationale  string          `json:"rationale"`
}

// Impute asks the model for every attribute in req.Attributes. Each answered
// attribute yields exactly one Generative candidate, whatever its
// confidence. Attributes the model leaves out are reported unfilled. A
// failed call returns an error wrapping model.ErrExternalUnavailable and
// reports every attribute unfilled.
func (s *Service) Impute(ctx context.Context, req Request) ([]model.AttributeCandidate, []model.UnfilledAttribute, error) {
	if len(req.Attributes) == 0 {
		return nil, nil, nil
	}

	msgReq := anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    []anthropic.SystemBlock{{Text: systemPrompt, Cached: true}},
		Messages:  []anthropic.Message{{Role: "user", Content: buildPrompt(req, s.maxKnown)}},
	}

	started := time.Now()
	resp, err := resilience.Call(ctx, service, s.policy, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return s.client.CreateMessage(ctx, msgReq)
	})
	metrics.RecordExternalCall(service, started, err)
	if err != nil {
		return nil, unfilledAll(req.Attributes, "generative call failed"), err
	}

	var parsed map[string]answer
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &parsed); err != nil {
		zap.L().Warn("impute: malformed response",
			zap.String("entity", req.Target.String()),
			zap.Error(err),
		)
		return nil, unfilledAll(req.Attributes, "malformed generative response"),
			eris.Wrapf(model.ErrExternalUnavailable, "impute: parse response: %v", err)
	}

	modelID := resp.Model
	if modelID == "" {
		modelID = s.model
	}
	ts := s.now()

	var (
		out      []model.AttributeCandidate
		unfilled []model.UnfilledAttribute
	)
	for _, attr := range req.Attributes {
		a, ok := parsed[attr]
		value := rawString(a.Value)
		if !ok || value == "" {
			unfilled = append(unfilled, model.UnfilledAttribute{Attribute: attr, Reason: "absent from generative response"})
			continue
		}
		out = append(out, model.AttributeCandidate{
			Entity:           req.Target,
			Attribute:        attr,
			Value:            value,
			Tier:             model.TierGenerative,
			Confidence:       clamp01(rawFloat(a.Confidence)),
			SourceIdentifier: modelID,
			Rationale:        a.Rationale,
			Timestamp:        ts,
			Generative:       &model.GenerativeDetail{ModelID: modelID},
		})
	}
	return out, unfilled, nil
}

func unfilledAll(attrs []string, reason string) []model.UnfilledAttribute {
	out := make([]model.UnfilledAttribute, len(attrs))
	for i, a := range attrs {
		out[i] = model.UnfilledAttribute{Attribute: a, Reason: reason}
	}
	return out
}

// rawString accepts a JSON string, number, bool or array of strings.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := ""
		for i, v := range list {
			if i > 0 {
				out += "; "
			}
			out += v
		}
		return out
	}
	return string(raw)
}

// rawFloat accepts a JSON number or numeric string; anything else is 0.
func rawFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

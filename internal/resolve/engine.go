package resolve

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/metrics"
	"github.com/dubedad/jobforge/internal/model"
)

// DefaultThreshold is the minimum weighted-ratio score for a fuzzy label match.
const DefaultThreshold = 70.0

// Engine runs the resolution cascade.
type Engine struct {
	index     *Index
	threshold float64
	scorer    Scorer
}

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold overrides the fuzzy match threshold (0-100).
func WithThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 {
			e.threshold = t
		}
	}
}

// WithScorer replaces the fuzzy scorer.
func WithScorer(s Scorer) Option {
	return func(e *Engine) {
		if s != nil {
			e.scorer = s
		}
	}
}

// NewEngine creates an Engine backed by the given context index.
func NewEngine(index *Index, opts ...Option) *Engine {
	e := &Engine{
		index:     index,
		threshold: DefaultThreshold,
		scorer:    WeightedRatio,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Index returns the context index the engine reads from.
func (e *Engine) Index() *Index { return e.index }

// Resolve maps title within unitID to a taxonomy node. It fails only when
// the unit is unknown; a title that matches nothing yields UG_IMPUTATION.
//
// Cascade, first match wins:
//  1. Single-label unit: UG_DOMINANT, before any text comparison
//  2. Exact label text: DIRECT_MATCH
//  3. Exact example title: EXAMPLE_MATCH
//  4. Best fuzzy label score at or above threshold: LABEL_IMPUTATION
//  5. Otherwise: UG_IMPUTATION
func (e *Engine) Resolve(ctx context.Context, title, unitID string) (model.ResolutionResult, error) {
	c, err := e.index.Build(ctx, unitID)
	if err != nil {
		return model.ResolutionResult{}, err
	}

	res := e.cascade(c, title)
	metrics.RecordResolution(string(res.Method))
	zap.L().Debug("resolve: resolved",
		zap.String("unit_id", unitID),
		zap.String("title", title),
		zap.String("method", string(res.Method)),
		zap.String("source_identifier", res.SourceIdentifier),
	)
	return res, nil
}

func (e *Engine) cascade(c *Context, title string) model.ResolutionResult {
	unitID := c.Unit.ID

	if c.IsSingleLabel {
		return model.NewResolutionResult(title, unitID, model.MethodUGDominant, unitID,
			fmt.Sprintf("unit %s has a single label (%q); title is unambiguous", unitID, c.Labels[0].Text))
	}

	key := NormalizeTitle(title)
	if key == "" {
		return fallback(c, title, "empty title")
	}

	for i, k := range c.labelKeys {
		if k == key {
			l := c.Labels[i]
			return model.NewResolutionResult(title, unitID, model.MethodDirectMatch, l.ID,
				fmt.Sprintf("title matches label %q exactly", l.Text))
		}
	}

	for i, k := range c.exampleKeys {
		if k == key {
			ex := c.Examples[i]
			return model.NewResolutionResult(title, unitID, model.MethodExampleMatch, ex.ID,
				fmt.Sprintf("title matches example title %q exactly", ex.Text))
		}
	}

	bestIdx, bestScore := -1, 0.0
	for i, l := range c.Labels {
		// Strict comparison keeps the earliest label on ties.
		if s := e.scorer(title, l.Text); s > bestScore {
			bestIdx, bestScore = i, s
		}
	}
	if bestIdx >= 0 && bestScore >= e.threshold {
		l := c.Labels[bestIdx]
		res := model.NewResolutionResult(title, unitID, model.MethodLabelImputation, l.ID,
			fmt.Sprintf("closest label %q with similarity %.1f (threshold %.0f)", l.Text, bestScore, e.threshold))
		res.Similarity = bestScore
		return res
	}

	return fallback(c, title, "no label or example title match")
}

func fallback(c *Context, title, why string) model.ResolutionResult {
	return model.NewResolutionResult(title, c.Unit.ID, model.MethodUGImputation, c.Unit.ID,
		fmt.Sprintf("%s; attributed to unit %s (%s)", why, c.Unit.ID, c.Unit.Title))
}

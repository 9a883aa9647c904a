// Package cascade runs the tier cascade for each entity: resolve the title,
// inherit from the unit, look up external codes for what is still missing,
// ask the generative model for the rest, then merge by tier precedence.
package cascade

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/impute"
	"github.com/dubedad/jobforge/internal/inherit"
	"github.com/dubedad/jobforge/internal/merge"
	"github.com/dubedad/jobforge/internal/metrics"
	"github.com/dubedad/jobforge/internal/model"
)

// Resolver maps a title within a unit to a taxonomy node.
type Resolver interface {
	Resolve(ctx context.Context, title, unitID string) (model.ResolutionResult, error)
}

// UnitSource returns unit details for prompt grounding.
type UnitSource interface {
	Unit(ctx context.Context, unitID string) (model.CoarseUnit, error)
}

// ExternalLookup supplies crosswalk candidates for a unit.
type ExternalLookup interface {
	Lookup(ctx context.Context, unitID string, attributes []string) ([]model.AttributeCandidate, error)
}

// Imputer supplies generative candidates.
type Imputer interface {
	Impute(ctx context.Context, req impute.Request) ([]model.AttributeCandidate, []model.UnfilledAttribute, error)
}

// Cascade processes entities through the tiers.
type Cascade struct {
	resolver Resolver
	units    UnitSource
	catalog  *Catalog
	inherit  *inherit.Engine
	tables   []*inherit.AttributeTable
	external ExternalLookup
	imputer  Imputer
	merger   *merge.Merger
	now      func() time.Time
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithInheritance sets the inheritance engine and the attribute tables it
// reads.
func WithInheritance(e *inherit.Engine, tables ...*inherit.AttributeTable) Option {
	return func(c *Cascade) {
		c.inherit = e
		c.tables = tables
	}
}

// WithExternalLookup enables the crosswalk tier.
func WithExternalLookup(l ExternalLookup) Option {
	return func(c *Cascade) { c.external = l }
}

// WithImputer enables the generative tier.
func WithImputer(i Imputer) Option {
	return func(c *Cascade) { c.imputer = i }
}

// WithMerger sets the precedence merger.
func WithMerger(m *merge.Merger) Option {
	return func(c *Cascade) { c.merger = m }
}

// WithNow sets the clock used for entity timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Cascade) { c.now = now }
}

// New creates a Cascade. units may be nil when no imputer is configured.
func New(resolver Resolver, units UnitSource, catalog *Catalog, opts ...Option) *Cascade {
	c := &Cascade{
		resolver: resolver,
		units:    units,
		catalog:  catalog,
		inherit:  inherit.NewEngine(),
		merger:   &merge.Merger{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Process runs one entity through the cascade. It never returns an error;
// failures are reported through the result status.
func (c *Cascade) Process(ctx context.Context, in model.EntityInput) model.EntityResult {
	log := zap.L().With(zap.String("entity_id", in.ID), zap.String("unit_id", in.UnitID))
	result := model.EntityResult{Input: in, StartedAt: c.now()}
	defer func() {
		result.CompletedAt = c.now()
		metrics.RecordEntity(string(result.Status))
	}()

	if err := ctx.Err(); err != nil {
		result.Status = model.StatusIncomplete
		result.Error = err.Error()
		return result
	}

	res, err := c.resolver.Resolve(ctx, in.Title, in.UnitID)
	if err != nil {
		result.Status = model.StatusFailed
		if ctx.Err() != nil {
			result.Status = model.StatusIncomplete
		}
		result.Error = err.Error()
		log.Error("cascade: resolution failed", zap.Error(err))
		return result
	}
	result.Resolution = &res
	target := res.Target()

	var cands []model.AttributeCandidate
	for _, cand := range c.inherit.Candidates(res, c.tables...) {
		if c.accepts(cand.Attribute, cand.Tier) {
			cands = append(cands, cand)
			result.Inherited = append(result.Inherited, cand.AsValue())
		}
	}

	reasons := make(map[string]string)

	if missing := c.missing(cands, model.TierExternalCrosswalk); len(missing) > 0 && c.external != nil && ctx.Err() == nil {
		found, err := c.external.Lookup(ctx, res.UnitID, missing)
		for _, cand := range found {
			cand.Entity = target
			cands = append(cands, cand)
		}
		if err != nil {
			result.TierErrors = append(result.TierErrors, model.TierFailure{Tier: model.TierExternalCrosswalk, Error: err.Error()})
			log.Warn("cascade: crosswalk tier unavailable", zap.Error(err))
		}
	}

	if missing := c.missing(cands, model.TierGenerative); len(missing) > 0 && c.imputer != nil && ctx.Err() == nil {
		found, unfilled, err := c.imputer.Impute(ctx, c.imputeRequest(ctx, in, res, target, cands, missing))
		cands = append(cands, found...)
		for _, u := range unfilled {
			reasons[u.Attribute] = u.Reason
		}
		if err != nil {
			result.TierErrors = append(result.TierErrors, model.TierFailure{Tier: model.TierGenerative, Error: err.Error()})
			log.Warn("cascade: generative tier unavailable", zap.Error(err))
		}
	}

	values, err := c.merger.MergeAll(cands)
	if err != nil {
		result.Status = model.StatusFailed
		result.Error = err.Error()
		log.Error("cascade: merge failed", zap.Error(err))
		return result
	}
	result.Attributes = values

	have := make(map[string]bool, len(values))
	for _, v := range values {
		have[v.Attribute] = true
	}
	for _, name := range c.wanted(cands) {
		if have[name] {
			continue
		}
		reason := reasons[name]
		if reason == "" {
			reason = "no tier supplied a value"
		}
		result.Unfilled = append(result.Unfilled, model.UnfilledAttribute{Attribute: name, Reason: reason})
	}

	switch {
	case ctx.Err() != nil:
		result.Status = model.StatusIncomplete
		result.Error = ctx.Err().Error()
	case len(result.Unfilled) > 0 || len(result.TierErrors) > 0:
		result.Status = model.StatusPartial
	default:
		result.Status = model.StatusResolved
	}

	log.Debug("cascade: entity processed",
		zap.String("status", string(result.Status)),
		zap.String("method", string(res.Method)),
		zap.Int("attributes", len(result.Attributes)),
		zap.Int("unfilled", len(result.Unfilled)),
	)
	return result
}

// wanted is the catalog's attribute list. With an empty catalog it is every
// column of the attribute tables plus any attribute already present.
func (c *Cascade) wanted(cands []model.AttributeCandidate) []string {
	if names := c.catalog.Names(); len(names) > 0 {
		return names
	}
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, t := range c.tables {
		if t == nil {
			continue
		}
		for _, col := range t.Columns {
			add(col)
		}
	}
	for _, cand := range cands {
		add(cand.Attribute)
	}
	sort.Strings(out)
	return out
}

// accepts reports whether tier may supply the attribute. An empty catalog
// allows every tier.
func (c *Cascade) accepts(attr string, tier model.SourceTier) bool {
	if len(c.catalog.Names()) == 0 {
		return true
	}
	return c.catalog.Allows(attr, tier)
}

// missing lists wanted attributes with no candidate yet that tier may fill.
func (c *Cascade) missing(cands []model.AttributeCandidate, tier model.SourceTier) []string {
	have := make(map[string]bool, len(cands))
	for _, cand := range cands {
		have[cand.Attribute] = true
	}
	var out []string
	for _, name := range c.wanted(cands) {
		if !have[name] && c.accepts(name, tier) {
			out = append(out, name)
		}
	}
	return out
}

func (c *Cascade) imputeRequest(ctx context.Context, in model.EntityInput, res model.ResolutionResult, target model.EntityRef, cands []model.AttributeCandidate, missing []string) impute.Request {
	req := impute.Request{
		Target:       target,
		Title:        in.Title,
		Family:       in.Family,
		Unit:         model.CoarseUnit{ID: res.UnitID},
		Attributes:   missing,
		Descriptions: c.catalog.Descriptions(),
		Known:        make(map[string]string),
	}
	if c.units != nil {
		u, err := c.units.Unit(ctx, res.UnitID)
		if err == nil {
			req.Unit = u
		}
	}
	if req.Family == "" {
		req.Family = req.Unit.Family
	}

	byAttr := make(map[string][]model.AttributeCandidate)
	for _, cand := range cands {
		byAttr[cand.Attribute] = append(byAttr[cand.Attribute], cand)
	}
	for name, group := range byAttr {
		req.Known[name] = merge.Order(group)[0].Value
	}
	return req
}

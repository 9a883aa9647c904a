package crosswalk

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dubedad/jobforge/internal/metrics"
	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/resilience"
	"github.com/dubedad/jobforge/pkg/onet"
)

// Defaults for a Lookup.
const (
	DefaultConfidence  = 0.5
	DefaultMaxElements = 5
	DefaultConcurrency = 4
)

const service = "onet"

// Lookup fetches attribute candidates for every external code a unit maps to.
type Lookup struct {
	table       *Table
	client      onet.Client
	policy      resilience.Policy
	breaker     *resilience.Breaker
	categories  map[string]string
	confidence  float64
	maxElements int
	concurrency int
	now         func() time.Time
}

// Option configures a Lookup.
type Option func(*Lookup)

// WithPolicy sets the retry policy for each external call.
func WithPolicy(p resilience.Policy) Option {
	return func(l *Lookup) { l.policy = p }
}

// WithBreaker guards external calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(l *Lookup) { l.breaker = b }
}

// WithCategories maps attribute names to external categories. Unmapped
// attributes use their own name as the category.
func WithCategories(m map[string]string) Option {
	return func(l *Lookup) { l.categories = m }
}

// WithConfidence overrides the fixed candidate confidence.
func WithConfidence(c float64) Option {
	return func(l *Lookup) {
		if c > 0 && c <= 1 {
			l.confidence = c
		}
	}
}

// WithMaxElements caps the element names joined into one value.
func WithMaxElements(n int) Option {
	return func(l *Lookup) {
		if n > 0 {
			l.maxElements = n
		}
	}
}

// WithConcurrency bounds concurrent external calls within one lookup.
func WithConcurrency(n int) Option {
	return func(l *Lookup) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

// WithNow sets the clock used for candidate timestamps.
func WithNow(now func() time.Time) Option {
	return func(l *Lookup) { l.now = now }
}

// New creates a Lookup over the mapping table and external client.
func New(table *Table, client onet.Client, opts ...Option) *Lookup {
	l := &Lookup{
		table:       table,
		client:      client,
		policy:      resilience.DefaultPolicy(),
		confidence:  DefaultConfidence,
		maxElements: DefaultMaxElements,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Category returns the external category for an attribute.
func (l *Lookup) Category(attribute string) string {
	if c, ok := l.categories[attribute]; ok && c != "" {
		return c
	}
	return attribute
}

type fetchKey struct {
	code     string
	category string
}

type fetchResult struct {
	records []onet.Record
	err     error
}

// Lookup returns candidates for the requested attributes across all of the
// unit's external codes. Candidates from different codes are all kept, one
// per (code, attribute). A unit with no mapping yields no candidates and no
// error. When some calls fail after retries, the candidates gathered from
// the rest are returned together with an error wrapping
// model.ErrExternalUnavailable.
func (l *Lookup) Lookup(ctx context.Context, unitID string, attributes []string) ([]model.AttributeCandidate, error) {
	mapping := l.table.Mapping(unitID)
	if len(mapping.ExternalCodes) == 0 || len(attributes) == 0 {
		return nil, nil
	}

	var keys []fetchKey
	seen := make(map[fetchKey]bool)
	for _, code := range mapping.ExternalCodes {
		for _, attr := range attributes {
			k := fetchKey{code: code, category: l.Category(attr)}
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}

	var mu sync.Mutex
	results := make(map[fetchKey]fetchResult, len(keys))

	g := new(errgroup.Group)
	g.SetLimit(l.concurrency)
	for _, k := range keys {
		g.Go(func() error {
			started := time.Now()
			recs, err := resilience.Call(ctx, service, l.policy, l.breaker, func(ctx context.Context) ([]onet.Record, error) {
				return l.client.Records(ctx, k.code, k.category)
			})
			metrics.RecordExternalCall(service, started, err)

			mu.Lock()
			results[k] = fetchResult{records: recs, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	ts := l.now()
	var (
		out    []model.AttributeCandidate
		failed []string
	)
	for _, code := range mapping.ExternalCodes {
		for _, attr := range attributes {
			k := fetchKey{code: code, category: l.Category(attr)}
			res := results[k]
			if res.err != nil {
				failed = append(failed, fmt.Sprintf("%s/%s", code, k.category))
				continue
			}
			value, used := l.shape(res.records)
			if value == "" {
				continue
			}
			out = append(out, model.AttributeCandidate{
				Entity:           model.EntityRef{Level: model.LevelUnit, ID: unitID},
				Attribute:        attr,
				Value:            value,
				Tier:             model.TierExternalCrosswalk,
				Confidence:       l.confidence,
				SourceIdentifier: code,
				Rationale: fmt.Sprintf("unit %s maps to external code %s; top %d of %d %s elements",
					unitID, code, used, len(res.records), k.category),
				Timestamp: ts,
				Crosswalk: &model.CrosswalkDetail{
					ExternalCode: code,
					Category:     k.category,
					RowIndex:     l.table.Row(unitID, code),
				},
			})
		}
	}

	if len(failed) > 0 {
		slices.Sort(failed)
		failed = slices.Compact(failed)
		zap.L().Warn("crosswalk: external lookups failed",
			zap.String("unit_id", unitID),
			zap.Strings("failed", failed),
			zap.Int("candidates", len(out)),
		)
		return out, eris.Wrapf(model.ErrExternalUnavailable, "crosswalk: %s: %s", unitID, strings.Join(failed, ", "))
	}
	return out, nil
}

// shape joins the highest-scoring element names into one value.
func (l *Lookup) shape(recs []onet.Record) (string, int) {
	if len(recs) == 0 {
		return "", 0
	}
	sorted := slices.Clone(recs)
	slices.SortStableFunc(sorted, func(a, b onet.Record) int {
		return cmp.Compare(b.Score, a.Score)
	})
	n := min(len(sorted), l.maxElements)
	names := make([]string, 0, n)
	for _, r := range sorted[:n] {
		names = append(names, r.Name)
	}
	return strings.Join(names, "; "), n
}

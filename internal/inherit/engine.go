package inherit

import (
	"fmt"
	"time"

	"github.com/dubedad/jobforge/internal/model"
)

// Engine produces inherited attribute candidates. It holds no mutable
// state, so repeated calls over the same inputs return identical output.
type Engine struct {
	natives *NativeIndex
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow sets the clock used for provenance timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNatives supplies values authored at the finer levels.
func WithNatives(n *NativeIndex) Option {
	return func(e *Engine) { e.natives = n }
}

// NewEngine creates an Engine. Without WithNow every value is stamped with
// the engine's creation time.
func NewEngine(opts ...Option) *Engine {
	runAt := time.Now().UTC()
	e := &Engine{now: func() time.Time { return runAt }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Inherit returns the table's attributes for the resolved unit as values on
// the resolution target. Native values on the target are kept and marked
// TierNative instead.
func (e *Engine) Inherit(res model.ResolutionResult, table *AttributeTable) []model.AttributeValue {
	cands := e.fromTables(res, false, table)
	out := make([]model.AttributeValue, len(cands))
	for i, c := range cands {
		out[i] = c.AsValue()
	}
	return out
}

// Candidates gathers inherited candidates across tables plus every native
// value of the target, each native attribute emitted once.
func (e *Engine) Candidates(res model.ResolutionResult, tables ...*AttributeTable) []model.AttributeCandidate {
	return e.fromTables(res, true, tables...)
}

func (e *Engine) fromTables(res model.ResolutionResult, allNatives bool, tables ...*AttributeTable) []model.AttributeCandidate {
	target := res.Target()
	ts := e.now()
	seenNative := make(map[string]bool)

	var out []model.AttributeCandidate
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, row := range t.Rows(res.UnitID) {
			for _, col := range t.Columns {
				if nv, ok := e.natives.Get(target, col); ok {
					if !seenNative[col] {
						seenNative[col] = true
						out = append(out, nativeCandidate(target, col, nv, ts))
					}
					continue
				}
				v := row.Values[col]
				if v == "" {
					continue
				}
				out = append(out, model.AttributeCandidate{
					Entity:           target,
					Attribute:        col,
					Value:            v,
					Tier:             model.TierAuthoritative,
					Confidence:       res.Confidence,
					SourceIdentifier: res.UnitID,
					Rationale: fmt.Sprintf("inherited from unit %s via %s (%s, confidence %.2f)",
						res.UnitID, t.Name, res.Method, res.Confidence),
					Timestamp: ts,
					Inheritance: &model.InheritanceDetail{
						SourceLevel: model.LevelUnit,
						Dataset:     t.Name,
						RowIndex:    row.Index,
					},
				})
			}
		}
	}

	if allNatives {
		for _, attr := range e.natives.Attributes(target) {
			if seenNative[attr] {
				continue
			}
			nv, _ := e.natives.Get(target, attr)
			out = append(out, nativeCandidate(target, attr, nv, ts))
		}
	}
	return out
}

func nativeCandidate(target model.EntityRef, attr string, nv NativeValue, ts time.Time) model.AttributeCandidate {
	return model.AttributeCandidate{
		Entity:           target,
		Attribute:        attr,
		Value:            nv.Value,
		Tier:             model.TierNative,
		Confidence:       1,
		SourceIdentifier: target.ID,
		Rationale:        fmt.Sprintf("authored directly on %s", target),
		Timestamp:        ts,
		Inheritance: &model.InheritanceDetail{
			SourceLevel: target.Level,
			Dataset:     nv.Dataset,
			RowIndex:    nv.RowIndex,
		},
	}
}

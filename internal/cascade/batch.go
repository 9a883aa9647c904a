package cascade

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/tabular"
)

// DefaultConcurrency is the batch worker count when none is configured.
const DefaultConcurrency = 4

// InputColumns are the required batch input columns; family is optional.
var InputColumns = []string{"entity_id", "title", "unit_id"}

// RunBatch processes inputs with at most concurrency entities in flight.
// Results are in input order. One entity's failure never stops the rest;
// after ctx is cancelled, entities not yet started are returned with
// StatusIncomplete.
func (c *Cascade) RunBatch(ctx context.Context, inputs []model.EntityInput, concurrency int) []model.EntityResult {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	started := time.Now()
	zap.L().Info("cascade: batch starting",
		zap.Int("entities", len(inputs)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]model.EntityResult, len(inputs))
	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for i, in := range inputs {
		g.Go(func() error {
			results[i] = c.Process(ctx, in)
			return nil
		})
	}
	_ = g.Wait()

	s := model.Summarize(results)
	zap.L().Info("cascade: batch complete",
		zap.Int("total", s.Total),
		zap.Int("resolved", s.Resolved),
		zap.Int("partial", s.Partial),
		zap.Int("failed", s.Failed),
		zap.Int("incomplete", s.Incomplete),
		zap.Duration("elapsed", time.Since(started)),
	)
	return results
}

// ReadInputs loads batch inputs from a CSV or XLSX file with columns
// entity_id, title, unit_id and optionally family. Blank entity ids get a
// row-based id.
func ReadInputs(ctx context.Context, path string) ([]model.EntityInput, error) {
	tbl, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrap(err, "cascade: read inputs")
	}
	return inputsFromTable(tbl)
}

// ReadInputsCSV is ReadInputs for an already-open CSV stream.
func ReadInputsCSV(ctx context.Context, name string, r io.Reader) ([]model.EntityInput, error) {
	tbl, err := tabular.ReadCSV(ctx, name, r)
	if err != nil {
		return nil, eris.Wrap(err, "cascade: read inputs")
	}
	return inputsFromTable(tbl)
}

func inputsFromTable(tbl *tabular.Table) ([]model.EntityInput, error) {
	if err := tbl.Require(InputColumns...); err != nil {
		return nil, eris.Wrap(err, "cascade: inputs")
	}
	out := make([]model.EntityInput, 0, len(tbl.Rows))
	for _, r := range tbl.Rows {
		in := model.EntityInput{
			ID:     r.Get("entity_id"),
			Title:  r.Get("title"),
			UnitID: r.Get("unit_id"),
			Family: r.Get("family"),
		}
		if in.UnitID == "" {
			return nil, eris.Errorf("cascade: %s row %d has no unit_id", tbl.Name, r.Index)
		}
		if in.ID == "" {
			in.ID = fmt.Sprintf("row-%d", r.Index)
		}
		out = append(out, in)
	}
	return out, nil
}

// WriteJSONL writes one JSON object per result.
func WriteJSONL(w io.Writer, results []model.EntityResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return eris.Wrapf(err, "cascade: encode result %s", r.Input.ID)
		}
	}
	return nil
}

package taxonomy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/model"
	"github.com/dubedad/jobforge/internal/tabular"
)

// Column names expected in the taxonomy files.
var (
	UnitColumns    = []string{"unit_id", "code", "title"}
	LabelColumns   = []string{"label_id", "unit_id", "text"}
	ExampleColumns = []string{"example_id", "unit_id", "text"}
)

// FileSources points at the three taxonomy files. Each may be CSV, TSV or XLSX.
type FileSources struct {
	Units    string
	Labels   string
	Examples string
}

// LoadFiles reads and validates the taxonomy files. The store version is
// derived from the file digests.
func LoadFiles(ctx context.Context, src FileSources) (*MemoryStore, error) {
	if src.Units == "" || src.Labels == "" || src.Examples == "" {
		return nil, eris.Wrap(model.ErrDataUnavailable, "taxonomy: units, labels and examples paths are required")
	}

	unitsTbl, err := readTable(ctx, src.Units, UnitColumns)
	if err != nil {
		return nil, err
	}
	labelsTbl, err := readTable(ctx, src.Labels, LabelColumns)
	if err != nil {
		return nil, err
	}
	examplesTbl, err := readTable(ctx, src.Examples, ExampleColumns)
	if err != nil {
		return nil, err
	}

	snap := Snapshot{
		Units:    make([]model.CoarseUnit, 0, len(unitsTbl.Rows)),
		Labels:   make([]model.Label, 0, len(labelsTbl.Rows)),
		Examples: make([]model.ExampleTitle, 0, len(examplesTbl.Rows)),
	}
	for _, r := range unitsTbl.Rows {
		snap.Units = append(snap.Units, model.CoarseUnit{
			ID:         r.Get("unit_id"),
			Code:       r.Get("code"),
			Title:      r.Get("title"),
			Definition: r.Get("definition"),
			Family:     r.Get("family"),
		})
	}
	for _, r := range labelsTbl.Rows {
		snap.Labels = append(snap.Labels, model.Label{
			ID:     r.Get("label_id"),
			UnitID: r.Get("unit_id"),
			Text:   r.Get("text"),
		})
	}
	for _, r := range examplesTbl.Rows {
		snap.Examples = append(snap.Examples, model.ExampleTitle{
			ID:     r.Get("example_id"),
			UnitID: r.Get("unit_id"),
			Text:   r.Get("text"),
		})
	}

	h := sha256.New()
	for _, d := range []string{unitsTbl.Digest, labelsTbl.Digest, examplesTbl.Digest} {
		h.Write([]byte(d))
	}
	version := "files:" + hex.EncodeToString(h.Sum(nil))[:16]

	store, err := NewMemoryStore(version, snap)
	if err != nil {
		return nil, err
	}

	zap.L().Info("taxonomy: loaded files",
		zap.String("version", version),
		zap.Int("units", len(snap.Units)),
		zap.Int("labels", len(snap.Labels)),
		zap.Int("examples", len(snap.Examples)),
	)
	return store, nil
}

func readTable(ctx context.Context, path string, required []string) (*tabular.Table, error) {
	tbl, err := tabular.ReadFile(ctx, path)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: read %s: %v", path, err)
	}
	if err := tbl.Require(required...); err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: %v", err)
	}
	return tbl, nil
}

package taxonomy

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// TxBeginner opens transactions. *pgxpool.Pool and pgxmock pools satisfy it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS taxonomy;

CREATE TABLE IF NOT EXISTS taxonomy.units (
	unit_id    TEXT PRIMARY KEY,
	code       TEXT NOT NULL,
	title      TEXT NOT NULL,
	definition TEXT,
	family     TEXT
);

CREATE TABLE IF NOT EXISTS taxonomy.labels (
	label_id  TEXT PRIMARY KEY,
	unit_id   TEXT NOT NULL REFERENCES taxonomy.units(unit_id),
	text      TEXT NOT NULL,
	row_index INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS taxonomy.example_titles (
	example_id TEXT PRIMARY KEY,
	unit_id    TEXT NOT NULL REFERENCES taxonomy.units(unit_id),
	text       TEXT NOT NULL,
	row_index  INTEGER NOT NULL
);
`

// upsertSpec describes one bulk upsert into a taxonomy table.
type upsertSpec struct {
	table   string
	columns []string
	key     string
}

var (
	unitsUpsert    = upsertSpec{"units", []string{"unit_id", "code", "title", "definition", "family"}, "unit_id"}
	labelsUpsert   = upsertSpec{"labels", []string{"label_id", "unit_id", "text", "row_index"}, "label_id"}
	examplesUpsert = upsertSpec{"example_titles", []string{"example_id", "unit_id", "text", "row_index"}, "example_id"}
)

// SeedCounts reports rows written per table.
type SeedCounts struct {
	Units    int64 `json:"units"`
	Labels   int64 `json:"labels"`
	Examples int64 `json:"examples"`
}

// Seed creates the taxonomy schema if needed and upserts every unit, label
// and example title of s in one transaction. Row order within a unit is
// kept in row_index so LoadPostgres returns the same ordering.
func Seed(ctx context.Context, db TxBeginner, s *MemoryStore) (SeedCounts, error) {
	var counts SeedCounts

	units, labels, examples := seedRows(s)

	tx, err := db.Begin(ctx)
	if err != nil {
		return counts, eris.Wrap(err, "taxonomy: seed: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, schemaDDL); err != nil {
		return counts, eris.Wrap(err, "taxonomy: seed: create schema")
	}

	if counts.Units, err = upsert(ctx, tx, unitsUpsert, units); err != nil {
		return counts, err
	}
	if counts.Labels, err = upsert(ctx, tx, labelsUpsert, labels); err != nil {
		return counts, err
	}
	if counts.Examples, err = upsert(ctx, tx, examplesUpsert, examples); err != nil {
		return counts, err
	}

	if err := tx.Commit(ctx); err != nil {
		return counts, eris.Wrap(err, "taxonomy: seed: commit tx")
	}

	zap.L().Info("taxonomy: seeded postgres",
		zap.String("version", s.Version()),
		zap.Int64("units", counts.Units),
		zap.Int64("labels", counts.Labels),
		zap.Int64("examples", counts.Examples),
	)
	return counts, nil
}

func seedRows(s *MemoryStore) (units, labels, examples [][]any) {
	for _, u := range s.units {
		units = append(units, []any{u.ID, u.Code, u.Title, u.Definition, u.Family})
		for i, l := range s.labels[u.ID] {
			labels = append(labels, []any{l.ID, l.UnitID, l.Text, i})
		}
		for i, e := range s.examples[u.ID] {
			examples = append(examples, []any{e.ID, e.UnitID, e.Text, i})
		}
	}
	return units, labels, examples
}

// upsert copies rows into a temp table, then merges them into the target
// with INSERT ... ON CONFLICT DO UPDATE.
func upsert(ctx context.Context, tx pgx.Tx, spec upsertSpec, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tmp := "_seed_" + spec.table
	create := fmt.Sprintf("CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{tmp}.Sanitize(), pgx.Identifier{"taxonomy", spec.table}.Sanitize())
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, eris.Wrapf(err, "taxonomy: seed: temp table for %s", spec.table)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmp}, spec.columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "taxonomy: seed: copy %s", spec.table)
	}

	tag, err := tx.Exec(ctx, upsertSQL(spec, tmp))
	if err != nil {
		return 0, eris.Wrapf(err, "taxonomy: seed: upsert %s", spec.table)
	}
	return tag.RowsAffected(), nil
}

func upsertSQL(spec upsertSpec, tmp string) string {
	cols := make([]string, len(spec.columns))
	var sets []string
	for i, c := range spec.columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
		if c != spec.key {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", cols[i], cols[i]))
		}
	}
	colList := strings.Join(cols, ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{"taxonomy", spec.table}.Sanitize(), colList, colList,
		pgx.Identifier{tmp}.Sanitize(), pgx.Identifier{spec.key}.Sanitize(), strings.Join(sets, ", "))
}

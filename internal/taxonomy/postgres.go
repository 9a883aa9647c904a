package taxonomy

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dubedad/jobforge/internal/model"
)

// Pool is the subset of *pgxpool.Pool used by the taxonomy loader.
// pgxmock pools satisfy it too.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

var _ Pool = (*pgxpool.Pool)(nil)

const (
	selectUnits = `SELECT unit_id, code, title, COALESCE(definition, ''), COALESCE(family, '')
		FROM taxonomy.units ORDER BY unit_id`
	selectLabels = `SELECT label_id, unit_id, text
		FROM taxonomy.labels ORDER BY unit_id, row_index`
	selectExamples = `SELECT example_id, unit_id, text
		FROM taxonomy.example_titles ORDER BY unit_id, row_index`
)

// Connect opens a pgx pool for the taxonomy database.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "taxonomy: parse postgres dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "taxonomy: connect postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: ping postgres: %v", err)
	}
	return pool, nil
}

// LoadPostgres snapshots the taxonomy schema into a MemoryStore. The
// version is a digest of the loaded rows.
func LoadPostgres(ctx context.Context, pool Pool) (*MemoryStore, error) {
	var snap Snapshot

	rows, err := pool.Query(ctx, selectUnits)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: query units: %v", err)
	}
	snap.Units, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.CoarseUnit, error) {
		var u model.CoarseUnit
		err := row.Scan(&u.ID, &u.Code, &u.Title, &u.Definition, &u.Family)
		return u, err
	})
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: scan units: %v", err)
	}

	rows, err = pool.Query(ctx, selectLabels)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: query labels: %v", err)
	}
	snap.Labels, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Label, error) {
		var l model.Label
		err := row.Scan(&l.ID, &l.UnitID, &l.Text)
		return l, err
	})
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: scan labels: %v", err)
	}

	rows, err = pool.Query(ctx, selectExamples)
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: query examples: %v", err)
	}
	snap.Examples, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ExampleTitle, error) {
		var e model.ExampleTitle
		err := row.Scan(&e.ID, &e.UnitID, &e.Text)
		return e, err
	})
	if err != nil {
		return nil, eris.Wrapf(model.ErrDataUnavailable, "taxonomy: scan examples: %v", err)
	}

	store, err := NewMemoryStore("pg:"+snapshotDigest(snap), snap)
	if err != nil {
		return nil, err
	}
	zap.L().Info("taxonomy: loaded postgres",
		zap.String("version", store.Version()),
		zap.Int("units", len(snap.Units)),
		zap.Int("labels", len(snap.Labels)),
	)
	return store, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dubedad/jobforge/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	dataset_version TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'running',
	summary         TEXT,
	created_at      DATETIME NOT NULL,
	completed_at    DATETIME
);

CREATE TABLE IF NOT EXISTS entity_results (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	position   INTEGER NOT NULL,
	entity_id  TEXT NOT NULL,
	unit_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	method     TEXT,
	result     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attribute_values (
	id                TEXT PRIMARY KEY,
	run_id            TEXT NOT NULL REFERENCES runs(id),
	entity_id         TEXT NOT NULL,
	target_level      INTEGER NOT NULL,
	target_id         TEXT NOT NULL,
	attribute         TEXT NOT NULL,
	value             TEXT NOT NULL,
	tier              TEXT NOT NULL,
	confidence        REAL NOT NULL,
	source_identifier TEXT NOT NULL,
	rationale         TEXT,
	resolution_method TEXT,
	superseded_count  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_entity_results_run_id ON entity_results(run_id, position);
CREATE INDEX IF NOT EXISTS idx_attribute_values_run_id ON attribute_values(run_id, entity_id, attribute);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, datasetVersion string) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, dataset_version, status, created_at) VALUES (?, ?, ?, ?)`,
		id, datasetVersion, string(RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &Run{
		ID:             id,
		DatasetVersion: datasetVersion,
		Status:         RunStatusRunning,
		CreatedAt:      now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary model.BatchSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, summary = ?, completed_at = ? WHERE id = ?`,
		string(RunStatusComplete), string(summaryJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, dataset_version, status, summary, created_at, completed_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT id, dataset_version, status, summary, created_at, completed_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// SaveResult stores the entity outcome and one lineage row per value in a
// single transaction.
func (s *SQLiteStore) SaveResult(ctx context.Context, runID string, result model.EntityResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal entity result")
	}
	var method string
	if result.Resolution != nil {
		method = string(result.Resolution.Method)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists); err != nil {
		return eris.Wrap(err, "sqlite: check run")
	}
	if exists == 0 {
		return eris.Wrapf(model.ErrNotFound, "run %s", runID)
	}

	var position int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_results WHERE run_id = ?`, runID,
	).Scan(&position); err != nil {
		return eris.Wrap(err, "sqlite: count entity results")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entity_results (id, run_id, position, entity_id, unit_id, status, method, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, position, result.Input.ID, result.Input.UnitID,
		string(result.Status), method, string(resultJSON),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert entity result %s", result.Input.ID)
	}

	for _, p := range model.BuildProvenance(runID, result) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attribute_values (id, run_id, entity_id, target_level, target_id, attribute, value,
			   tier, confidence, source_identifier, rationale, resolution_method, superseded_count)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), runID, p.EntityID, int(p.Target.Level), p.Target.ID, p.Attribute, p.Value,
			p.Tier.String(), p.Confidence, p.SourceIdentifier, p.Rationale, string(p.ResolutionMethod), p.SupersededCount,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert value %s/%s", p.EntityID, p.Attribute)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit entity result")
}

// Results returns the stored entity results of a run in input order.
func (s *SQLiteStore) Results(ctx context.Context, runID string) ([]model.EntityResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM entity_results WHERE run_id = ? ORDER BY position`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EntityResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var r model.EntityResult
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

// Provenance returns the lineage rows of a run ordered by entity and
// attribute.
func (s *SQLiteStore) Provenance(ctx context.Context, runID string) ([]model.ProvenanceRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity_id, target_level, target_id, attribute, value, tier, confidence,
		        source_identifier, COALESCE(rationale, ''), COALESCE(resolution_method, ''), superseded_count
		 FROM attribute_values WHERE run_id = ? ORDER BY entity_id, attribute`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list provenance for run %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProvenanceRecord
	for rows.Next() {
		p := model.ProvenanceRecord{RunID: runID}
		var level int
		var tier, method string
		if err := rows.Scan(&p.EntityID, &level, &p.Target.ID, &p.Attribute, &p.Value, &tier,
			&p.Confidence, &p.SourceIdentifier, &p.Rationale, &method, &p.SupersededCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provenance")
		}
		p.Target.Level = model.Level(level)
		p.ResolutionMethod = model.Method(method)
		if p.Tier, err = model.ParseSourceTier(tier); err != nil {
			return nil, eris.Wrap(err, "sqlite: provenance tier")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list provenance iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var summaryJSON sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&r.ID, &r.DatasetVersion, &r.Status, &summaryJSON, &r.CreatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(model.ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if summaryJSON.Valid {
		if err := json.Unmarshal([]byte(summaryJSON.String), &r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

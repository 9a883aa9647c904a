// Package store persists batch runs: per-entity outcomes and the
// provenance-stamped values each entity received.
package store

import (
	"context"
	"time"

	"github.com/dubedad/jobforge/internal/model"
)

// RunStatus is the lifecycle state of a persisted batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
)

// Run is one persisted batch.
type Run struct {
	ID             string             `json:"id"`
	DatasetVersion string             `json:"dataset_version"`
	Status         RunStatus          `json:"status"`
	Summary        model.BatchSummary `json:"summary"`
	CreatedAt      time.Time          `json:"created_at"`
	CompletedAt    *time.Time         `json:"completed_at,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for batch output.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, datasetVersion string) (*Run, error)
	CompleteRun(ctx context.Context, runID string, summary model.BatchSummary) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Results
	SaveResult(ctx context.Context, runID string, result model.EntityResult) error
	Results(ctx context.Context, runID string) ([]model.EntityResult, error)
	Provenance(ctx context.Context, runID string) ([]model.ProvenanceRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// SaveBatch creates a run, stores every result and completes the run with
// its summary.
func SaveBatch(ctx context.Context, s Store, datasetVersion string, results []model.EntityResult) (*Run, error) {
	run, err := s.CreateRun(ctx, datasetVersion)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if err := s.SaveResult(ctx, run.ID, r); err != nil {
			return run, err
		}
	}
	summary := model.Summarize(results)
	if err := s.CompleteRun(ctx, run.ID, summary); err != nil {
		return run, err
	}
	run.Status = RunStatusComplete
	run.Summary = summary
	return run, nil
}

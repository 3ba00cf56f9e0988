package core

import (
	"context"
	"fmt"
	"time"

	db "github.com/JonMunkholm/stockroom/internal/database"
	"github.com/jackc/pgx/v5/pgtype"
)

// maxStoredErrors caps the error messages kept per import run.
const maxStoredErrors = 20

// Run statuses.
const (
	RunCompleted = "completed"
	RunPartial   = "partial"
	RunFailed    = "failed"
)

// ImportRun is one recorded import.
type ImportRun struct {
	ID         string    `json:"id"`
	Entity     string    `json:"entity"`
	Source     string    `json:"source"`
	Status     string    `json:"status"`
	Total      int       `json:"total"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Failed     int       `json:"failed"`
	DurationMs int64     `json:"durationMs"`
	Errors     []string  `json:"errors,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// runStatus derives the run status from its counts.
func runStatus(stats ImportStats, errCount int) string {
	switch {
	case stats.Failed == 0 && errCount == 0:
		return RunCompleted
	case stats.Created+stats.Updated > 0:
		return RunPartial
	default:
		return RunFailed
	}
}

// RunStore persists import history.
type RunStore interface {
	RecordRun(ctx context.Context, run ImportRun) (ImportRun, error)
	ListRuns(ctx context.Context, entity string, limit int) ([]ImportRun, error)
}

// NewRunStore returns a RunStore backed by the import_runs table.
func NewRunStore(dbtx DBTX) RunStore {
	return &pgRunStore{db: dbtx}
}

type pgRunStore struct {
	db DBTX
}

func (s *pgRunStore) RecordRun(ctx context.Context, run ImportRun) (ImportRun, error) {
	errs := run.Errors
	if len(errs) > maxStoredErrors {
		errs = errs[:maxStoredErrors]
	}

	row, err := db.New(s.db).InsertImportRun(ctx, db.InsertImportRunParams{
		Entity:     run.Entity,
		Source:     run.Source,
		Status:     run.Status,
		Total:      int32(run.Total),
		Created:    int32(run.Created),
		Updated:    int32(run.Updated),
		Failed:     int32(run.Failed),
		DurationMs: run.DurationMs,
		Errors:     errs,
	})
	if err != nil {
		return ImportRun{}, fmt.Errorf("record import run: %w", err)
	}
	return runFromRow(row), nil
}

func (s *pgRunStore) ListRuns(ctx context.Context, entity string, limit int) ([]ImportRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	params := db.ListImportRunsParams{Limit: int32(limit)}
	if entity != "" {
		params.Entity = pgtype.Text{String: entity, Valid: true}
	}

	rows, err := db.New(s.db).ListImportRuns(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}

	runs := make([]ImportRun, len(rows))
	for i, row := range rows {
		runs[i] = runFromRow(row)
	}
	return runs, nil
}

func runFromRow(row db.ImportRun) ImportRun {
	return ImportRun{
		ID:         PgUUIDToString(row.ID),
		Entity:     row.Entity,
		Source:     row.Source,
		Status:     row.Status,
		Total:      int(row.Total),
		Created:    int(row.Created),
		Updated:    int(row.Updated),
		Failed:     int(row.Failed),
		DurationMs: row.DurationMs,
		Errors:     row.Errors,
		CreatedAt:  row.CreatedAt.Time,
	}
}

package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const importRunColumns = `
    id, entity, source, status, total, created, updated, failed, duration_ms, errors, created_at`

func scanImportRun(row interface{ Scan(...any) error }) (ImportRun, error) {
	var i ImportRun
	err := row.Scan(
		&i.ID,
		&i.Entity,
		&i.Source,
		&i.Status,
		&i.Total,
		&i.Created,
		&i.Updated,
		&i.Failed,
		&i.DurationMs,
		&i.Errors,
		&i.CreatedAt,
	)
	return i, err
}

const insertImportRun = `
INSERT INTO import_runs (entity, source, status, total, created, updated, failed, duration_ms, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9::text[], '{}'))
RETURNING` + importRunColumns

type InsertImportRunParams struct {
	Entity     string
	Source     string
	Status     string
	Total      int32
	Created    int32
	Updated    int32
	Failed     int32
	DurationMs int64
	Errors     []string
}

func (q *Queries) InsertImportRun(ctx context.Context, arg InsertImportRunParams) (ImportRun, error) {
	row := q.db.QueryRow(ctx, insertImportRun,
		arg.Entity,
		arg.Source,
		arg.Status,
		arg.Total,
		arg.Created,
		arg.Updated,
		arg.Failed,
		arg.DurationMs,
		arg.Errors,
	)
	return scanImportRun(row)
}

const listImportRuns = `SELECT` + importRunColumns + `
FROM import_runs
WHERE ($1::text IS NULL OR entity = $1)
ORDER BY created_at DESC
LIMIT $2`

type ListImportRunsParams struct {
	Entity pgtype.Text
	Limit  int32
}

func (q *Queries) ListImportRuns(ctx context.Context, arg ListImportRunsParams) ([]ImportRun, error) {
	rows, err := q.db.Query(ctx, listImportRuns, arg.Entity, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ImportRun
	for rows.Next() {
		i, err := scanImportRun(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

package core

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// Record is one decoded import item keyed by field name. Values are whatever
// the decoder produced: strings for CSV and XLSX, JSON scalars for JSON.
// A nil value means the field was cleared.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the field as a string, or "" when it is absent, nil, or not a string.
func (r Record) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Action reports what an upsert did to the stored row.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// ActionReporter is implemented by import results that know whether they
// created or updated a row. FormatImportResponse uses it for the stats.
type ActionReporter interface {
	ImportAction() Action
}

// UpsertResult is the outcome of writing one record.
type UpsertResult struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Action Action `json:"action"`
}

// ImportAction implements ActionReporter.
func (u UpsertResult) ImportAction() Action { return u.Action }

// BatchResult is the outcome of one item in a batch. Index is the item's
// position in the input slice; results are always returned sorted by Index.
type BatchResult[R any] struct {
	Success bool
	Result  R
	Err     error
	Index   int
}

// MarshalJSON renders the error as its message.
func (b BatchResult[R]) MarshalJSON() ([]byte, error) {
	out := struct {
		Success bool   `json:"success"`
		Result  *R     `json:"result,omitempty"`
		Error   string `json:"error,omitempty"`
		Index   int    `json:"index"`
	}{Success: b.Success, Index: b.Index}
	if b.Success {
		out.Result = &b.Result
	}
	if b.Err != nil {
		out.Error = b.Err.Error()
	}
	return json.Marshal(out)
}

// ImportStats summarizes one bulk import call.
type ImportStats struct {
	Total      int   `json:"total"`
	Created    int   `json:"created"`
	Updated    int   `json:"updated"`
	Failed     int   `json:"failed"`
	DurationMs int64 `json:"durationMs"`
}

// ImportResult is the response for one bulk import call. It is produced once
// per call and never persisted.
type ImportResult[R any] struct {
	Success  bool        `json:"success"`
	Imported []R         `json:"imported"`
	Errors   []string    `json:"errors"`
	Stats    ImportStats `json:"stats"`
	DryRun   bool        `json:"dryRun,omitempty"`
}

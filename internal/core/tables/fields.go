package tables

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/stockroom/internal/core"
	db "github.com/JonMunkholm/stockroom/internal/database"
)

// fieldReader converts record fields to query parameters, collecting
// conversion problems so one row reports all of them at once.
type fieldReader struct {
	item core.Record
	errs []string
}

func newFieldReader(item core.Record) *fieldReader {
	return &fieldReader{item: item}
}

func (r *fieldReader) str(key string) string {
	return core.CellString(r.item[key])
}

func (r *fieldReader) text(key string) pgtype.Text {
	return core.ToPgText(r.item[key])
}

func (r *fieldReader) numeric(key string) pgtype.Numeric {
	n, err := core.ToPgNumeric(r.item[key])
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *fieldReader) int4(key string) pgtype.Int4 {
	n, err := core.ToPgInt4(r.item[key])
	if err != nil {
		r.fail(key, err)
	}
	return n
}

func (r *fieldReader) boolean(key string) pgtype.Bool {
	b, err := core.ToPgBool(r.item[key])
	if err != nil {
		r.fail(key, err)
	}
	return b
}

func (r *fieldReader) require(key string) string {
	s := r.str(key)
	if s == "" {
		r.errs = append(r.errs, fmt.Sprintf("missing required field: %s", key))
	}
	return s
}

func (r *fieldReader) fail(key string, err error) {
	r.errs = append(r.errs, fmt.Sprintf("%s: %v", key, err))
}

// err returns the collected problems as a non-retryable error.
func (r *fieldReader) err() error {
	if len(r.errs) == 0 {
		return nil
	}
	return core.Fatal(errors.New(strings.Join(r.errs, "; ")))
}

func upsertResult(row db.UpsertRow, key string) core.UpsertResult {
	action := core.ActionUpdated
	if row.Inserted {
		action = core.ActionCreated
	}
	return core.UpsertResult{ID: core.PgUUIDToString(row.ID), Key: key, Action: action}
}

package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

type ImportRun struct {
	ID         pgtype.UUID
	Entity     string
	Source     string
	Status     string
	Total      int32
	Created    int32
	Updated    int32
	Failed     int32
	DurationMs int64
	Errors     []string
	CreatedAt  pgtype.Timestamptz
}

type Shipment struct {
	ID                   pgtype.UUID
	Reference            pgtype.Text
	Status               string
	CarrierCode          pgtype.Text
	EndTrackingNumber    pgtype.Text
	EndTrackingNumbers   []string
	CurrentLocation      pgtype.Text
	DeliveredAt          pgtype.Timestamptz
	Track17Registered    bool
	Track17Status        pgtype.Text
	Track17LastSync      pgtype.Timestamptz
	Track17LastEvent     pgtype.Text
	Track17LastEventTime pgtype.Timestamptz
	Track17Events        []byte
	CreatedAt            pgtype.Timestamptz
	UpdatedAt            pgtype.Timestamptz
}

// UpsertRow is returned by every upsert. Inserted is false when an existing
// row was updated.
type UpsertRow struct {
	ID       pgtype.UUID
	Inserted bool
}

package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const shipmentColumns = `
    id, reference, status, carrier_code, end_tracking_number, end_tracking_numbers,
    current_location, delivered_at, track17_registered, track17_status, track17_last_sync,
    track17_last_event, track17_last_event_time, track17_events, created_at, updated_at`

func scanShipment(row interface{ Scan(...any) error }) (Shipment, error) {
	var i Shipment
	err := row.Scan(
		&i.ID,
		&i.Reference,
		&i.Status,
		&i.CarrierCode,
		&i.EndTrackingNumber,
		&i.EndTrackingNumbers,
		&i.CurrentLocation,
		&i.DeliveredAt,
		&i.Track17Registered,
		&i.Track17Status,
		&i.Track17LastSync,
		&i.Track17LastEvent,
		&i.Track17LastEventTime,
		&i.Track17Events,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createShipment = `
INSERT INTO shipments (reference, status, carrier_code, end_tracking_number, end_tracking_numbers)
VALUES ($1, COALESCE($2, 'pending'), $3, $4, COALESCE($5::text[], '{}'))
RETURNING` + shipmentColumns

type CreateShipmentParams struct {
	Reference          pgtype.Text
	Status             pgtype.Text
	CarrierCode        pgtype.Text
	EndTrackingNumber  pgtype.Text
	EndTrackingNumbers []string
}

func (q *Queries) CreateShipment(ctx context.Context, arg CreateShipmentParams) (Shipment, error) {
	row := q.db.QueryRow(ctx, createShipment,
		arg.Reference,
		arg.Status,
		arg.CarrierCode,
		arg.EndTrackingNumber,
		arg.EndTrackingNumbers,
	)
	return scanShipment(row)
}

const getShipment = `SELECT` + shipmentColumns + ` FROM shipments WHERE id = $1`

func (q *Queries) GetShipment(ctx context.Context, id pgtype.UUID) (Shipment, error) {
	return scanShipment(q.db.QueryRow(ctx, getShipment, id))
}

const listShipmentsByStatus = `SELECT` + shipmentColumns + `
FROM shipments
WHERE status = $1
ORDER BY created_at`

func (q *Queries) ListShipmentsByStatus(ctx context.Context, status string) ([]Shipment, error) {
	rows, err := q.db.Query(ctx, listShipmentsByStatus, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Shipment
	for rows.Next() {
		i, err := scanShipment(rows)
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

// The last event doubles as the current location. Carrier code is only
// filled when the shipment has none; status and delivered_at only change
// when a value is given.
const updateShipmentTracking = `
UPDATE shipments SET
    track17_status          = $2,
    track17_last_sync       = now(),
    track17_last_event      = $3,
    current_location        = COALESCE($3, current_location),
    track17_last_event_time = $4,
    track17_events          = $5,
    carrier_code            = COALESCE(carrier_code, $6),
    status                  = COALESCE($7, status),
    delivered_at            = COALESCE($8, delivered_at),
    updated_at              = now()
WHERE id = $1
RETURNING` + shipmentColumns

type UpdateShipmentTrackingParams struct {
	ID                   pgtype.UUID
	Track17Status        pgtype.Text
	Track17LastEvent     pgtype.Text
	Track17LastEventTime pgtype.Timestamptz
	Track17Events        []byte
	CarrierCode          pgtype.Text
	Status               pgtype.Text
	DeliveredAt          pgtype.Timestamptz
}

func (q *Queries) UpdateShipmentTracking(ctx context.Context, arg UpdateShipmentTrackingParams) (Shipment, error) {
	row := q.db.QueryRow(ctx, updateShipmentTracking,
		arg.ID,
		arg.Track17Status,
		arg.Track17LastEvent,
		arg.Track17LastEventTime,
		arg.Track17Events,
		arg.CarrierCode,
		arg.Status,
		arg.DeliveredAt,
	)
	return scanShipment(row)
}

const markShipmentRegistered = `
UPDATE shipments SET track17_registered = true, updated_at = now() WHERE id = $1`

func (q *Queries) MarkShipmentRegistered(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, markShipmentRegistered, id)
	return err
}

package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const upsertSupplier = `
INSERT INTO suppliers (
    name, contact_person, email, phone, address, country, website, supplier_link, notes
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9
)
ON CONFLICT ((lower(name))) DO UPDATE SET
    contact_person = COALESCE($2, suppliers.contact_person),
    email          = COALESCE($3, suppliers.email),
    phone          = COALESCE($4, suppliers.phone),
    address        = COALESCE($5, suppliers.address),
    country        = COALESCE($6, suppliers.country),
    website        = COALESCE($7, suppliers.website),
    supplier_link  = COALESCE($8, suppliers.supplier_link),
    notes          = COALESCE($9, suppliers.notes),
    updated_at     = now()
RETURNING id, (xmax = 0) AS inserted
`

type UpsertSupplierParams struct {
	Name          string
	ContactPerson pgtype.Text
	Email         pgtype.Text
	Phone         pgtype.Text
	Address       pgtype.Text
	Country       pgtype.Text
	Website       pgtype.Text
	SupplierLink  pgtype.Text
	Notes         pgtype.Text
}

func (q *Queries) UpsertSupplier(ctx context.Context, arg UpsertSupplierParams) (UpsertRow, error) {
	row := q.db.QueryRow(ctx, upsertSupplier,
		arg.Name,
		arg.ContactPerson,
		arg.Email,
		arg.Phone,
		arg.Address,
		arg.Country,
		arg.Website,
		arg.SupplierLink,
		arg.Notes,
	)
	var i UpsertRow
	err := row.Scan(&i.ID, &i.Inserted)
	return i, err
}

const getSupplierIDByName = `SELECT id FROM suppliers WHERE lower(name) = lower($1)`

func (q *Queries) GetSupplierIDByName(ctx context.Context, name string) (pgtype.UUID, error) {
	row := q.db.QueryRow(ctx, getSupplierIDByName, name)
	var id pgtype.UUID
	err := row.Scan(&id)
	return id, err
}

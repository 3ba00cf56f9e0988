package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const customerColumns = `
    name, facebook_name, facebook_url, email, phone, address, city, zip_code, country,
    notes, type, vat_id, tax_id, preferred_language, preferred_currency, image_url`

const customerValues = `
    $1, $2, $3, $4, $5, $6, $7, $8, $9,
    $10, COALESCE($11, 'regular'), $12, $13, $14, $15, $16`

const upsertCustomerByEmail = `
INSERT INTO customers (` + customerColumns + `
) VALUES (` + customerValues + `
)
ON CONFLICT (email) WHERE email IS NOT NULL DO UPDATE SET
    name               = $1,
    facebook_name      = COALESCE($2, customers.facebook_name),
    facebook_url       = COALESCE($3, customers.facebook_url),
    phone              = COALESCE($5, customers.phone),
    address            = COALESCE($6, customers.address),
    city               = COALESCE($7, customers.city),
    zip_code           = COALESCE($8, customers.zip_code),
    country            = COALESCE($9, customers.country),
    notes              = COALESCE($10, customers.notes),
    type               = COALESCE($11, customers.type),
    vat_id             = COALESCE($12, customers.vat_id),
    tax_id             = COALESCE($13, customers.tax_id),
    preferred_language = COALESCE($14, customers.preferred_language),
    preferred_currency = COALESCE($15, customers.preferred_currency),
    image_url          = COALESCE($16, customers.image_url),
    updated_at         = now()
RETURNING id, (xmax = 0) AS inserted
`

const insertCustomer = `
INSERT INTO customers (` + customerColumns + `
) VALUES (` + customerValues + `
)
RETURNING id, true AS inserted
`

type CustomerParams struct {
	Name              string
	FacebookName      pgtype.Text
	FacebookUrl       pgtype.Text
	Email             pgtype.Text
	Phone             pgtype.Text
	Address           pgtype.Text
	City              pgtype.Text
	ZipCode           pgtype.Text
	Country           pgtype.Text
	Notes             pgtype.Text
	Type              pgtype.Text
	VatID             pgtype.Text
	TaxID             pgtype.Text
	PreferredLanguage pgtype.Text
	PreferredCurrency pgtype.Text
	ImageUrl          pgtype.Text
}

func (arg CustomerParams) args() []interface{} {
	return []interface{}{
		arg.Name,
		arg.FacebookName,
		arg.FacebookUrl,
		arg.Email,
		arg.Phone,
		arg.Address,
		arg.City,
		arg.ZipCode,
		arg.Country,
		arg.Notes,
		arg.Type,
		arg.VatID,
		arg.TaxID,
		arg.PreferredLanguage,
		arg.PreferredCurrency,
		arg.ImageUrl,
	}
}

// UpsertCustomerByEmail requires a non-null Email.
func (q *Queries) UpsertCustomerByEmail(ctx context.Context, arg CustomerParams) (UpsertRow, error) {
	row := q.db.QueryRow(ctx, upsertCustomerByEmail, arg.args()...)
	var i UpsertRow
	err := row.Scan(&i.ID, &i.Inserted)
	return i, err
}

func (q *Queries) InsertCustomer(ctx context.Context, arg CustomerParams) (UpsertRow, error) {
	row := q.db.QueryRow(ctx, insertCustomer, arg.args()...)
	var i UpsertRow
	err := row.Scan(&i.ID, &i.Inserted)
	return i, err
}

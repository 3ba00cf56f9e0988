package tables

import (
	"context"
	"net/url"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/stockroom/internal/core"
	db "github.com/JonMunkholm/stockroom/internal/database"
)

func init() {
	registerSuppliers()
}

func registerSuppliers() {
	core.Register(core.EntityDefinition{
		Key:   "suppliers",
		Label: "Suppliers",
		Fields: []core.FieldSpec{
			{Key: "name", Label: "Name", Type: core.FieldText, Required: true, Example: "Hanoi Ceramics", Description: "Matched case-insensitively; an existing supplier is updated"},
			{Key: "contactPerson", Label: "Contact Person", Type: core.FieldText, Example: "Tran Thi Mai"},
			{Key: "email", Label: "Email", Type: core.FieldText, Example: "sales@hanoiceramics.vn"},
			{Key: "phone", Label: "Phone", Type: core.FieldText, Example: "+84 24 3826 1234"},
			{Key: "address", Label: "Address", Type: core.FieldText},
			{Key: "country", Label: "Country", Type: core.FieldText, Example: "Vietnam"},
			{Key: "website", Label: "Website", Type: core.FieldText, Example: "https://hanoiceramics.vn"},
			{Key: "supplierLink", Label: "Supplier Link", Type: core.FieldText, Description: "Shop or catalogue URL"},
			{Key: "notes", Label: "Notes", Type: core.FieldText},
		},
		Validate: core.ValidateSupplierImport,
		Upsert:   upsertSupplier,
	})
}

func upsertSupplier(ctx context.Context, dbtx core.DBTX, item core.Record) (core.UpsertResult, error) {
	params, err := buildSupplierParams(item)
	if err != nil {
		return core.UpsertResult{}, err
	}
	row, err := db.New(dbtx).UpsertSupplier(ctx, params)
	if err != nil {
		return core.UpsertResult{}, err
	}
	return upsertResult(row, params.Name), nil
}

func buildSupplierParams(item core.Record) (db.UpsertSupplierParams, error) {
	r := newFieldReader(item)
	p := db.UpsertSupplierParams{
		Name:          r.require("name"),
		ContactPerson: r.text("contactPerson"),
		Email:         r.text("email"),
		Address:       r.text("address"),
		Notes:         r.text("notes"),
		Website:       r.webURL("website"),
		SupplierLink:  r.webURL("supplierLink"),
	}

	iso := ""
	if c := r.str("country"); c != "" {
		iso, _ = CountryISO(c)
		p.Country = pgtype.Text{String: NormalizeCountry(c), Valid: true}
	}
	if phone := r.str("phone"); phone != "" {
		if n := NormalizePhone(phone, iso); n != "" {
			p.Phone = pgtype.Text{String: n, Valid: true}
		}
	}

	return p, r.err()
}

// webURL reads an absolute http(s) URL. A bare host gets "https://".
func (r *fieldReader) webURL(key string) pgtype.Text {
	s := r.str(key)
	if s == "" {
		return pgtype.Text{}
	}
	u, err := url.Parse(s)
	if err == nil && u.Scheme == "" {
		u, err = url.Parse("https://" + s)
	}
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		r.errs = append(r.errs, key+": must be a web address")
		return pgtype.Text{}
	}
	return pgtype.Text{String: u.String(), Valid: true}
}

package tables

import (
	"context"
	"net/mail"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/stockroom/internal/core"
	db "github.com/JonMunkholm/stockroom/internal/database"
)

func init() {
	registerCustomers()
}

var customerTypes = map[string]bool{"regular": true, "vip": true, "wholesale": true, "business": true}

func registerCustomers() {
	core.Register(core.EntityDefinition{
		Key:   "customers",
		Label: "Customers",
		Fields: []core.FieldSpec{
			{Key: "name", Label: "Name", Type: core.FieldText, Required: true, Example: "Nguyen Van An"},
			{Key: "email", Label: "Email", Type: core.FieldText, Example: "an@example.com", Description: "Customers with a known email are updated"},
			{Key: "phone", Label: "Phone", Type: core.FieldText, Example: "+420 777 123 456", Description: "Normalized with the country prefix"},
			{Key: "facebookName", Label: "Facebook Name", Type: core.FieldText},
			{Key: "facebookUrl", Label: "Facebook URL", Type: core.FieldText},
			{Key: "address", Label: "Address", Type: core.FieldText, Example: "Vinohradská 12"},
			{Key: "city", Label: "City", Type: core.FieldText, Example: "Praha"},
			{Key: "zipCode", Label: "ZIP Code", Type: core.FieldText, Example: "120 00"},
			{Key: "country", Label: "Country", Type: core.FieldText, Example: "Česko", Description: "ISO code or name in English, German, Czech or Vietnamese"},
			{Key: "type", Label: "Type", Type: core.FieldText, Example: "regular", Description: "regular, vip, wholesale or business"},
			{Key: "vatId", Label: "VAT ID", Type: core.FieldText},
			{Key: "taxId", Label: "Tax ID", Type: core.FieldText},
			{Key: "preferredLanguage", Label: "Preferred Language", Type: core.FieldText, Example: "cs"},
			{Key: "preferredCurrency", Label: "Preferred Currency", Type: core.FieldText, Example: "CZK"},
			{Key: "notes", Label: "Notes", Type: core.FieldText},
			{Key: "imageUrl", Label: "Image URL", Type: core.FieldText},
		},
		Validate: core.ValidateCustomerImport,
		Upsert:   upsertCustomer,
	})
}

// upsertCustomer updates the customer with the same email, or inserts a new
// one when the record has no email.
func upsertCustomer(ctx context.Context, dbtx core.DBTX, item core.Record) (core.UpsertResult, error) {
	params, err := buildCustomerParams(item)
	if err != nil {
		return core.UpsertResult{}, err
	}

	q := db.New(dbtx)
	var row db.UpsertRow
	if params.Email.Valid {
		row, err = q.UpsertCustomerByEmail(ctx, params)
	} else {
		row, err = q.InsertCustomer(ctx, params)
	}
	if err != nil {
		return core.UpsertResult{}, err
	}

	key := params.Name
	if params.Email.Valid {
		key = params.Email.String
	}
	return upsertResult(row, key), nil
}

func buildCustomerParams(item core.Record) (db.CustomerParams, error) {
	r := newFieldReader(item)
	p := db.CustomerParams{
		Name:              r.require("name"),
		FacebookName:      r.text("facebookName"),
		FacebookUrl:       r.text("facebookUrl"),
		Address:           r.text("address"),
		City:              r.text("city"),
		ZipCode:           r.text("zipCode"),
		Notes:             r.text("notes"),
		VatID:             r.text("vatId"),
		TaxID:             r.text("taxId"),
		PreferredLanguage: lowerText(r.text("preferredLanguage")),
		PreferredCurrency: upperText(r.text("preferredCurrency")),
		ImageUrl:          r.text("imageUrl"),
	}

	if email := r.str("email"); email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil {
			r.fail("email", err)
		} else {
			p.Email = pgtype.Text{String: strings.ToLower(addr.Address), Valid: true}
		}
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

	if t := strings.ToLower(r.str("type")); t != "" {
		if !customerTypes[t] {
			r.errs = append(r.errs, "type: must be regular, vip, wholesale or business")
		}
		p.Type = pgtype.Text{String: t, Valid: true}
	}

	return p, r.err()
}

func lowerText(t pgtype.Text) pgtype.Text {
	t.String = strings.ToLower(t.String)
	return t
}

func upperText(t pgtype.Text) pgtype.Text {
	t.String = strings.ToUpper(t.String)
	return t
}

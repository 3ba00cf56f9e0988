package tables

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/stockroom/internal/core"
	db "github.com/JonMunkholm/stockroom/internal/database"
)

func init() {
	registerProducts()
}

// supplierLookups collapses concurrent lookups of the same supplier name
// while a batch of products is imported.
var supplierLookups singleflight.Group

func registerProducts() {
	core.Register(core.EntityDefinition{
		Key:   "products",
		Label: "Products",
		Fields: []core.FieldSpec{
			{Key: "name", Label: "Name", Type: core.FieldText, Required: true, Example: "Ceramic Mug 350ml"},
			{Key: "sku", Label: "SKU", Type: core.FieldText, Required: true, Example: "MUG-350-WHT", Description: "Unique; an existing SKU is updated"},
			{Key: "vietnameseName", Label: "Vietnamese Name", Type: core.FieldText, Example: "Cốc gốm 350ml"},
			{Key: "supplierId", Label: "Supplier ID", Type: core.FieldText, Description: "Supplier UUID; takes precedence over Supplier Name"},
			{Key: "supplierName", Label: "Supplier Name", Type: core.FieldText, Example: "Hanoi Ceramics", Description: "Must match an existing supplier"},
			{Key: "description", Label: "Description", Type: core.FieldText},
			{Key: "quantity", Label: "Quantity", Type: core.FieldInt, Example: "120"},
			{Key: "lowStockAlert", Label: "Low Stock Alert", Type: core.FieldInt, Example: "10"},
			{Key: "priceCzk", Label: "Price CZK", Type: core.FieldNumeric, Example: "249"},
			{Key: "priceEur", Label: "Price EUR", Type: core.FieldNumeric, Example: "9.90"},
			{Key: "priceUsd", Label: "Price USD", Type: core.FieldNumeric},
			{Key: "wholesalePriceCzk", Label: "Wholesale Price CZK", Type: core.FieldNumeric},
			{Key: "wholesalePriceEur", Label: "Wholesale Price EUR", Type: core.FieldNumeric},
			{Key: "importCostCzk", Label: "Import Cost CZK", Type: core.FieldNumeric},
			{Key: "importCostEur", Label: "Import Cost EUR", Type: core.FieldNumeric},
			{Key: "importCostUsd", Label: "Import Cost USD", Type: core.FieldNumeric, Example: "2.15"},
			{Key: "barcode", Label: "Barcode", Type: core.FieldText, Example: "8594001234567"},
			{Key: "length", Label: "Length (cm)", Type: core.FieldNumeric},
			{Key: "width", Label: "Width (cm)", Type: core.FieldNumeric},
			{Key: "height", Label: "Height (cm)", Type: core.FieldNumeric},
			{Key: "weight", Label: "Weight (kg)", Type: core.FieldNumeric, Example: "0.35"},
			{Key: "isActive", Label: "Active", Type: core.FieldBool, Example: "yes"},
			{Key: "warehouseLocation", Label: "Warehouse Location", Type: core.FieldText, Example: "A-01-03"},
			{Key: "imageUrl", Label: "Image URL", Type: core.FieldText, Example: "https://cdn.example.com/mug.jpg", Description: "http(s) URL or relative path; Base64 data is rejected"},
		},
		Validate: core.ValidateProductImport,
		Upsert:   upsertProduct,
	})
}

func upsertProduct(ctx context.Context, dbtx core.DBTX, item core.Record) (core.UpsertResult, error) {
	params, err := buildProductParams(item)
	if err != nil {
		return core.UpsertResult{}, err
	}

	q := db.New(dbtx)
	if !params.SupplierID.Valid {
		if name := core.CellString(item["supplierName"]); name != "" {
			id, err := resolveSupplier(ctx, q, name)
			if err != nil {
				return core.UpsertResult{}, err
			}
			params.SupplierID = id
		}
	}

	row, err := q.UpsertProduct(ctx, params)
	if err != nil {
		return core.UpsertResult{}, err
	}
	return upsertResult(row, params.Sku), nil
}

func buildProductParams(item core.Record) (db.UpsertProductParams, error) {
	r := newFieldReader(item)
	p := db.UpsertProductParams{
		Name:              r.require("name"),
		Sku:               r.require("sku"),
		VietnameseName:    r.text("vietnameseName"),
		Description:       r.text("description"),
		Quantity:          r.int4("quantity"),
		LowStockAlert:     r.int4("lowStockAlert"),
		PriceCzk:          r.numeric("priceCzk"),
		PriceEur:          r.numeric("priceEur"),
		PriceUsd:          r.numeric("priceUsd"),
		WholesalePriceCzk: r.numeric("wholesalePriceCzk"),
		WholesalePriceEur: r.numeric("wholesalePriceEur"),
		ImportCostCzk:     r.numeric("importCostCzk"),
		ImportCostEur:     r.numeric("importCostEur"),
		ImportCostUsd:     r.numeric("importCostUsd"),
		Barcode:           r.text("barcode"),
		Length:            r.numeric("length"),
		Width:             r.numeric("width"),
		Height:            r.numeric("height"),
		Weight:            r.numeric("weight"),
		IsActive:          r.boolean("isActive"),
		WarehouseLocation: r.text("warehouseLocation"),
		ImageUrl:          r.text("imageUrl"),
	}

	if s := r.str("supplierId"); s != "" {
		p.SupplierID = core.ToPgUUID(s)
		if !p.SupplierID.Valid {
			r.fail("supplierId", fmt.Errorf("invalid UUID %q", s))
		}
	}
	if p.Quantity.Valid && p.Quantity.Int32 < 0 {
		r.fail("quantity", errors.New("must not be negative"))
	}

	return p, r.err()
}

// resolveSupplier finds a supplier by case-insensitive name.
func resolveSupplier(ctx context.Context, q *db.Queries, name string) (pgtype.UUID, error) {
	v, err, _ := supplierLookups.Do(strings.ToLower(name), func() (any, error) {
		return q.GetSupplierIDByName(ctx, name)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return pgtype.UUID{}, core.Fatal(fmt.Errorf("unknown supplier %q", name))
	}
	if err != nil {
		return pgtype.UUID{}, err
	}
	return v.(pgtype.UUID), nil
}

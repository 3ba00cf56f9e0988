package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Optional columns keep their stored value when the parameter is NULL.
const upsertProduct = `
INSERT INTO products (
    name, vietnamese_name, sku, supplier_id, description, quantity, low_stock_alert,
    price_czk, price_eur, price_usd, wholesale_price_czk, wholesale_price_eur,
    import_cost_czk, import_cost_eur, import_cost_usd,
    barcode, length, width, height, weight, is_active, warehouse_location, image_url
) VALUES (
    $1, $2, $3, $4, $5, COALESCE($6::integer, 0), $7,
    $8, $9, $10, $11, $12,
    $13, $14, $15,
    $16, $17, $18, $19, $20, COALESCE($21::boolean, true), $22, $23
)
ON CONFLICT (sku) DO UPDATE SET
    name                = $1,
    vietnamese_name     = COALESCE($2, products.vietnamese_name),
    supplier_id         = COALESCE($4, products.supplier_id),
    description         = COALESCE($5, products.description),
    quantity            = COALESCE($6::integer, products.quantity),
    low_stock_alert     = COALESCE($7, products.low_stock_alert),
    price_czk           = COALESCE($8, products.price_czk),
    price_eur           = COALESCE($9, products.price_eur),
    price_usd           = COALESCE($10, products.price_usd),
    wholesale_price_czk = COALESCE($11, products.wholesale_price_czk),
    wholesale_price_eur = COALESCE($12, products.wholesale_price_eur),
    import_cost_czk     = COALESCE($13, products.import_cost_czk),
    import_cost_eur     = COALESCE($14, products.import_cost_eur),
    import_cost_usd     = COALESCE($15, products.import_cost_usd),
    barcode             = COALESCE($16, products.barcode),
    length              = COALESCE($17, products.length),
    width               = COALESCE($18, products.width),
    height              = COALESCE($19, products.height),
    weight              = COALESCE($20, products.weight),
    is_active           = COALESCE($21::boolean, products.is_active),
    warehouse_location  = COALESCE($22, products.warehouse_location),
    image_url           = COALESCE($23, products.image_url),
    updated_at          = now()
RETURNING id, (xmax = 0) AS inserted
`

type UpsertProductParams struct {
	Name              string
	VietnameseName    pgtype.Text
	Sku               string
	SupplierID        pgtype.UUID
	Description       pgtype.Text
	Quantity          pgtype.Int4
	LowStockAlert     pgtype.Int4
	PriceCzk          pgtype.Numeric
	PriceEur          pgtype.Numeric
	PriceUsd          pgtype.Numeric
	WholesalePriceCzk pgtype.Numeric
	WholesalePriceEur pgtype.Numeric
	ImportCostCzk     pgtype.Numeric
	ImportCostEur     pgtype.Numeric
	ImportCostUsd     pgtype.Numeric
	Barcode           pgtype.Text
	Length            pgtype.Numeric
	Width             pgtype.Numeric
	Height            pgtype.Numeric
	Weight            pgtype.Numeric
	IsActive          pgtype.Bool
	WarehouseLocation pgtype.Text
	ImageUrl          pgtype.Text
}

func (q *Queries) UpsertProduct(ctx context.Context, arg UpsertProductParams) (UpsertRow, error) {
	row := q.db.QueryRow(ctx, upsertProduct,
		arg.Name,
		arg.VietnameseName,
		arg.Sku,
		arg.SupplierID,
		arg.Description,
		arg.Quantity,
		arg.LowStockAlert,
		arg.PriceCzk,
		arg.PriceEur,
		arg.PriceUsd,
		arg.WholesalePriceCzk,
		arg.WholesalePriceEur,
		arg.ImportCostCzk,
		arg.ImportCostEur,
		arg.ImportCostUsd,
		arg.Barcode,
		arg.Length,
		arg.Width,
		arg.Height,
		arg.Weight,
		arg.IsActive,
		arg.WarehouseLocation,
		arg.ImageUrl,
	)
	var i UpsertRow
	err := row.Scan(&i.ID, &i.Inserted)
	return i, err
}

const countProducts = `SELECT count(*) FROM products`

func (q *Queries) CountProducts(ctx context.Context) (int64, error) {
	row := q.db.QueryRow(ctx, countProducts)
	var count int64
	err := row.Scan(&count)
	return count, err
}

package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
)

// Product is the catalog's current view of a sellable item.
type Product struct {
	ID         string
	Name       string
	PriceCents int64
	Currency   money.Currency
	Stock      int
	Active     bool
}

// Catalog supplies authoritative prices and stock at checkout time.
type Catalog interface {
	// Products returns the requested products keyed by id. Unknown ids are
	// absent from the map rather than an error.
	Products(ctx context.Context, ids []string) (map[string]Product, error)
}

// ErrInvalidCoupon is returned by a DiscountResolver for unusable codes
var ErrInvalidCoupon = errors.New("invalid coupon")

// DiscountResolver prices a coupon against a subtotal.
type DiscountResolver interface {
	Discount(ctx context.Context, code string, subtotal money.Money) (int64, error)
}

// NoDiscounts rejects every coupon code.
type NoDiscounts struct{}

// Discount implements DiscountResolver.
func (NoDiscounts) Discount(_ context.Context, code string, _ money.Money) (int64, error) {
	return 0, fmt.Errorf("%w: %s", ErrInvalidCoupon, code)
}

// PostgresCatalog reads the products table.
type PostgresCatalog struct {
	db database.Querier
}

// NewPostgresCatalog creates a catalog backed by PostgreSQL.
func NewPostgresCatalog(db database.Querier) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

const productsByIDSQL = `
	SELECT id, name, price_cents, currency, stock, active
	FROM products
	WHERE id = ANY($1)
`

// Products implements Catalog.
func (c *PostgresCatalog) Products(ctx context.Context, ids []string) (map[string]Product, error) {
	rows, err := c.db.Query(ctx, productsByIDSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Product, error) {
		var p Product
		err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Currency, &p.Stock, &p.Active)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}

	out := make(map[string]Product, len(list))
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

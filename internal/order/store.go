package order

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
)

// Store persists orders.
type Store interface {
	// Create inserts the order and its items atomically.
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	// GetByTransactionRef returns the order in any status.
	GetByTransactionRef(ctx context.Context, ref string) (*Order, error)
	// GetPendingByTransactionRef returns ErrNotFound unless the order is PENDING.
	GetPendingByTransactionRef(ctx context.Context, ref string) (*Order, error)
	// MarkPaid flips PENDING to PAID and reports whether this call did it.
	MarkPaid(ctx context.Context, ref string, paidAt time.Time) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]*Order, int, error)
}

// ListFilter narrows List.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Transaction-reference and order-number collisions, retried by the service
const (
	constraintTransactionRef = "orders_transaction_ref_key"
	constraintOrderNumber    = "orders_order_number_key"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL order store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertOrderSQL = `
	INSERT INTO orders (
		id, order_number, transaction_ref, customer_id, status,
		subtotal_cents, discount_cents, total_cents, currency,
		referral_code, gateway, paid_at, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

const insertItemSQL = `
	INSERT INTO order_items (
		id, order_id, product_id, product_name, quantity, unit_price_cents, line_total_cents
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, o *Order) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.Number, o.TransactionRef, o.CustomerID, o.Status,
			o.SubtotalCents, o.DiscountCents, o.TotalCents, o.Currency,
			nullStr(o.ReferralCode), o.Gateway, o.PaidAt, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			if database.IsUniqueViolation(err) {
				return fmt.Errorf("insert order: %w: %w", database.ErrAlreadyExists, err)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range o.Items {
			it := &o.Items[i]
			if it.ID == "" {
				it.ID = ulid.Make().String()
			}
			_, err := tx.Exec(ctx, insertItemSQL,
				it.ID, o.ID, it.ProductID, it.ProductName, it.Quantity, it.UnitPriceCents, it.LineTotalCents,
			)
			if err != nil {
				return fmt.Errorf("insert order item %s: %w", it.ProductID, err)
			}
		}
		return nil
	})
}

const selectOrderSQL = `
	SELECT id, order_number, transaction_ref, customer_id, status,
	       subtotal_cents, discount_cents, total_cents, currency,
	       referral_code, gateway, paid_at, created_at, updated_at
	FROM orders
`

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, selectOrderSQL+` WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetByTransactionRef implements Store.
func (s *PostgresStore) GetByTransactionRef(ctx context.Context, ref string) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, selectOrderSQL+` WHERE transaction_ref = $1`, ref))
}

// GetPendingByTransactionRef implements Store.
func (s *PostgresStore) GetPendingByTransactionRef(ctx context.Context, ref string) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, selectOrderSQL+` WHERE transaction_ref = $1 AND status = $2`, ref, StatusPending))
}

const markPaidSQL = `
	UPDATE orders
	SET status = $2, paid_at = $3, updated_at = $3
	WHERE transaction_ref = $1 AND status = $4
`

// MarkPaid implements Store. The status predicate makes the transition a
// compare-and-set; concurrent callers see exactly one affected row between them.
func (s *PostgresStore) MarkPaid(ctx context.Context, ref string, paidAt time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, markPaidSQL, ref, StatusPaid, paidAt, StatusPending)
	if err != nil {
		return false, fmt.Errorf("mark order %s paid: %w", ref, err)
	}
	return tag.RowsAffected() == 1, nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*Order, int, error) {
	var total int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE ($1 = '' OR status = $1)`,
		string(filter.Status),
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := s.db.Query(ctx,
		selectOrderSQL+` WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		string(filter.Status), filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan orders: %w", err)
	}
	return orders, total, nil
}

const selectItemsSQL = `
	SELECT id, product_id, product_name, quantity, unit_price_cents, line_total_cents
	FROM order_items
	WHERE order_id = $1
	ORDER BY id
`

func (s *PostgresStore) loadItems(ctx context.Context, o *Order) error {
	rows, err := s.db.Query(ctx, selectItemsSQL, o.ID)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Item, error) {
		var it Item
		err := row.Scan(&it.ID, &it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPriceCents, &it.LineTotalCents)
		return it, err
	})
	if err != nil {
		return fmt.Errorf("scan order items: %w", err)
	}
	o.Items = items
	return nil
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var referralCode *string

	err := row.Scan(
		&o.ID, &o.Number, &o.TransactionRef, &o.CustomerID, &o.Status,
		&o.SubtotalCents, &o.DiscountCents, &o.TotalCents, &o.Currency,
		&referralCode, &o.Gateway, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if referralCode != nil {
		o.ReferralCode = *referralCode
	}
	return &o, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
)

// OrderLookup finds an order by gateway reference in any status.
type OrderLookup interface {
	GetByTransactionRef(ctx context.Context, ref string) (*order.Order, error)
}

// Guard short-circuits redelivered webhooks. The order row is the record of
// processing; there is no separate dedup table.
type Guard struct {
	orders OrderLookup
}

// NewGuard creates a new idempotency guard.
func NewGuard(orders OrderLookup) *Guard {
	return &Guard{orders: orders}
}

// IsAlreadyProcessed reports whether an order with ref exists and has left
// PENDING. An unknown reference is not processed.
func (g *Guard) IsAlreadyProcessed(ctx context.Context, ref string) (bool, error) {
	o, err := g.orders.GetByTransactionRef(ctx, ref)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking %s: %w", ref, err)
	}
	return o.Status != order.StatusPending, nil
}

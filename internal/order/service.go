package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/gateway"
)

// referenceAttempts bounds regeneration after a reference collision
const referenceAttempts = 3

// Minimums supplies the configured order floor.
type Minimums interface {
	MinOrderAmountCents(ctx context.Context) int64
}

// Service creates orders at checkout.
type Service struct {
	store     Store
	catalog   Catalog
	discounts DiscountResolver
	minimums  Minimums
	gateways  gateway.Registry
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new order service.
func NewService(store Store, catalog Catalog, minimums Minimums, gateways gateway.Registry, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		catalog:   catalog,
		discounts: NoDiscounts{},
		minimums:  minimums,
		gateways:  gateways,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetDiscountResolver sets the coupon collaborator.
func (s *Service) SetDiscountResolver(d DiscountResolver) { s.discounts = d }

// CartLine is one requested product.
type CartLine struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=1000"`
}

// CheckoutRequest is the customer's cart. Prices are never taken from it.
type CheckoutRequest struct {
	CustomerID   uuid.UUID  `json:"-"`
	Gateway      string     `json:"gateway" validate:"required"`
	Items        []CartLine `json:"items" validate:"required,min=1,max=100,dive"`
	ReferralCode string     `json:"referral_code,omitempty" validate:"omitempty,max=64"`
	CouponCode   string     `json:"coupon_code,omitempty" validate:"omitempty,max=64"`
	Email        string     `json:"email,omitempty" validate:"omitempty,email"`
	FirstName    string     `json:"first_name,omitempty" validate:"omitempty,max=100"`
	LastName     string     `json:"last_name,omitempty" validate:"omitempty,max=100"`
	Phone        string     `json:"phone,omitempty" validate:"omitempty,max=32"`
}

// CreatePendingOrder prices the cart, persists a PENDING order with a fresh
// transaction reference and only then asks the gateway for a checkout URL.
// If initialization fails the order is returned along with the error.
func (s *Service) CreatePendingOrder(ctx context.Context, req *CheckoutRequest) (*Order, *gateway.InitResult, error) {
	gw, ok := s.gateways.Lookup(req.Gateway)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownGateway, req.Gateway)
	}

	lines := mergeLines(req.Items)
	if len(lines) == 0 {
		return nil, nil, ErrEmptyCart
	}

	o, err := s.price(ctx, lines)
	if err != nil {
		return nil, nil, err
	}

	if req.CouponCode != "" {
		discount, err := s.discounts.Discount(ctx, req.CouponCode, money.New(o.SubtotalCents, o.Currency))
		if err != nil {
			return nil, nil, err
		}
		if discount < 0 {
			discount = 0
		}
		if discount > o.SubtotalCents {
			discount = o.SubtotalCents
		}
		o.DiscountCents = discount
	}
	o.TotalCents = o.SubtotalCents - o.DiscountCents

	minimum := money.New(s.minimums.MinOrderAmountCents(ctx), o.Currency)
	if total := o.Total(); !total.IsPositive() || total.LessThan(minimum) {
		return nil, nil, fmt.Errorf("%w: total %s < %s", ErrBelowMinimum, total, minimum)
	}

	now := s.now()
	o.ID = ulid.Make().String()
	o.CustomerID = req.CustomerID
	o.Status = StatusPending
	o.ReferralCode = req.ReferralCode
	o.Gateway = gw.Name()
	o.CreatedAt = now
	o.UpdatedAt = now

	if err := o.CheckTotals(); err != nil {
		return nil, nil, fmt.Errorf("pricing order: %w", err)
	}

	err = database.Retry(ctx, referenceAttempts, isReferenceCollision, func() error {
		o.TransactionRef = NewTransactionRef()
		o.Number = NewOrderNumber(now)
		return s.store.Create(ctx, o)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("persisting order: %w", err)
	}

	s.logger.Info("order created",
		"order_id", o.ID,
		"order_number", o.Number,
		"tx_ref", o.TransactionRef,
		"total_cents", o.TotalCents,
		"gateway", o.Gateway,
		"referral_code", o.ReferralCode,
	)

	init, err := gw.Initialize(ctx, gateway.InitRequest{
		TransactionRef: o.TransactionRef,
		Amount:         o.Total(),
		OrderNumber:    o.Number,
		CustomerID:     o.CustomerID.String(),
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Phone:          req.Phone,
	})
	if err != nil {
		s.logger.Error("payment initialization failed",
			"order_id", o.ID,
			"tx_ref", o.TransactionRef,
			"error", err,
		)
		return o, nil, fmt.Errorf("initializing payment: %w", err)
	}

	return o, init, nil
}

// price builds an order from current catalog data.
func (s *Service) price(ctx context.Context, lines []CartLine) (*Order, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}

	products, err := s.catalog.Products(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading products: %w", err)
	}

	o := &Order{Items: make([]Item, 0, len(lines))}
	lineTotals := make([]money.Money, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.Active {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, l.ProductID)
		}
		if p.Stock < l.Quantity {
			return nil, fmt.Errorf("%w: %s has %d, requested %d", ErrOutOfStock, p.ID, p.Stock, l.Quantity)
		}
		if o.Currency == "" {
			o.Currency = p.Currency
		} else if o.Currency != p.Currency {
			return nil, fmt.Errorf("%w: %s and %s", ErrCurrencyMismatch, o.Currency, p.Currency)
		}

		lineTotal := money.New(p.PriceCents, p.Currency).Multiply(int64(l.Quantity))
		o.Items = append(o.Items, Item{
			ProductID:      p.ID,
			ProductName:    p.Name,
			Quantity:       l.Quantity,
			UnitPriceCents: p.PriceCents,
			LineTotalCents: lineTotal.AmountMinor,
		})
		lineTotals = append(lineTotals, lineTotal)
	}

	subtotal, err := money.Sum(o.Currency, lineTotals...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCurrencyMismatch, err)
	}
	o.SubtotalCents = subtotal.AmountMinor
	return o, nil
}

// mergeLines folds repeated products into one line, ordered by product id.
func mergeLines(in []CartLine) []CartLine {
	qty := make(map[string]int, len(in))
	for _, l := range in {
		if l.Quantity <= 0 {
			continue
		}
		qty[l.ProductID] += l.Quantity
	}

	out := make([]CartLine, 0, len(qty))
	for id, q := range qty {
		out = append(out, CartLine{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func isReferenceCollision(err error) bool {
	if !database.IsUniqueViolation(err) {
		return false
	}
	switch database.ConstraintName(err) {
	case constraintTransactionRef, constraintOrderNumber:
		return true
	}
	return false
}

// GetOrder returns an order with its items.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("getting order %s: %w", id, err)
	}
	return o, nil
}

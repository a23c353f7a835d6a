package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/database"
)

// Store persists commission records and reads ambassadors.
type Store interface {
	GetAmbassador(ctx context.Context, id string) (*Ambassador, error)
	GetAmbassadorByCode(ctx context.Context, code string) (*Ambassador, error)
	// CreateReferral returns ErrDuplicateCommission if the order already has one.
	CreateReferral(ctx context.Context, r *Referral) error
	ListReferrals(ctx context.Context, ambassadorID string) ([]Referral, error)
	// RecordRejection marks an order as never owed a commission. Repeat calls
	// for the same order keep the first reason.
	RecordRejection(ctx context.Context, orderID, referralCode, reason string, at time.Time) error
	// ListUncommissioned returns paid orders in [paidAfter, paidBefore) that
	// carry a referral code but have neither a commission record nor a
	// recorded rejection.
	ListUncommissioned(ctx context.Context, paidAfter, paidBefore time.Time, limit int) ([]Uncommissioned, error)
}

// Uncommissioned identifies a paid order still owed a commission attempt.
type Uncommissioned struct {
	OrderID      string
	ReferralCode string
	PaidAt       time.Time
}

const constraintOneReferralPerOrder = "ambassador_referrals_order_id_key"

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db database.Querier
}

// NewPostgresStore creates a new PostgreSQL commission store.
func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectAmbassadorSQL = `
	SELECT id, user_id, referral_code, commission_rate_bp, status
	FROM ambassadors
`

// GetAmbassador implements Store.
func (s *PostgresStore) GetAmbassador(ctx context.Context, id string) (*Ambassador, error) {
	return scanAmbassador(s.db.QueryRow(ctx, selectAmbassadorSQL+` WHERE id = $1`, id))
}

// GetAmbassadorByCode implements Store.
func (s *PostgresStore) GetAmbassadorByCode(ctx context.Context, code string) (*Ambassador, error) {
	return scanAmbassador(s.db.QueryRow(ctx, selectAmbassadorSQL+` WHERE referral_code = $1`, code))
}

const insertReferralSQL = `
	INSERT INTO ambassador_referrals (
		id, ambassador_id, customer_id, order_id, referral_code,
		commission_rate_bp, commission_cents, currency, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// CreateReferral implements Store.
func (s *PostgresStore) CreateReferral(ctx context.Context, r *Referral) error {
	_, err := s.db.Exec(ctx, insertReferralSQL,
		r.ID, r.AmbassadorID, r.CustomerID, r.OrderID, r.ReferralCode,
		r.RateBP, r.CommissionCents, r.Currency, r.CreatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) && database.ConstraintName(err) == constraintOneReferralPerOrder {
			return fmt.Errorf("%w: order %s", ErrDuplicateCommission, r.OrderID)
		}
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

const listReferralsSQL = `
	SELECT id, ambassador_id, customer_id, order_id, referral_code,
	       commission_rate_bp, commission_cents, currency, created_at
	FROM ambassador_referrals
	WHERE ambassador_id = $1
	ORDER BY created_at DESC, id DESC
`

// ListReferrals implements Store.
func (s *PostgresStore) ListReferrals(ctx context.Context, ambassadorID string) ([]Referral, error) {
	rows, err := s.db.Query(ctx, listReferralsSQL, ambassadorID)
	if err != nil {
		return nil, fmt.Errorf("query referrals: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Referral, error) {
		var r Referral
		err := row.Scan(
			&r.ID, &r.AmbassadorID, &r.CustomerID, &r.OrderID, &r.ReferralCode,
			&r.RateBP, &r.CommissionCents, &r.Currency, &r.CreatedAt,
		)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan referrals: %w", err)
	}
	return out, nil
}

const insertRejectionSQL = `
	INSERT INTO commission_rejections (order_id, referral_code, reason, rejected_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (order_id) DO NOTHING
`

// RecordRejection implements Store.
func (s *PostgresStore) RecordRejection(ctx context.Context, orderID, referralCode, reason string, at time.Time) error {
	if _, err := s.db.Exec(ctx, insertRejectionSQL, orderID, referralCode, reason, at); err != nil {
		return fmt.Errorf("insert commission rejection: %w", err)
	}
	return nil
}

const listUncommissionedSQL = `
	SELECT o.id, o.referral_code, o.paid_at
	FROM orders o
	LEFT JOIN ambassador_referrals r ON r.order_id = o.id
	WHERE o.status = 'PAID'
	  AND o.referral_code IS NOT NULL
	  AND o.paid_at >= $1 AND o.paid_at < $2
	  AND r.id IS NULL
	  AND NOT EXISTS (SELECT 1 FROM commission_rejections x WHERE x.order_id = o.id)
	ORDER BY o.paid_at, o.id
	LIMIT $3
`

// ListUncommissioned implements Store.
func (s *PostgresStore) ListUncommissioned(ctx context.Context, paidAfter, paidBefore time.Time, limit int) ([]Uncommissioned, error) {
	rows, err := s.db.Query(ctx, listUncommissionedSQL, paidAfter, paidBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query uncommissioned orders: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Uncommissioned, error) {
		var u Uncommissioned
		err := row.Scan(&u.OrderID, &u.ReferralCode, &u.PaidAt)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan uncommissioned orders: %w", err)
	}
	return out, nil
}

func scanAmbassador(row pgx.Row) (*Ambassador, error) {
	var a Ambassador
	err := row.Scan(&a.ID, &a.UserID, &a.ReferralCode, &a.RateBP, &a.Status)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, ErrAmbassadorNotFound
		}
		return nil, fmt.Errorf("scan ambassador: %w", err)
	}
	return &a, nil
}

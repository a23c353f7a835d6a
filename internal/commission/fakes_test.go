package commission

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/events"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order/ordertest"
)

type memoryStore struct {
	mu          sync.Mutex
	ambassadors map[string]*Ambassador
	referrals   map[string]Referral // by order id
	rejected    map[string]string // order id to reason
	orphans     []Uncommissioned
	createErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		ambassadors: make(map[string]*Ambassador),
		referrals:   make(map[string]Referral),
		rejected:    make(map[string]string),
	}
}

func (m *memoryStore) addAmbassador(a *Ambassador) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ambassadors[a.ID] = a
}

func (m *memoryStore) GetAmbassador(_ context.Context, id string) (*Ambassador, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.ambassadors[id]
	if !ok {
		return nil, ErrAmbassadorNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memoryStore) GetAmbassadorByCode(_ context.Context, code string) (*Ambassador, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.ambassadors {
		if a.ReferralCode == code {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrAmbassadorNotFound
}

func (m *memoryStore) CreateReferral(_ context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.referrals[r.OrderID]; ok {
		return fmt.Errorf("%w: order %s", ErrDuplicateCommission, r.OrderID)
	}
	m.referrals[r.OrderID] = *r
	return nil
}

func (m *memoryStore) ListReferrals(_ context.Context, ambassadorID string) ([]Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Referral
	for _, r := range m.referrals {
		if r.AmbassadorID == ambassadorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryStore) RecordRejection(_ context.Context, orderID, _, reason string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rejected[orderID]; !ok {
		m.rejected[orderID] = reason
	}
	return nil
}

func (m *memoryStore) ListUncommissioned(_ context.Context, _, _ time.Time, limit int) ([]Uncommissioned, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Uncommissioned
	for _, u := range m.orphans {
		if _, done := m.referrals[u.OrderID]; done {
			continue
		}
		if _, done := m.rejected[u.OrderID]; done {
			continue
		}
		out = append(out, u)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) rejectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rejected)
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.referrals)
}

type fixedRates struct {
	rateBP int64
	hold   time.Duration
}

func (r fixedRates) CommissionRateBP(context.Context) int64             { return r.rateBP }
func (r fixedRates) CommissionHoldPeriod(context.Context) time.Duration { return r.hold }

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rateBP(v int64) *int64 { return &v }

type fixture struct {
	store     *memoryStore
	orders    *ordertest.MemoryStore
	publisher *recordingPublisher
	service   *Service
	amb       *Ambassador
}

func newFixture() *fixture {
	f := &fixture{
		store:     newMemoryStore(),
		orders:    ordertest.NewMemoryStore(),
		publisher: &recordingPublisher{},
		amb: &Ambassador{
			ID:           "amb-1",
			UserID:       uuid.New(),
			ReferralCode: "AMB-1",
			Status:       AmbassadorActive,
		},
	}
	f.store.addAmbassador(f.amb)
	f.service = NewService(f.store, f.orders, fixedRates{rateBP: 500, hold: 14 * 24 * time.Hour}, f.publisher, discardLogger())
	return f
}

func (f *fixture) paidOrder(id string, totalCents int64, customer uuid.UUID) *order.Order {
	paidAt := time.Now().UTC()
	o := &order.Order{
		ID:             id,
		TransactionRef: "TX-" + id,
		CustomerID:     customer,
		Status:         order.StatusPaid,
		SubtotalCents:  totalCents,
		TotalCents:     totalCents,
		Currency:       money.ETB,
		ReferralCode:   f.amb.ReferralCode,
		PaidAt:         &paidAt,
	}
	f.orders.Put(o)
	return o
}

package reconciliation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/commission"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/events"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/gateway"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order/ordertest"
)

const goodSignature = "good"

// fakeGateway accepts goodSignature and reads the ref and status from a
// "ref:status" body.
type fakeGateway struct {
	name        string
	verified    bool
	amount      money.Money
	verifyErr   error
	verifyCalls atomic.Int32
}

func newFakeGateway(amount int64) *fakeGateway {
	return &fakeGateway{name: "chapa", verified: true, amount: money.New(amount, money.ETB)}
}

func (g *fakeGateway) Name() string            { return g.name }
func (g *fakeGateway) SignatureHeader() string { return "X-Sig" }

func (g *fakeGateway) VerifySignature(_ []byte, signature string) bool {
	return signature == goodSignature
}

func (g *fakeGateway) ParseNotification(payload []byte) (*gateway.Notification, error) {
	ref, status, ok := strings.Cut(string(payload), ":")
	if !ok || ref == "" {
		return nil, gateway.ErrMalformedNotification
	}
	return &gateway.Notification{TransactionRef: ref, Status: status, Succeeded: status == "success"}, nil
}

func (g *fakeGateway) VerifyTransaction(_ context.Context, ref string) (*gateway.Verification, error) {
	g.verifyCalls.Add(1)
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return &gateway.Verification{TransactionRef: ref, Verified: g.verified, Status: "success", Amount: g.amount}, nil
}

func (g *fakeGateway) Initialize(context.Context, gateway.InitRequest) (*gateway.InitResult, error) {
	return nil, errors.New("not used")
}

// recordingCommissions counts calls and optionally fails.
type recordingCommissions struct {
	calls atomic.Int32
	err   error
}

func (c *recordingCommissions) RecordCommission(_ context.Context, orderID, code string) (*commission.Referral, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &commission.Referral{OrderID: orderID, ReferralCode: code}, nil
}

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

// commissionStore is a minimal commission.Store for end-to-end tests.
type commissionStore struct {
	mu          sync.Mutex
	ambassadors []commission.Ambassador
	referrals   []commission.Referral
	rejections  []string // order ids
}

func (s *commissionStore) GetAmbassador(_ context.Context, id string) (*commission.Ambassador, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.ambassadors {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, commission.ErrAmbassadorNotFound
}

func (s *commissionStore) GetAmbassadorByCode(_ context.Context, code string) (*commission.Ambassador, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.ambassadors {
		if a.ReferralCode == code {
			return &a, nil
		}
	}
	return nil, commission.ErrAmbassadorNotFound
}

func (s *commissionStore) CreateReferral(_ context.Context, r *commission.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.referrals {
		if existing.OrderID == r.OrderID {
			return commission.ErrDuplicateCommission
		}
	}
	s.referrals = append(s.referrals, *r)
	return nil
}

func (s *commissionStore) ListReferrals(_ context.Context, ambassadorID string) ([]commission.Referral, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []commission.Referral
	for _, r := range s.referrals {
		if r.AmbassadorID == ambassadorID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *commissionStore) RecordRejection(_ context.Context, orderID, _, _ string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections = append(s.rejections, orderID)
	return nil
}

func (s *commissionStore) ListUncommissioned(context.Context, time.Time, time.Time, int) ([]commission.Uncommissioned, error) {
	return nil, nil
}

type defaultRates struct{}

func (defaultRates) CommissionRateBP(context.Context) int64             { return 500 }
func (defaultRates) CommissionHoldPeriod(context.Context) time.Duration { return 14 * 24 * time.Hour }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingOrder(ref string, totalCents int64, referral string) *order.Order {
	now := time.Now().UTC()
	return &order.Order{
		ID:             "o-" + ref,
		Number:         "ORD-20240101-" + ref,
		TransactionRef: ref,
		CustomerID:     uuid.New(),
		Status:         order.StatusPending,
		SubtotalCents:  totalCents,
		TotalCents:     totalCents,
		Currency:       money.ETB,
		ReferralCode:   referral,
		Gateway:        "chapa",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

type harness struct {
	orders      *ordertest.MemoryStore
	gw          *fakeGateway
	commissions *recordingCommissions
	publisher   *recordingPublisher
	engine      *Engine
}

func newHarness(verifiedAmount int64) *harness {
	h := &harness{
		orders:      ordertest.NewMemoryStore(),
		gw:          newFakeGateway(verifiedAmount),
		commissions: &recordingCommissions{},
		publisher:   &recordingPublisher{},
	}
	h.engine = NewEngine(h.orders, h.commissions, h.publisher, Config{AmountToleranceMinor: 1}, discardLogger())
	return h
}

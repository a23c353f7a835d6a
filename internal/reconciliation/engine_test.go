package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/events"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/money"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/gateway"
	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/order"
)

func TestGuard(t *testing.T) {
	h := newHarness(100000)
	h.orders.Put(pendingOrder("TX-1", 100000, ""))
	paid := pendingOrder("TX-2", 100000, "")
	paid.Status = order.StatusShipped
	h.orders.Put(paid)

	g := NewGuard(h.orders)
	ctx := context.Background()

	done, err := g.IsAlreadyProcessed(ctx, "TX-1")
	require.NoError(t, err)
	assert.False(t, done)

	done, err = g.IsAlreadyProcessed(ctx, "TX-2")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = g.IsAlreadyProcessed(ctx, "TX-unknown")
	require.NoError(t, err)
	assert.False(t, done)

	h.orders.Err = errors.New("db down")
	_, err = g.IsAlreadyProcessed(ctx, "TX-1")
	assert.Error(t, err)
}

func TestProcess_Confirms(t *testing.T) {
	h := newHarness(100000)
	h.orders.Put(pendingOrder("TX-1", 100000, "AMB-1"))

	res, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, "o-TX-1", res.OrderID)
	assert.Equal(t, order.StatusPaid, h.orders.Status("TX-1"))
	assert.Equal(t, int32(1), h.commissions.calls.Load())
	assert.Equal(t, []string{events.EventPaymentConfirmed}, h.publisher.types())
}

func TestProcess_InvalidSignatureTouchesNothing(t *testing.T) {
	h := newHarness(100000)
	h.orders.Put(pendingOrder("TX-1", 100000, ""))

	for _, sig := range []string{"", "bad", "GOOD"} {
		_, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), sig)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	}

	assert.Zero(t, h.gw.verifyCalls.Load())
	assert.Zero(t, h.orders.Writes)
	assert.Equal(t, order.StatusPending, h.orders.Status("TX-1"))
}

func TestProcess_Malformed(t *testing.T) {
	h := newHarness(100000)
	_, err := h.engine.Process(context.Background(), h.gw, []byte("garbage"), goodSignature)
	assert.ErrorIs(t, err, gateway.ErrMalformedNotification)
}

func TestProcess_IgnoresNonSuccess(t *testing.T) {
	h := newHarness(100000)
	h.orders.Put(pendingOrder("TX-1", 100000, ""))

	res, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:failed"), goodSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Zero(t, h.gw.verifyCalls.Load())
	assert.Equal(t, order.StatusPending, h.orders.Status("TX-1"))
}

func TestProcess_DuplicateSkipsVerification(t *testing.T) {
	h := newHarness(100000)
	h.orders.Put(pendingOrder("TX-1", 100000, "AMB-1"))

	first, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
	require.NoError(t, err)
	require.Equal(t, OutcomeConfirmed, first.Outcome)

	second, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)

	assert.Equal(t, int32(1), h.gw.verifyCalls.Load())
	assert.Equal(t, int32(1), h.commissions.calls.Load())
	assert.Equal(t, 1, h.orders.Writes)
}

func TestProcess_VerificationFailures(t *testing.T) {
	t.Run("not verified", func(t *testing.T) {
		h := newHarness(100000)
		h.gw.verified = false
		h.orders.Put(pendingOrder("TX-1", 100000, ""))

		_, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
		assert.ErrorIs(t, err, ErrVerificationFailed)
		assert.Equal(t, order.StatusPending, h.orders.Status("TX-1"))
	})

	t.Run("provider unavailable", func(t *testing.T) {
		h := newHarness(100000)
		h.gw.verifyErr = gateway.ErrUnavailable
		h.orders.Put(pendingOrder("TX-1", 100000, ""))

		_, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
		assert.ErrorIs(t, err, gateway.ErrUnavailable)
		assert.Equal(t, order.StatusPending, h.orders.Status("TX-1"))
	})

	t.Run("deadline", func(t *testing.T) {
		h := newHarness(100000)
		h.gw.verifyErr = context.DeadlineExceeded
		h.orders.Put(pendingOrder("TX-1", 100000, ""))

		_, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
		assert.ErrorIs(t, err, gateway.ErrUnavailable)
	})
}

func TestProcess_NoPendingOrder(t *testing.T) {
	h := newHarness(100000)

	_, err := h.engine.Process(context.Background(), h.gw, []byte("TX-404:success"), goodSignature)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, int32(1), h.gw.verifyCalls.Load())
}

func TestProcess_WrongGateway(t *testing.T) {
	h := newHarness(100000)
	o := pendingOrder("TX-1", 100000, "")
	o.Gateway = "telebirr"
	h.orders.Put(o)

	_, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Equal(t, order.StatusPending, h.orders.Status("TX-1"))
}

func TestProcess_AmountTolerance(t *testing.T) {
	tests := []struct {
		name     string
		verified money.Money
		ok       bool
	}{
		{"exact", money.New(100000, money.ETB), true},
		{"one over", money.New(100001, money.ETB), true},
		{"one under", money.New(99999, money.ETB), true},
		{"two over", money.New(100002, money.ETB), false},
		{"two under", money.New(99998, money.ETB), false},
		{"underpaid", money.New(100, money.ETB), false},
		{"other currency", money.New(100000, money.USD), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(0)
			h.gw.amount = tt.verified
			h.orders.Put(pendingOrder("TX-1", 100000, "AMB-1"))

			res, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, OutcomeConfirmed, res.Outcome)
				assert.Equal(t, order.StatusPaid, h.orders.Status("TX-1"))
				return
			}

			assert.ErrorIs(t, err, ErrAmountMismatch)
			assert.Equal(t, order.StatusPending, h.orders.Status("TX-1"))
			assert.Zero(t, h.commissions.calls.Load())
			assert.Equal(t, []string{events.EventPaymentAmountMismatch}, h.publisher.types())
		})
	}
}

func TestProcess_ZeroTolerance(t *testing.T) {
	h := newHarness(100001)
	h.engine = NewEngine(h.orders, h.commissions, h.publisher, Config{AmountToleranceMinor: 0}, discardLogger())
	h.orders.Put(pendingOrder("TX-1", 100000, ""))

	_, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
	assert.ErrorIs(t, err, ErrAmountMismatch)
}

func TestProcess_CommissionFailureKeepsPayment(t *testing.T) {
	h := newHarness(100000)
	h.commissions.err = errors.New("ambassador lookup timed out")
	h.orders.Put(pendingOrder("TX-1", 100000, "AMB-1"))

	res, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
	require.NoError(t, err)

	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Error(t, res.CommissionErr)
	assert.Equal(t, order.StatusPaid, h.orders.Status("TX-1"))
	assert.Equal(t, []string{events.EventPaymentConfirmed, events.EventCommissionRejected}, h.publisher.types())
}

func TestProcess_NoReferralNoCommission(t *testing.T) {
	h := newHarness(100000)
	h.orders.Put(pendingOrder("TX-1", 100000, ""))

	_, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
	require.NoError(t, err)
	assert.Zero(t, h.commissions.calls.Load())
}

func TestProcess_ConcurrentDuplicateDelivery(t *testing.T) {
	h := newHarness(100000)
	h.orders.Put(pendingOrder("TX-1", 100000, "AMB-1"))

	const deliveries = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	start := make(chan struct{})
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := h.engine.Process(context.Background(), h.gw, []byte("TX-1:success"), goodSignature)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, outcomes[OutcomeConfirmed])
	assert.Equal(t, deliveries-1, outcomes[OutcomeDuplicate])
	assert.Equal(t, int32(1), h.commissions.calls.Load())
	assert.Equal(t, 1, h.orders.Writes)
	assert.Equal(t, order.StatusPaid, h.orders.Status("TX-1"))
}

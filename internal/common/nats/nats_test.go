package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/NathanielGetachew/t2-e-commerce-mvp-sub000/internal/common/events"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "events.payment.confirmed", Subject(events.EventPaymentConfirmed))
	assert.Equal(t, "events.commission.rejected", Subject(events.EventCommissionRejected))
}

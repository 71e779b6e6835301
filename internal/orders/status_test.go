package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusCancelled},
		{StatusConfirmed, StatusProcessing},
		{StatusConfirmed, StatusCancelled},
		{StatusProcessing, StatusShipped},
		{StatusProcessing, StatusCancelled},
		{StatusShipped, StatusDelivered},
	}
	all := []Status{StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

	ok := map[[2]Status]bool{}
	for _, a := range allowed {
		ok[a] = true
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, ok[[2]Status{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.False(t, CanTransition("bogus", StatusConfirmed))
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusShipped.Terminal())
	assert.False(t, Status("bogus").Terminal())
	assert.False(t, Status("bogus").Valid())
}

func TestCanTransitionReservation(t *testing.T) {
	for _, to := range []ReservationStatus{ReservationCommitted, ReservationReleased, ReservationExpired} {
		assert.True(t, CanTransitionReservation(ReservationReserved, to))
		assert.False(t, CanTransitionReservation(to, ReservationReserved))
		assert.False(t, CanTransitionReservation(to, ReservationReleased))
	}
	assert.False(t, CanTransitionReservation(ReservationReserved, ReservationReserved))
}

func TestCanTransitionQueue(t *testing.T) {
	assert.True(t, CanTransitionQueue(QueuePending, QueueProcessing))
	assert.True(t, CanTransitionQueue(QueueRetry, QueueProcessing))
	assert.True(t, CanTransitionQueue(QueueProcessing, QueueRetry))
	assert.False(t, CanTransitionQueue(QueuePending, QueueCompleted))
	assert.False(t, CanTransitionQueue(QueueCompleted, QueueProcessing))
	assert.False(t, CanTransitionQueue(QueueFailed, QueueRetry))
}

func TestVerificationCleared(t *testing.T) {
	assert.True(t, VerificationNotRequired.Cleared())
	assert.True(t, VerificationVerified.Cleared())
	assert.False(t, VerificationPending.Cleared())
	assert.False(t, VerificationUnderReview.Cleared())
	assert.False(t, VerificationRejected.Cleared())
}

func TestStockKey_Order(t *testing.T) {
	a := StockKey{ProductID: "p1"}
	b := StockKey{ProductID: "p1", VariantID: "v1"}
	c := StockKey{ProductID: "p2"}
	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.Equal(t, "p1/v1", b.String())
	assert.Equal(t, "p2", c.String())
}

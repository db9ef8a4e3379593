package reservations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingAmount(t *testing.T) {
	assert.InDelta(t, 8.00, BookingAmount(at(10, 0), at(11, 0), 50, 0.20), 1e-9)
	assert.InDelta(t, 4.00, BookingAmount(at(10, 0), at(10, 30), 50, 0.20), 1e-9)

	// sub-minute noise rounds to whole minutes
	assert.Equal(t, 60, DurationMinutes(at(10, 0), at(11, 0).Add(20*time.Second)))
	assert.Equal(t, 61, DurationMinutes(at(10, 0), at(11, 0).Add(40*time.Second)))
}

func TestRentalAmount(t *testing.T) {
	start := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

	q, err := RentalAmount(CategoryPortable, start, start.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, 25.0, q.DailyRate)
	assert.Equal(t, 3, q.Days)
	assert.InDelta(t, 75.0, q.TotalAmount, 1e-9)
	assert.InDelta(t, 15.0, q.Deposit, 1e-9)

	q, err = RentalAmount(CategoryFastCharge, start, start.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, q.Days, "a started day is charged in full")
	assert.InDelta(t, 100.0, q.TotalAmount, 1e-9)

	_, err = RentalAmount("Mystery", start, start.AddDate(0, 0, 1))
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestDailyRatesAreDistinct(t *testing.T) {
	seen := map[float64]string{}
	for _, c := range []string{CategoryPortable, CategoryWallMounted, CategoryFastCharge} {
		r, err := DailyRate(c)
		require.NoError(t, err)
		_, dup := seen[r]
		assert.False(t, dup, c)
		seen[r] = c
	}
}

func TestSlotAmount(t *testing.T) {
	p := 15.0
	assert.Equal(t, 15.0, SlotAmount(&p, 10, 3))
	assert.Equal(t, 30.0, SlotAmount(nil, 10, 3))
	assert.Equal(t, 10.0, SlotAmount(nil, 10, 0))
}

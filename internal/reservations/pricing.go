package reservations

import (
	"fmt"
	"math"
	"time"
)

// EfficiencyFactor discounts nameplate power to delivered energy.
const EfficiencyFactor = 0.8

// DepositRate is the share of a rental total held as deposit.
const DepositRate = 0.2

// Rental unit categories with their daily rate.
const (
	CategoryPortable    = "Portable"
	CategoryWallMounted = "Wall-Mounted"
	CategoryFastCharge  = "Fast-Charge"
)

var rentalDailyRates = map[string]float64{
	CategoryPortable:    25,
	CategoryWallMounted: 35,
	CategoryFastCharge:  50,
}

// DurationMinutes is the whole-minute length of [start,end).
func DurationMinutes(start, end time.Time) int {
	return int(math.Round(end.Sub(start).Minutes()))
}

// BookingAmount = hours * kW * efficiency * price per kWh. No currency
// rounding here; that happens once when the amount is sent to the processor.
func BookingAmount(start, end time.Time, powerKW, pricePerKWh float64) float64 {
	minutes := DurationMinutes(start, end)
	return float64(minutes) / 60 * powerKW * EfficiencyFactor * pricePerKWh
}

type RentalQuote struct {
	DailyRate   float64
	Days        int
	TotalAmount float64
	Deposit     float64
}

// DailyRate returns the fixed rate of a unit category.
func DailyRate(category string) (float64, error) {
	rate, ok := rentalDailyRates[category]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return rate, nil
}

// DaysBetween counts started days in [startDate,endDate).
func DaysBetween(startDate, endDate time.Time) int {
	return int(math.Ceil(endDate.Sub(startDate).Hours() / 24))
}

func RentalAmount(category string, startDate, endDate time.Time) (RentalQuote, error) {
	rate, err := DailyRate(category)
	if err != nil {
		return RentalQuote{}, err
	}
	days := DaysBetween(startDate, endDate)
	total := rate * float64(days)
	return RentalQuote{
		DailyRate:   rate,
		Days:        days,
		TotalAmount: total,
		Deposit:     DepositRate * total,
	}, nil
}

// SlotAmount is the published slot price, or the default unit price times
// the requested duration count when the slot has no catalogue entry.
func SlotAmount(published *float64, defaultUnitPrice float64, durationCount int) float64 {
	if published != nil {
		return *published
	}
	if durationCount < 1 {
		durationCount = 1
	}
	return defaultUnitPrice * float64(durationCount)
}

package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/evcharge-reservations/internal/catalog"
)

// IntervalResolver grants continuous [start,end) windows on a resource.
type IntervalResolver struct {
	Store Store
}

// CheckAndReserve inserts res if its window is free among reservations of
// the same resource whose status is in blocking. The check and the insert
// are one atomic step in the store; on conflict nothing is written.
func (ir IntervalResolver) CheckAndReserve(ctx context.Context, res *Reservation, blocking []Status) error {
	if !res.Window.Start.Before(res.Window.End) {
		return ErrInvalidWindow
	}
	return ir.Store.Insert(ctx, res, blocking)
}

// SlotResolver grants one discrete slot of one charger.
type SlotResolver struct {
	Store            Store
	DefaultUnitPrice float64
	Location         *time.Location // zone the slot labels are written in
}

type SlotRequest struct {
	StationID     string    `json:"station_id"`
	ChargerID     string    `json:"charger_id"`
	Date          time.Time `json:"date"`
	StartLabel    string    `json:"start_label"`
	DurationCount int       `json:"duration_count"` // hours, only used for ad-hoc slots
}

const labelLayout = "15:04"

func (sr SlotResolver) loc() *time.Location {
	if sr.Location == nil {
		return time.UTC
	}
	return sr.Location
}

// Resolve looks the slot up in the charger's catalogue and returns its
// window and price. A charger with an empty catalogue accepts ad-hoc slots
// priced at the default unit price per duration unit; a charger with a
// catalogue only accepts listed slots.
func (sr SlotResolver) Resolve(st *catalog.Station, req SlotRequest) (Window, float64, error) {
	ch, err := st.Charger(req.ChargerID)
	if err != nil {
		return Window{}, 0, fmt.Errorf("%w: %s/%s", ErrChargerNotFound, st.ID, req.ChargerID)
	}
	day := DayOf(req.Date)

	var (
		published *float64
		endLabel  string
	)
	if slot, ok := ch.FindSlot(req.StartLabel); ok {
		if !slot.Available {
			return Window{}, 0, fmt.Errorf("%w: slot %s closed in catalogue", ErrSlotConflict, req.StartLabel)
		}
		p := slot.Price
		published = &p
		endLabel = slot.EndLabel
	} else if len(ch.Slots) > 0 {
		return Window{}, 0, fmt.Errorf("%w: %s on charger %s", ErrSlotNotFound, req.StartLabel, req.ChargerID)
	}

	start, err := sr.at(day, req.StartLabel)
	if err != nil {
		return Window{}, 0, err
	}
	var end time.Time
	if endLabel != "" {
		if end, err = sr.at(day, endLabel); err != nil {
			return Window{}, 0, err
		}
		if !end.After(start) {
			end = end.Add(24 * time.Hour)
		}
	} else {
		n := req.DurationCount
		if n < 1 {
			n = 1
		}
		end = start.Add(time.Duration(n) * time.Hour)
		endLabel = end.In(sr.loc()).Format(labelLayout)
	}

	w := Window{
		Start: start.UTC(),
		End:   end.UTC(),
		Slot: &SlotRef{
			ChargerID:  req.ChargerID,
			Date:       day,
			StartLabel: req.StartLabel,
			EndLabel:   endLabel,
		},
	}
	return w, SlotAmount(published, sr.DefaultUnitPrice, req.DurationCount), nil
}

func (sr SlotResolver) at(day time.Time, label string) (time.Time, error) {
	t, err := time.Parse(labelLayout, label)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad slot label %q", ErrInvalidWindow, label)
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, sr.loc()), nil
}

// CheckAndReserve resolves the slot, prices it onto res and inserts res if
// no confirmed or in-progress reservation holds the same
// (resource, charger, day, start label).
func (sr SlotResolver) CheckAndReserve(ctx context.Context, st *catalog.Station, res *Reservation, req SlotRequest) (float64, error) {
	w, price, err := sr.Resolve(st, req)
	if err != nil {
		return 0, err
	}
	res.Window = w
	res.Amount = price
	if err := sr.Store.Insert(ctx, res, bookingMachine.BlockingStatuses()); err != nil {
		return 0, err
	}
	return price, nil
}

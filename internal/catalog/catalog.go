// Package catalog is the read side of the listing layer: stations, their
// chargers and published slot catalogues, and rentable hardware units.
// The reservation engine only ever reads from it.
package catalog

import (
	"context"
	"errors"
)

var (
	ErrStationNotFound = errors.New("station not found")
	ErrChargerNotFound = errors.New("charger not found")
	ErrUnitNotFound    = errors.New("rental unit not found")
)

type Station struct {
	ID          string
	OwnerRef    string
	PowerKW     float64
	PricePerKWh float64
	Available   bool
	Chargers    map[string]Charger
}

type Charger struct {
	ID    string
	Slots []Slot // published catalogue; empty means ad-hoc slots only
}

// Slot is one entry of a charger's published catalogue. Labels are "HH:MM".
type Slot struct {
	StartLabel string
	EndLabel   string
	Price      float64
	Available  bool
}

type RentalUnit struct {
	ID        string
	OwnerRef  string
	Category  string
	Available bool
}

// Directory resolves resources by reference.
type Directory interface {
	Station(ctx context.Context, id string) (*Station, error)
	RentalUnit(ctx context.Context, id string) (*RentalUnit, error)
}

// Charger returns the named charger of the station.
func (s *Station) Charger(id string) (Charger, error) {
	c, ok := s.Chargers[id]
	if !ok {
		return Charger{}, ErrChargerNotFound
	}
	return c, nil
}

// FindSlot looks up a catalogue entry by its start label.
func (c Charger) FindSlot(startLabel string) (Slot, bool) {
	for _, s := range c.Slots {
		if s.StartLabel == startLabel {
			return s, true
		}
	}
	return Slot{}, false
}

package catalog

import (
	"context"
	"sync"
)

// MemoryDirectory is a Directory backed by maps. Used by tests and local runs.
type MemoryDirectory struct {
	mu       sync.RWMutex
	stations map[string]*Station
	units    map[string]*RentalUnit
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		stations: map[string]*Station{},
		units:    map[string]*RentalUnit{},
	}
}

func (d *MemoryDirectory) PutStation(s Station) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := s
	d.stations[s.ID] = &cp
}

func (d *MemoryDirectory) PutUnit(u RentalUnit) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := u
	d.units[u.ID] = &cp
}

func (d *MemoryDirectory) Station(_ context.Context, id string) (*Station, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.stations[id]
	if !ok {
		return nil, ErrStationNotFound
	}
	cp := *s
	return &cp, nil
}

func (d *MemoryDirectory) RentalUnit(_ context.Context, id string) (*RentalUnit, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.units[id]
	if !ok {
		return nil, ErrUnitNotFound
	}
	cp := *u
	return &cp, nil
}

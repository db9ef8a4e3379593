package reservations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/evcharge-reservations/internal/catalog"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingEmitter struct {
	mu  sync.Mutex
	got []StatusChanged
}

func (r *recordingEmitter) Emit(_ context.Context, ev StatusChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
}

func (r *recordingEmitter) events() []StatusChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusChanged(nil), r.got...)
}

type fixture struct {
	engine *Engine
	store  *MemoryStore
	dir    *catalog.MemoryDirectory
	clock  *fakeClock
	events *recordingEmitter
}

var (
	owner   = Actor{ID: "owner-1"}
	driver  = Actor{ID: "driver-1"}
	other   = Actor{ID: "driver-2"}
	admin   = Actor{ID: "ops", Admin: true}
	nobody  = Actor{}
	station = "station-a"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := catalog.NewMemoryDirectory()
	dir.PutStation(catalog.Station{
		ID:          station,
		OwnerRef:    owner.ID,
		PowerKW:     50,
		PricePerKWh: 0.20,
		Available:   true,
		Chargers: map[string]catalog.Charger{
			"c1": {ID: "c1", Slots: []catalog.Slot{
				{StartLabel: "09:00", EndLabel: "10:00", Price: 15, Available: true},
				{StartLabel: "10:00", EndLabel: "11:00", Price: 15, Available: false},
				{StartLabel: "23:00", EndLabel: "00:00", Price: 9, Available: true},
			}},
			"c2": {ID: "c2"},
		},
	})
	dir.PutStation(catalog.Station{ID: "station-closed", OwnerRef: owner.ID, PowerKW: 22, PricePerKWh: 0.3})
	dir.PutUnit(catalog.RentalUnit{ID: "unit-1", OwnerRef: owner.ID, Category: CategoryPortable, Available: true})
	dir.PutUnit(catalog.RentalUnit{ID: "unit-x", OwnerRef: owner.ID, Category: "Mystery", Available: true})

	f := &fixture{
		store:  NewMemoryStore(),
		dir:    dir,
		clock:  &fakeClock{t: t0},
		events: &recordingEmitter{},
	}
	f.engine = &Engine{
		Store:     f.store,
		Directory: dir,
		Events:    f.events,
		Clock:     f.clock,
		Policy:    DefaultPolicy(),
	}
	return f
}

func at(hour, min int) time.Time {
	return time.Date(2026, 5, 1, hour, min, 0, 0, time.UTC)
}

func (f *fixture) book(t *testing.T, start, end time.Time) *Reservation {
	t.Helper()
	r, err := f.engine.ReserveInterval(context.Background(), driver, IntervalRequest{StationID: station, Start: start, End: end})
	if err != nil {
		t.Fatalf("book %s-%s: %v", start.Format("15:04"), end.Format("15:04"), err)
	}
	return r
}

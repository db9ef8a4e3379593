package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDirectory reads the listing tables owned by the CRUD layer.
type PostgresDirectory struct{ DB *pgxpool.Pool }

func (d *PostgresDirectory) Station(ctx context.Context, id string) (*Station, error) {
	s := Station{ID: id, Chargers: map[string]Charger{}}
	err := d.DB.QueryRow(ctx, `
		SELECT owner_ref, power_kw, price_per_kwh, available
		FROM stations WHERE id=$1`, id).Scan(&s.OwnerRef, &s.PowerKW, &s.PricePerKWh, &s.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrStationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load station %s: %w", id, err)
	}

	rows, err := d.DB.Query(ctx, `
		SELECT c.id, cs.start_label, cs.end_label, cs.price, cs.available
		FROM chargers c
		LEFT JOIN charger_slots cs ON cs.station_id = c.station_id AND cs.charger_id = c.id
		WHERE c.station_id=$1
		ORDER BY c.id, cs.start_label`, id)
	if err != nil {
		return nil, fmt.Errorf("load chargers %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			chargerID  string
			start, end *string
			price      *float64
			available  *bool
		)
		if err := rows.Scan(&chargerID, &start, &end, &price, &available); err != nil {
			return nil, err
		}
		c := s.Chargers[chargerID]
		c.ID = chargerID
		if start != nil {
			c.Slots = append(c.Slots, Slot{
				StartLabel: *start,
				EndLabel:   deref(end),
				Price:      derefF(price),
				Available:  available != nil && *available,
			})
		}
		s.Chargers[chargerID] = c
	}
	return &s, rows.Err()
}

func (d *PostgresDirectory) RentalUnit(ctx context.Context, id string) (*RentalUnit, error) {
	u := RentalUnit{ID: id}
	err := d.DB.QueryRow(ctx, `SELECT owner_ref, category, available FROM rental_units WHERE id=$1`, id).
		Scan(&u.OwnerRef, &u.Category, &u.Available)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load rental unit %s: %w", id, err)
	}
	return &u, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefF(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

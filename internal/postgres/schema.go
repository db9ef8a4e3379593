package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS stations (
	id            TEXT PRIMARY KEY,
	owner_ref     TEXT NOT NULL,
	power_kw      DOUBLE PRECISION NOT NULL,
	price_per_kwh DOUBLE PRECISION NOT NULL,
	available     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS chargers (
	station_id TEXT NOT NULL REFERENCES stations(id),
	id         TEXT NOT NULL,
	PRIMARY KEY (station_id, id)
);

CREATE TABLE IF NOT EXISTS charger_slots (
	station_id  TEXT NOT NULL,
	charger_id  TEXT NOT NULL,
	start_label TEXT NOT NULL,
	end_label   TEXT NOT NULL,
	price       DOUBLE PRECISION,
	available   BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (station_id, charger_id, start_label),
	FOREIGN KEY (station_id, charger_id) REFERENCES chargers(station_id, id)
);

CREATE TABLE IF NOT EXISTS rental_units (
	id        TEXT PRIMARY KEY,
	owner_ref TEXT NOT NULL,
	category  TEXT NOT NULL,
	available BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS reservations (
	id                 TEXT PRIMARY KEY,
	kind               TEXT NOT NULL,
	subject_ref        TEXT NOT NULL,
	resource_ref       TEXT NOT NULL,
	window_start       TIMESTAMPTZ NOT NULL,
	window_end         TIMESTAMPTZ NOT NULL,
	slot_charger_id    TEXT,
	slot_date          DATE,
	slot_start_label   TEXT,
	slot_end_label     TEXT,
	amount             DOUBLE PRECISION NOT NULL,
	deposit            DOUBLE PRECISION NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	payment_status     TEXT NOT NULL,
	payment_intent_ref TEXT,
	cancel_reason      TEXT,
	cancelled_at       TIMESTAMPTZ,
	completed_at       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS reservations_resource_idx
	ON reservations (resource_ref, kind, status);
CREATE INDEX IF NOT EXISTS reservations_subject_idx
	ON reservations (subject_ref, resource_ref) WHERE status = 'completed';
`

// Migrate creates the tables if they do not exist yet.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}

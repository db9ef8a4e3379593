package redisx

import "time"

const (
	// Dedup of processed webhook events: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Cached reservation status: reservation_status:{reservation_id} -> JSON
	KeyReservationStatus = "reservation_status:%s"

	// Default pub/sub channel prefix; the relay appends resourceRef.
	ChannelResourcePrefix = "reservations:resource:"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReservationStore persists reservations in Postgres. Every write that
// depends on a conflict check runs in one transaction holding an advisory
// lock on the reservation's resource, so check and write cannot interleave
// with another writer on the same resource.
type ReservationStore struct{ DB *pgxpool.Pool }

const columns = `id, kind, subject_ref, resource_ref, window_start, window_end,
	slot_charger_id, slot_date, slot_start_label, slot_end_label,
	amount, deposit, status, payment_status, payment_intent_ref,
	cancel_reason, cancelled_at, completed_at, created_at, updated_at`

func lockScope(ctx context.Context, tx pgx.Tx, kind reservations.Kind, resourceRef string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`,
		string(kind)+":"+resourceRef)
	return err
}

func statusStrings(ss []reservations.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// conflictIn returns the id of a blocking reservation colliding with r, or "".
func conflictIn(ctx context.Context, tx pgx.Tx, r *reservations.Reservation, blocking []reservations.Status) (string, error) {
	if len(blocking) == 0 {
		return "", nil
	}
	var (
		id  string
		err error
	)
	if s := r.Window.Slot; s != nil {
		err = tx.QueryRow(ctx, `
			SELECT id FROM reservations
			WHERE resource_ref=$1 AND kind=$2 AND status = ANY($3) AND id <> $4
			  AND slot_charger_id=$5 AND slot_date=$6 AND slot_start_label=$7
			ORDER BY created_at LIMIT 1`,
			r.ResourceRef, string(r.Kind), statusStrings(blocking), r.ID,
			s.ChargerID, reservations.DayOf(s.Date), s.StartLabel).Scan(&id)
	} else {
		err = tx.QueryRow(ctx, `
			SELECT id FROM reservations
			WHERE resource_ref=$1 AND kind=$2 AND status = ANY($3) AND id <> $4
			  AND slot_charger_id IS NULL
			  AND window_start < $6 AND $5 < window_end
			ORDER BY created_at LIMIT 1`,
			r.ResourceRef, string(r.Kind), statusStrings(blocking), r.ID,
			r.Window.Start, r.Window.End).Scan(&id)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (s *ReservationStore) Insert(ctx context.Context, r *reservations.Reservation, blocking []reservations.Status) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockScope(ctx, tx, r.Kind, r.ResourceRef); err != nil {
		return err
	}
	id, err := conflictIn(ctx, tx, r, blocking)
	if err != nil {
		return err
	}
	if id != "" {
		return &reservations.ConflictError{ReservationID: id}
	}

	var chargerID, startLabel, endLabel *string
	var slotDate *time.Time
	if sl := r.Window.Slot; sl != nil {
		d := reservations.DayOf(sl.Date)
		chargerID, slotDate, startLabel, endLabel = &sl.ChargerID, &d, &sl.StartLabel, &sl.EndLabel
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations(`+columns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NULL,NULL,NULL,$16,$17)`,
		r.ID, string(r.Kind), r.SubjectRef, r.ResourceRef, r.Window.Start, r.Window.End,
		chargerID, slotDate, startLabel, endLabel,
		r.Amount, r.Deposit, string(r.Status), string(r.PaymentStatus), nullable(r.PaymentIntentRef),
		r.CreatedAt, r.UpdatedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *ReservationStore) Get(ctx context.Context, id string) (*reservations.Reservation, error) {
	return scanOne(s.DB.QueryRow(ctx, `SELECT `+columns+` FROM reservations WHERE id=$1`, id))
}

func (s *ReservationStore) UpdateStatus(ctx context.Context, id string, ch reservations.StatusChange) (*reservations.Reservation, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanOne(tx.QueryRow(ctx, `SELECT `+columns+` FROM reservations WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	if len(ch.Guard) > 0 {
		if err := lockScope(ctx, tx, cur.Kind, cur.ResourceRef); err != nil {
			return nil, err
		}
		cid, err := conflictIn(ctx, tx, cur, ch.Guard)
		if err != nil {
			return nil, err
		}
		if cid != "" {
			return nil, &reservations.ConflictError{ReservationID: cid}
		}
	}

	var reason *string
	var cancelledAt *time.Time
	if c := ch.Cancellation; c != nil {
		reason, cancelledAt = &c.Reason, &c.At
	}
	ct, err := tx.Exec(ctx, `
		UPDATE reservations
		SET status=$3,
		    cancel_reason=COALESCE($4, cancel_reason),
		    cancelled_at=COALESCE($5, cancelled_at),
		    completed_at=COALESCE($6, completed_at),
		    updated_at=$7
		WHERE id=$1 AND status=$2`,
		id, string(ch.From), string(ch.To), reason, cancelledAt, ch.CompletedAt, ch.At)
	if err != nil {
		return nil, err
	}
	if ct.RowsAffected() != 1 {
		return nil, reservations.ErrInvalidTransition
	}
	out, err := scanOne(tx.QueryRow(ctx, `SELECT `+columns+` FROM reservations WHERE id=$1`, id))
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func (s *ReservationStore) BindIntent(ctx context.Context, id, intentRef string, reopen bool, at time.Time) (*reservations.Reservation, error) {
	terminal := terminalStatuses()
	out, err := scanOne(s.DB.QueryRow(ctx, `
		UPDATE reservations
		SET payment_intent_ref=$2, payment_status='pending', updated_at=$5
		WHERE id=$1 AND NOT (status = ANY($3))
		  AND (payment_status='pending' OR ($4 AND payment_status='failed'))
		RETURNING `+columns, id, intentRef, terminal, reopen, at))
	if errors.Is(err, reservations.ErrNotFound) {
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, reservations.ErrInvalidTransition
	}
	return out, err
}

func (s *ReservationStore) SettlePayment(ctx context.Context, id, intentRef string, outcome reservations.PaymentStatus, at time.Time) (*reservations.Reservation, bool, error) {
	out, err := scanOne(s.DB.QueryRow(ctx, `
		UPDATE reservations
		SET payment_status=$3, updated_at=$4
		WHERE id=$1 AND payment_intent_ref=$2 AND payment_status='pending'
		  AND NOT (status = ANY($5))
		RETURNING `+columns, id, intentRef, string(outcome), at, terminalStatuses()))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, reservations.ErrNotFound) {
		return nil, false, err
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if cur.PaymentIntentRef != intentRef {
		return cur, false, reservations.ErrIntentMismatch
	}
	return cur, false, nil
}

func (s *ReservationStore) HasCompletedBooking(ctx context.Context, subjectRef, resourceRef string) (bool, error) {
	var ok bool
	err := s.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE kind='booking' AND subject_ref=$1 AND resource_ref=$2 AND status='completed'
		)`, subjectRef, resourceRef).Scan(&ok)
	return ok, err
}

func terminalStatuses() []string {
	return []string{
		string(reservations.StatusCompleted),
		string(reservations.StatusCancelled),
		string(reservations.StatusNoShow),
		string(reservations.StatusRejected),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanOne(row pgx.Row) (*reservations.Reservation, error) {
	var (
		r                               reservations.Reservation
		kind, status, payStatus         string
		chargerID, startLabel, endLabel *string
		slotDate                        *time.Time
		intentRef, reason               *string
		cancelledAt, completedAt        *time.Time
	)
	err := row.Scan(&r.ID, &kind, &r.SubjectRef, &r.ResourceRef, &r.Window.Start, &r.Window.End,
		&chargerID, &slotDate, &startLabel, &endLabel,
		&r.Amount, &r.Deposit, &status, &payStatus, &intentRef,
		&reason, &cancelledAt, &completedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reservations.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Kind = reservations.Kind(kind)
	r.Status = reservations.Status(status)
	r.PaymentStatus = reservations.PaymentStatus(payStatus)
	r.Window.Start, r.Window.End = r.Window.Start.UTC(), r.Window.End.UTC()
	r.CreatedAt, r.UpdatedAt = r.CreatedAt.UTC(), r.UpdatedAt.UTC()
	if chargerID != nil {
		sl := &reservations.SlotRef{ChargerID: *chargerID}
		if slotDate != nil {
			sl.Date = reservations.DayOf(*slotDate)
		}
		if startLabel != nil {
			sl.StartLabel = *startLabel
		}
		if endLabel != nil {
			sl.EndLabel = *endLabel
		}
		r.Window.Slot = sl
	}
	if intentRef != nil {
		r.PaymentIntentRef = *intentRef
	}
	if cancelledAt != nil {
		c := reservations.Cancellation{At: cancelledAt.UTC()}
		if reason != nil {
			c.Reason = *reason
		}
		r.Cancellation = &c
	}
	if completedAt != nil {
		t := completedAt.UTC()
		r.CompletedAt = &t
	}
	return &r, nil
}

var _ reservations.Store = (*ReservationStore)(nil)

package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/evcharge-reservations/internal/payments"
	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	ReservationID string `json:"conflicting_reservation_id,omitempty"`
}

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{reservations.ErrSlotConflict, http.StatusConflict, "slot_conflict"},
	{reservations.ErrSlotNotFound, http.StatusNotFound, "slot_not_found"},
	{reservations.ErrChargerNotFound, http.StatusNotFound, "charger_not_found"},
	{reservations.ErrNotFound, http.StatusNotFound, "not_found"},
	{reservations.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{reservations.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{reservations.ErrCancellationWindowExpired, http.StatusUnprocessableEntity, "cancellation_window_expired"},
	{reservations.ErrPaymentNotCompleted, http.StatusUnprocessableEntity, "payment_not_completed"},
	{reservations.ErrIntentMismatch, http.StatusConflict, "intent_mismatch"},
	{reservations.ErrProcessorUnavailable, http.StatusServiceUnavailable, "processor_unavailable"},
	{reservations.ErrInvalidWindow, http.StatusBadRequest, "invalid_window"},
	{reservations.ErrStartInPast, http.StatusBadRequest, "start_in_past"},
	{reservations.ErrUnknownCategory, http.StatusBadRequest, "unknown_category"},
	{reservations.ErrResourceUnavailable, http.StatusConflict, "resource_unavailable"},
	{payments.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	for _, e := range errorCodes {
		if !errors.Is(err, e.err) {
			continue
		}
		body := errorBody{Error: err.Error(), Code: e.code}
		var ce *reservations.ConflictError
		if errors.As(err, &ce) {
			body.ReservationID = ce.ReservationID
		}
		if e.status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "5")
		}
		writeJSON(w, e.status, body)
		return
	}
	log.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
}

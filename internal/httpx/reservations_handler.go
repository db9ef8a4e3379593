package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ariefcatur/evcharge-reservations/internal/payments"
	"github.com/ariefcatur/evcharge-reservations/internal/redisx"
	"github.com/ariefcatur/evcharge-reservations/internal/reservations"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// StatusCache is the fast path for status polling. Nil disables it.
type StatusCache interface {
	Get(ctx context.Context, reservationID string) (redisx.CachedStatus, bool, error)
	Put(ctx context.Context, reservationID string, cs redisx.CachedStatus) error
}

type ReservationsHandler struct {
	Engine    *reservations.Engine
	Payments  *payments.Coordinator
	Cache     StatusCache
	JWTSecret string
	Log       *zap.Logger
}

type TransitionReq struct {
	Status reservations.Status `json:"status"`
	Reason string              `json:"reason"`
}

type ConfirmReq struct {
	IntentRef string `json:"intent_ref"`
}

func (h *ReservationsHandler) Register(r chi.Router) {
	// signed by the processor, not by a user token
	r.Post("/v1/payments/webhook", h.webhook)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.JWTSecret))
		r.Post("/v1/bookings", h.reserveInterval)
		r.Post("/v1/bookings/slots", h.reserveSlot)
		r.Post("/v1/rentals", h.requestRental)
		r.Get("/v1/reservations/{id}", h.getReservation)
		r.Get("/v1/reservations/{id}/status", h.getStatus)
		r.Post("/v1/reservations/{id}/transitions", h.transition)
		r.Post("/v1/reservations/{id}/payment-intent", h.bindIntent)
		r.Post("/v1/payments/confirm", h.confirm)
		r.Get("/v1/stations/{id}/review-eligibility", h.reviewEligibility)
	})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	return true
}

func (h *ReservationsHandler) reserveInterval(w http.ResponseWriter, r *http.Request) {
	var req reservations.IntervalRequest
	if !decode(w, r, &req) {
		return
	}
	if req.StationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing station_id"})
		return
	}
	res, err := h.Engine.ReserveInterval(r.Context(), ActorFrom(r.Context()), req)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *ReservationsHandler) reserveSlot(w http.ResponseWriter, r *http.Request) {
	var req reservations.SlotRequest
	if !decode(w, r, &req) {
		return
	}
	if req.StationID == "" || req.ChargerID == "" || req.StartLabel == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}
	res, err := h.Engine.ReserveSlot(r.Context(), ActorFrom(r.Context()), req)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *ReservationsHandler) requestRental(w http.ResponseWriter, r *http.Request) {
	var req reservations.RentalRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UnitID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing unit_id"})
		return
	}
	res, err := h.Engine.RequestRental(r.Context(), ActorFrom(r.Context()), req)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *ReservationsHandler) getReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	actor := ActorFrom(r.Context())
	if !actor.Admin && actor.ID != res.SubjectRef {
		writeError(w, h.log(), reservations.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ReservationsHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if cs, ok, err := h.Cache.Get(ctx, id); err == nil && ok {
			writeJSON(w, http.StatusOK, cs)
			return
		}
	}
	res, err := h.Engine.Get(ctx, id)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	cs := redisx.CachedStatus{
		Status:        string(res.Status),
		PaymentStatus: string(res.PaymentStatus),
		UpdatedAt:     res.UpdatedAt,
	}
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, id, cs); err != nil {
			h.log().Debug("status cache put failed", zap.String("reservation_id", id), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *ReservationsHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req TransitionReq
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Engine.Transition(r.Context(), chi.URLParam(r, "id"), req.Status,
		ActorFrom(r.Context()), reservations.TransitionData{Reason: req.Reason})
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ReservationsHandler) bindIntent(w http.ResponseWriter, r *http.Request) {
	b, err := h.Payments.BindIntent(r.Context(), chi.URLParam(r, "id"), ActorFrom(r.Context()))
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *ReservationsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmReq
	if !decode(w, r, &req) {
		return
	}
	if req.IntentRef == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing intent_ref"})
		return
	}
	res, err := h.Payments.ConfirmByClient(r.Context(), req.IntentRef)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

const maxWebhookBody = 64 << 10

func (h *ReservationsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if err := h.Payments.ReconcileFromWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		writeError(w, h.log(), err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *ReservationsHandler) reviewEligibility(w http.ResponseWriter, r *http.Request) {
	stationID := chi.URLParam(r, "id")
	ok, err := h.Engine.HasCompletedBooking(r.Context(), ActorFrom(r.Context()).ID, stationID)
	if err != nil {
		writeError(w, h.log(), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"station_id": stationID, "eligible": ok})
}

func (h *ReservationsHandler) log() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

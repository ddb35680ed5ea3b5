package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/auth"
	"github.com/dave999999/SmartPick1-sub001/internal/middleware"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
	"github.com/dave999999/SmartPick1-sub001/internal/pickup"
	"github.com/dave999999/SmartPick1-sub001/internal/reservation"
)

type ReservationHandler struct {
	reservations *reservation.Service
	pickups      *pickup.Service
	logger       *slog.Logger
}

func NewReservationHandler(reservations *reservation.Service, pickups *pickup.Service, logger *slog.Logger) *ReservationHandler {
	return &ReservationHandler{reservations: reservations, pickups: pickups, logger: logger}
}

type createReservationResponse struct {
	ReservationID string                  `json:"reservationId"`
	Status        model.ReservationStatus `json:"status"`
	QRCode        string                  `json:"qrCode"`
	ExpiresAt     time.Time               `json:"expiresAt"`
	Quantity      int                     `json:"quantity"`
	TotalPrice    int64                   `json:"totalPrice"`
	PointsHeld    int64                   `json:"pointsHeld"`
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OfferID  string `json:"offerId"`
		Quantity int    `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}

	res, replayed, err := h.reservations.Create(r.Context(), reservation.CreateRequest{
		OfferID:        req.OfferID,
		CustomerID:     auth.UserID(r.Context()),
		Quantity:       req.Quantity,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, createReservationResponse{
		ReservationID: res.ID,
		Status:        res.Status,
		QRCode:        res.QRCode,
		ExpiresAt:     res.ExpiresAt,
		Quantity:      res.Quantity,
		TotalPrice:    res.TotalPrice,
		PointsHeld:    res.PointsHeld,
	})
}

func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.reservations.ListByCustomer(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	res, err := h.reservations.GetForParticipant(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	res, err := h.reservations.Cancel(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reservationId": res.ID,
		"status":        res.Status,
		"cancelledAt":   res.CancelledAt,
	})
}

func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	c, err := h.pickups.Confirm(r.Context(), id, auth.UserID(r.Context()), middleware.RealIP(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Scan confirms a pickup from the code shown on the customer's screen.
func (h *ReservationHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRCode string `json:"qrCode"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	c, err := h.pickups.ConfirmByCode(r.Context(), req.QRCode, auth.UserID(r.Context()), middleware.RealIP(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *ReservationHandler) ListForPartner(w http.ResponseWriter, r *http.Request) {
	list, err := h.reservations.ListActiveByPartner(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

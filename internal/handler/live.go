package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dave999999/SmartPick1-sub001/internal/apperr"
	"github.com/dave999999/SmartPick1-sub001/internal/auth"
	"github.com/dave999999/SmartPick1-sub001/internal/events"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
	"github.com/dave999999/SmartPick1-sub001/internal/reservation"
	"github.com/dave999999/SmartPick1-sub001/internal/websocket"
)

// LiveHandler streams the pickup notification for one reservation to its
// customer. The socket closes after the single message.
type LiveHandler struct {
	reservations   *reservation.Service
	hub            *websocket.Hub
	originPatterns []string
	logger         *slog.Logger
}

func NewLiveHandler(reservations *reservation.Service, hub *websocket.Hub, originPatterns []string, logger *slog.Logger) *LiveHandler {
	return &LiveHandler{reservations: reservations, hub: hub, originPatterns: originPatterns, logger: logger}
}

func (h *LiveHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}

	res, err := h.reservations.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if res.CustomerID != auth.UserID(r.Context()) {
		writeError(w, r, h.logger, fmt.Errorf("reservation %s: %w", id, apperr.ErrNotOwner))
		return
	}
	if res.Status != model.ReservationActive {
		writeError(w, r, h.logger, fmt.Errorf("reservation is %s: %w", res.Status, apperr.ErrInvalidState))
		return
	}

	// The socket may wait for the whole pickup window; lift the server timeouts.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	websocket.Serve(h.hub, w, r, events.PickupChannel(id), 1, h.originPatterns)
}

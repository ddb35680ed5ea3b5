package handler

import (
	"log/slog"
	"net/http"

	"github.com/dave999999/SmartPick1-sub001/internal/auth"
	"github.com/dave999999/SmartPick1-sub001/internal/penalty"
)

type PenaltyHandler struct {
	engine *penalty.Engine
	logger *slog.Logger
}

func NewPenaltyHandler(engine *penalty.Engine, logger *slog.Logger) *PenaltyHandler {
	return &PenaltyHandler{engine: engine, logger: logger}
}

func (h *PenaltyHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Summary(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *PenaltyHandler) Lift(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	res, err := h.engine.LiftWithPoints(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"newBalance": res.NewBalance,
		"penalty":    res.Penalty,
	})
}

func (h *PenaltyHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	p, err := h.engine.Acknowledge(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

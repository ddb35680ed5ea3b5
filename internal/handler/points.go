package handler

import (
	"log/slog"
	"net/http"

	"github.com/dave999999/SmartPick1-sub001/internal/auth"
	"github.com/dave999999/SmartPick1-sub001/internal/ledger"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
)

type PointsHandler struct {
	ledger *ledger.Service
	logger *slog.Logger
}

func NewPointsHandler(ledgerSvc *ledger.Service, logger *slog.Logger) *PointsHandler {
	return &PointsHandler{ledger: ledgerSvc, logger: logger}
}

func ownerKind(r *http.Request) model.OwnerKind {
	if auth.HasRole(r.Context(), auth.RolePartner) {
		return model.OwnerPartner
	}
	return model.OwnerCustomer
}

func (h *PointsHandler) Account(w http.ResponseWriter, r *http.Request) {
	acct, err := h.ledger.Account(r.Context(), ownerKind(r), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ownerKind":  acct.OwnerKind,
		"ownerId":    acct.OwnerID,
		"balance":    acct.Balance,
		"escrowHeld": acct.EscrowHeld,
		"available":  acct.Available(),
	})
}

func (h *PointsHandler) History(w http.ResponseWriter, r *http.Request) {
	list, err := h.ledger.History(r.Context(), ownerKind(r), auth.UserID(r.Context()),
		queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []model.PointsHistory{}
	}
	writeJSON(w, http.StatusOK, list)
}

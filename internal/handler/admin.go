package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dave999999/SmartPick1-sub001/internal/backup"
	"github.com/dave999999/SmartPick1-sub001/internal/ledger"
	"github.com/dave999999/SmartPick1-sub001/internal/model"
	"github.com/dave999999/SmartPick1-sub001/internal/penalty"
	"github.com/dave999999/SmartPick1-sub001/internal/sweep"
)

// AdminHandler serves the internal endpoints used by schedulers and operators.
type AdminHandler struct {
	sweeper *sweep.Sweeper
	ledger  *ledger.Service
	engine  *penalty.Engine
	backups *backup.Manager
	logger  *slog.Logger
}

func NewAdminHandler(sweeper *sweep.Sweeper, ledgerSvc *ledger.Service, engine *penalty.Engine, backups *backup.Manager, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{sweeper: sweeper, ledger: ledgerSvc, engine: engine, backups: backups, logger: logger}
}

// Sweep runs one expiration sweep and returns its per-reservation results.
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	results, err := h.sweeper.Run(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// Credit adds points to an account. Reference makes retries safe: a repeated
// reference is not applied twice.
func (h *AdminHandler) Credit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerKind model.OwnerKind `json:"ownerKind"`
		OwnerID   string          `json:"ownerId"`
		Amount    int64           `json:"amount"`
		Reference string          `json:"reference"`
	}
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if req.OwnerKind == "" {
		req.OwnerKind = model.OwnerCustomer
	}
	if req.OwnerKind != model.OwnerCustomer && req.OwnerKind != model.OwnerPartner {
		badRequest(w, "ownerKind must be customer or partner")
		return
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.Reference = strings.TrimSpace(req.Reference)
	if req.OwnerID == "" || req.Reference == "" {
		badRequest(w, "ownerId and reference are required")
		return
	}

	res, err := h.ledger.Credit(r.Context(), req.OwnerKind, req.OwnerID, req.Amount, req.Reference, model.ReasonAdminAdjustment)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	acct, err := h.ledger.Account(r.Context(), req.OwnerKind, req.OwnerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": acct, "replayed": res.Replayed})
}

func (h *AdminHandler) ResetMissed(w http.ResponseWriter, r *http.Request) {
	id, ok := parseIDParam(r)
	if !ok {
		badRequest(w, "invalid id")
		return
	}
	if err := h.engine.ResetMissedPickups(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Backups reports the snapshot manager state and the stored snapshots.
func (h *AdminHandler) Backups(w http.ResponseWriter, r *http.Request) {
	status := h.backups.Status()
	if !h.backups.Enabled() {
		writeJSON(w, http.StatusOK, map[string]any{"status": status, "snapshots": []backup.Snapshot{}})
		return
	}
	snaps, err := h.backups.List(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if snaps == nil {
		snaps = []backup.Snapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "snapshots": snaps})
}

func (h *AdminHandler) RunBackup(w http.ResponseWriter, r *http.Request) {
	snap, err := h.backups.RunNow(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.logger.Info("snapshot stored", "key", snap.Key, "size", snap.Size)
	writeJSON(w, http.StatusCreated, snap)
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/runningoffcode/Payflix-sub002/internal/logging"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
)

// DiagnosticsHandler exposes the session reconciliation endpoint.
type DiagnosticsHandler struct {
	Checker DiagnosticsService
}

// CheckSession handles GET /api/v1/diagnostics/session requests.
func (h DiagnosticsHandler) CheckSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	wallet := r.URL.Query().Get("wallet")
	if !common.IsHexAddress(wallet) {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "wallet query parameter must be a valid address"})
		return
	}

	report, err := h.Checker.CheckWallet(ctx, wallet)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		logging.FromContext(ctx).Error("reconciliation failed", "wallet", wallet, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "diagnostics unavailable"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, report)
}

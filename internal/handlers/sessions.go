package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/runningoffcode/Payflix-sub002/internal/logging"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
)

// SessionHandler implements the spending-session endpoints.
type SessionHandler struct {
	Sessions  SessionService
	Delegates DelegateMinter
	Limiter   RateLimiter
}

type createSessionRequest struct {
	PayerWallet       string    `json:"payerWallet"`
	DelegateAddress   string    `json:"delegateAddress"`
	ApprovalSignature string    `json:"approvalSignature"`
	ApprovedAmount    string    `json:"approvedAmount"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

type sessionResponse struct {
	SessionID       string    `json:"sessionId"`
	PayerWallet     string    `json:"payerWallet"`
	DelegateAddress string    `json:"delegateAddress"`
	ApprovedAmount  string    `json:"approvedAmount"`
	SpentAmount     string    `json:"spentAmount"`
	RemainingAmount string    `json:"remainingAmount"`
	Status          string    `json:"status"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

func toSessionResponse(s models.Session) sessionResponse {
	return sessionResponse{
		SessionID:       s.ID,
		PayerWallet:     s.PayerWallet,
		DelegateAddress: s.DelegateAddress,
		ApprovedAmount:  s.ApprovedAmount.String(),
		SpentAmount:     s.SpentAmount.String(),
		RemainingAmount: s.RemainingAmount().String(),
		Status:          s.Status,
		ExpiresAt:       s.ExpiresAt,
	}
}

// Create handles POST /api/v1/sessions requests.
func (h SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid session payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if !common.IsHexAddress(req.PayerWallet) {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "payerWallet must be a valid address"})
		return
	}
	if !common.IsHexAddress(req.DelegateAddress) {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "delegateAddress must be a valid address"})
		return
	}
	if req.ApprovalSignature == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "approvalSignature is required"})
		return
	}
	approved, err := decimal.NewFromString(req.ApprovedAmount)
	if err != nil || !approved.IsPositive() {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "approvedAmount must be a positive decimal"})
		return
	}
	if !req.ExpiresAt.After(time.Now()) {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "expiresAt must be in the future"})
		return
	}

	if !allowWallet(h.Limiter, req.PayerWallet, "sessions") {
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many session attempts"})
		return
	}

	created, err := h.Sessions.CreateSession(ctx, session.CreateParams{
		PayerWallet:       req.PayerWallet,
		DelegateAddress:   req.DelegateAddress,
		ApprovalSignature: req.ApprovalSignature,
		ApprovedAmount:    approved,
		ExpiresAt:         req.ExpiresAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrDuplicateActiveSession):
			respondJSON(ctx, w, http.StatusConflict, map[string]string{"error": "an active session already exists for this wallet"})
		case errors.Is(err, session.ErrApprovalNotConfirmed):
			respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "approval transaction is not confirmed on chain"})
		default:
			logger.Error("create session failed", "wallet", req.PayerWallet, "error", err)
			respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
		}
		return
	}

	logger.Info("session created", "sessionId", created.ID, "wallet", created.PayerWallet)
	respondJSON(ctx, w, http.StatusCreated, toSessionResponse(created))
}

// NewDelegate handles POST /api/v1/sessions/delegate requests. It mints a
// fresh platform-custodied key the payer approves as their delegate.
func (h SessionHandler) NewDelegate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	if !allowRequest(h.Limiter, r, "delegate") {
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many key requests"})
		return
	}

	address, err := h.Delegates.NewSessionKey()
	if err != nil {
		logger.Error("mint session key failed", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to create session key"})
		return
	}

	logger.Info("session key minted", "delegate", address.Hex())
	respondJSON(ctx, w, http.StatusCreated, map[string]string{"delegateAddress": address.Hex()})
}

// Revoke handles POST /api/v1/sessions/revoke requests.
func (h SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "sessionId is required"})
		return
	}

	revoked, err := h.Sessions.Revoke(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		logger.Error("revoke session failed", "sessionId", req.SessionID, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to revoke session"})
		return
	}

	logger.Info("session revoked", "sessionId", req.SessionID, "transitioned", revoked)
	respondJSON(ctx, w, http.StatusOK, map[string]any{"revoked": true, "transitioned": revoked})
}

// Balance handles GET /api/v1/sessions/balance requests.
func (h SessionHandler) Balance(w http.ResponseWriter, r *http.Request) {
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

	active, err := h.Sessions.GetActiveSession(ctx, wallet)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			respondJSON(ctx, w, http.StatusOK, map[string]any{"hasSession": false})
			return
		}
		logging.FromContext(ctx).Error("balance lookup failed", "wallet", wallet, "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"hasSession":      true,
		"sessionId":       active.ID,
		"approvedAmount":  active.ApprovedAmount.String(),
		"spentAmount":     active.SpentAmount.String(),
		"remainingAmount": active.RemainingAmount().String(),
		"expiresAt":       active.ExpiresAt,
	})
}

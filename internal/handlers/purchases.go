package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/runningoffcode/Payflix-sub002/internal/logging"
	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/payments"
)

// PurchaseHandler implements the video purchase endpoint.
type PurchaseHandler struct {
	Purchases PurchaseService
	Limiter   RateLimiter
}

// Purchase handles POST /api/v1/videos/purchase requests.
func (h PurchaseHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req struct {
		Wallet  string `json:"wallet"`
		VideoID string `json:"videoId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid purchase payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if !common.IsHexAddress(req.Wallet) {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "wallet must be a valid address"})
		return
	}
	if req.VideoID == "" {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "videoId is required"})
		return
	}

	if !allowWallet(h.Limiter, req.Wallet, "purchase") {
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many purchase attempts"})
		return
	}

	receipt, err := h.Purchases.Purchase(ctx, req.Wallet, req.VideoID)
	if err != nil {
		h.respondError(ctx, w, req.Wallet, req.VideoID, err)
		return
	}

	status := http.StatusOK
	if receipt.Status == models.PaymentStatusPending {
		status = http.StatusAccepted
	}

	payload := map[string]any{
		"status":      receipt.Status,
		"videoId":     receipt.VideoID,
		"amount":      receipt.Amount.String(),
		"signature":   receipt.Signature,
		"alreadyPaid": receipt.AlreadyPaid,
	}
	if receipt.PaymentID != "" {
		payload["paymentId"] = receipt.PaymentID
	}
	if receipt.ExplorerURL != "" {
		payload["explorerUrl"] = receipt.ExplorerURL
	}
	if !receipt.AlreadyPaid && receipt.Status == models.PaymentStatusVerified {
		payload["remainingBalance"] = receipt.RemainingBalance.String()
	}
	respondJSON(ctx, w, status, payload)
}

// respondError maps purchase failures to reason codes the UI understands:
// SessionRequired and TopUpRequired become deposit prompts, everything
// settlement-side becomes a retry prompt.
func (h PurchaseHandler) respondError(ctx context.Context, w http.ResponseWriter, wallet, videoID string, err error) {
	logger := logging.FromContext(ctx)

	var topUp *payments.TopUpRequiredError
	var settleErr *payments.SettleError
	switch {
	case errors.Is(err, payments.ErrVideoNotFound):
		respondJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "video not found"})
	case errors.Is(err, payments.ErrSessionRequired):
		respondJSON(ctx, w, http.StatusPaymentRequired, map[string]any{
			"error":   "SessionRequired",
			"message": "an active spending session is required to purchase videos",
		})
	case errors.As(err, &topUp):
		respondJSON(ctx, w, http.StatusPaymentRequired, map[string]any{
			"error":     "TopUpRequired",
			"message":   "session balance cannot cover this video",
			"price":     topUp.Price.String(),
			"remaining": topUp.Remaining.String(),
			"shortfall": topUp.Shortfall.String(),
		})
	case errors.As(err, &settleErr):
		logger.Warn("purchase settlement failed", "wallet", wallet, "videoId", videoID, "code", settleErr.Code)
		respondJSON(ctx, w, http.StatusBadGateway, map[string]string{
			"error":   settleErr.Code,
			"message": "payment could not be settled",
		})
	default:
		logger.Error("purchase failed", "wallet", wallet, "videoId", videoID, "error", err)
		// The request id lets support match a user report to the log line
		// above without exposing the underlying error.
		respondJSON(ctx, w, http.StatusInternalServerError, map[string]string{
			"error":     "purchase failed",
			"requestId": logging.RequestIDFromContext(ctx),
		})
	}
}

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/runningoffcode/Payflix-sub002/internal/facilitator"
	"github.com/runningoffcode/Payflix-sub002/internal/logging"
)

// FacilitatorHandler exposes the verify/settle protocol endpoints.
type FacilitatorHandler struct {
	Facilitator FacilitatorService
	Limiter     RateLimiter
}

type facilitatorRequest struct {
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Token       string `json:"token"`
	Amount      string `json:"amount"`
	Recipient   string `json:"recipient"`
}

func (r facilitatorRequest) missing() []string {
	var missing []string
	if r.Transaction == "" {
		missing = append(missing, "transaction")
	}
	if r.Network == "" {
		missing = append(missing, "network")
	}
	if r.Token == "" {
		missing = append(missing, "token")
	}
	if r.Amount == "" {
		missing = append(missing, "amount")
	}
	if r.Recipient == "" {
		missing = append(missing, "recipient")
	}
	return missing
}

func (r facilitatorRequest) toRequest() facilitator.Request {
	return facilitator.Request{
		Transaction: r.Transaction,
		Network:     r.Network,
		Token:       r.Token,
		Amount:      r.Amount,
		Recipient:   r.Recipient,
	}
}

// Supported handles GET /supported.
func (h FacilitatorHandler) Supported(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	respondJSON(r.Context(), w, http.StatusOK, h.Facilitator.SupportedConfig())
}

// Health handles GET /health.
func (h FacilitatorHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	supported := h.Facilitator.SupportedConfig()
	respondJSON(r.Context(), w, http.StatusOK, map[string]any{
		"status":          "ok",
		"facilitator":     "payflix-facilitator",
		"version":         supported.Version,
		"feePayer":        supported.FeePayer,
		"network":         supported.Network,
		"supportedTokens": supported.SupportedTokens,
	})
}

// Verify handles POST /verify. It never broadcasts.
func (h FacilitatorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if !allowRequest(h.Limiter, r, "verify") {
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many verify attempts"})
		return
	}

	result := h.Facilitator.Verify(req.toRequest())
	if !result.Valid {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]any{
			"valid":   false,
			"reason":  result.Reason,
			"details": result.Details,
		})
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"valid":   true,
		"details": result.Details,
	})
}

// Settle handles POST /settle.
func (h FacilitatorHandler) Settle(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	if !allowRequest(h.Limiter, r, "settle") {
		respondJSON(ctx, w, http.StatusTooManyRequests, map[string]string{"error": "too many settle attempts"})
		return
	}

	result := h.Facilitator.Settle(ctx, req.toRequest())
	if !result.Success {
		payload := map[string]any{
			"success": false,
			"error":   result.Error,
		}
		// An indeterminate outcome still carries the signature so the
		// caller can poll for the final state instead of retrying blind.
		if result.Indeterminate {
			payload["indeterminate"] = true
			payload["signature"] = result.Signature
		}
		respondJSON(ctx, w, http.StatusBadRequest, payload)
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]any{
		"success":     true,
		"signature":   result.Signature,
		"explorerUrl": result.ExplorerURL,
	})
}

func (h FacilitatorHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (facilitatorRequest, bool) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return facilitatorRequest{}, false
	}

	var req facilitatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logging.FromContext(ctx).Warn("invalid facilitator payload", "error", err)
		respondJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return facilitatorRequest{}, false
	}

	if missing := req.missing(); len(missing) > 0 {
		respondJSON(ctx, w, http.StatusBadRequest, map[string]any{
			"error":    "Missing required fields",
			"required": missing,
		})
		return facilitatorRequest{}, false
	}

	return req, true
}

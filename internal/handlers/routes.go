package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Network: deps.Network, Version: deps.Version, FeePayer: deps.FeePayer}
	fac := FacilitatorHandler{Facilitator: deps.Facilitator, Limiter: deps.Limiter}
	sessions := SessionHandler{Sessions: deps.Sessions, Delegates: deps.Delegates, Limiter: deps.Limiter}
	purchases := PurchaseHandler{Purchases: deps.Purchases, Limiter: deps.Limiter}
	diag := DiagnosticsHandler{Checker: deps.Diagnostics}

	mux.HandleFunc("/healthz", health.Handle)
	mux.HandleFunc("/health", fac.Health)
	mux.HandleFunc("/supported", fac.Supported)
	mux.HandleFunc("/verify", fac.Verify)
	mux.HandleFunc("/settle", fac.Settle)
	mux.HandleFunc("/api/v1/sessions", sessions.Create)
	mux.HandleFunc("/api/v1/sessions/delegate", sessions.NewDelegate)
	mux.HandleFunc("/api/v1/sessions/revoke", sessions.Revoke)
	mux.HandleFunc("/api/v1/sessions/balance", sessions.Balance)
	mux.HandleFunc("/api/v1/videos/purchase", purchases.Purchase)
	mux.HandleFunc("/api/v1/diagnostics/session", diag.CheckSession)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Sessions    SessionService
	Delegates   DelegateMinter
	Purchases   PurchaseService
	Facilitator FacilitatorService
	Diagnostics DiagnosticsService
	Limiter     RateLimiter
	Network     string
	Version     string
	FeePayer    string
}

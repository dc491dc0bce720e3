package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/runningoffcode/Payflix-sub002/internal/models"
	"github.com/runningoffcode/Payflix-sub002/internal/session"
)

const testWallet = "0x2222222222222222222222222222222222222222"

type stubSessionService struct {
	created models.Session
	active  models.Session
	revoked bool
	err     error
}

func (s stubSessionService) CreateSession(context.Context, session.CreateParams) (models.Session, error) {
	return s.created, s.err
}

func (s stubSessionService) GetActiveSession(context.Context, string) (models.Session, error) {
	return s.active, s.err
}

func (s stubSessionService) Revoke(context.Context, string) (bool, error) {
	return s.revoked, s.err
}

type stubMinter struct {
	address common.Address
	err     error
}

func (s stubMinter) NewSessionKey() (common.Address, error) { return s.address, s.err }

func sampleSession() models.Session {
	return models.Session{
		ID:              "sess-1",
		PayerWallet:     testWallet,
		DelegateAddress: "0x4444444444444444444444444444444444444444",
		ApprovedAmount:  decimal.RequireFromString("10.00"),
		SpentAmount:     decimal.RequireFromString("3.50"),
		Status:          models.SessionStatusActive,
		ExpiresAt:       time.Now().Add(time.Hour).UTC(),
	}
}

func postJSON(t *testing.T, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return httptest.NewRequest(http.MethodPost, target, bytes.NewReader(body))
}

func TestSessionHandlerCreate(t *testing.T) {
	handler := SessionHandler{Sessions: stubSessionService{created: sampleSession()}}

	req := postJSON(t, "/api/v1/sessions", createSessionRequest{
		PayerWallet:       testWallet,
		DelegateAddress:   "0x4444444444444444444444444444444444444444",
		ApprovalSignature: "0xaa11",
		ApprovedAmount:    "10.00",
		ExpiresAt:         time.Now().Add(time.Hour),
	})
	rec := httptest.NewRecorder()

	handler.Create(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var resp sessionResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SessionID != "sess-1" {
		t.Fatalf("unexpected session id %q", resp.SessionID)
	}
	if resp.RemainingAmount != "6.5" {
		t.Fatalf("unexpected remaining amount %q", resp.RemainingAmount)
	}
}

func TestSessionHandlerCreateValidation(t *testing.T) {
	handler := SessionHandler{Sessions: stubSessionService{created: sampleSession()}}

	cases := []struct {
		name string
		req  createSessionRequest
	}{
		{"bad payer wallet", createSessionRequest{
			PayerWallet: "nope", DelegateAddress: "0x4444444444444444444444444444444444444444",
			ApprovalSignature: "0xaa", ApprovedAmount: "10", ExpiresAt: time.Now().Add(time.Hour),
		}},
		{"bad delegate", createSessionRequest{
			PayerWallet: testWallet, DelegateAddress: "nope",
			ApprovalSignature: "0xaa", ApprovedAmount: "10", ExpiresAt: time.Now().Add(time.Hour),
		}},
		{"missing approval", createSessionRequest{
			PayerWallet: testWallet, DelegateAddress: "0x4444444444444444444444444444444444444444",
			ApprovedAmount: "10", ExpiresAt: time.Now().Add(time.Hour),
		}},
		{"non-positive amount", createSessionRequest{
			PayerWallet: testWallet, DelegateAddress: "0x4444444444444444444444444444444444444444",
			ApprovalSignature: "0xaa", ApprovedAmount: "0", ExpiresAt: time.Now().Add(time.Hour),
		}},
		{"past expiry", createSessionRequest{
			PayerWallet: testWallet, DelegateAddress: "0x4444444444444444444444444444444444444444",
			ApprovalSignature: "0xaa", ApprovedAmount: "10", ExpiresAt: time.Now().Add(-time.Hour),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.Create(rec, postJSON(t, "/api/v1/sessions", tc.req))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400 got %d", rec.Code)
			}
		})
	}
}

func TestSessionHandlerCreateDuplicate(t *testing.T) {
	handler := SessionHandler{Sessions: stubSessionService{err: session.ErrDuplicateActiveSession}}

	rec := httptest.NewRecorder()
	handler.Create(rec, postJSON(t, "/api/v1/sessions", createSessionRequest{
		PayerWallet:       testWallet,
		DelegateAddress:   "0x4444444444444444444444444444444444444444",
		ApprovalSignature: "0xaa11",
		ApprovedAmount:    "10.00",
		ExpiresAt:         time.Now().Add(time.Hour),
	}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
}

func TestSessionHandlerNewDelegate(t *testing.T) {
	address := common.HexToAddress("0x4444444444444444444444444444444444444444")
	handler := SessionHandler{Delegates: stubMinter{address: address}}

	rec := httptest.NewRecorder()
	handler.NewDelegate(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions/delegate", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["delegateAddress"] != address.Hex() {
		t.Fatalf("unexpected delegate %q", resp["delegateAddress"])
	}
}

func TestSessionHandlerRevoke(t *testing.T) {
	t.Run("revokes", func(t *testing.T) {
		handler := SessionHandler{Sessions: stubSessionService{revoked: true}}
		rec := httptest.NewRecorder()
		handler.Revoke(rec, postJSON(t, "/api/v1/sessions/revoke", map[string]string{"sessionId": "sess-1"}))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", rec.Code)
		}
	})

	t.Run("not found", func(t *testing.T) {
		handler := SessionHandler{Sessions: stubSessionService{err: session.ErrSessionNotFound}}
		rec := httptest.NewRecorder()
		handler.Revoke(rec, postJSON(t, "/api/v1/sessions/revoke", map[string]string{"sessionId": "missing"}))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 got %d", rec.Code)
		}
	})
}

func TestSessionHandlerBalance(t *testing.T) {
	t.Run("has session", func(t *testing.T) {
		handler := SessionHandler{Sessions: stubSessionService{active: sampleSession()}}
		rec := httptest.NewRecorder()
		handler.Balance(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/balance?wallet="+testWallet, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", rec.Code)
		}
		var resp map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["hasSession"] != true {
			t.Fatalf("expected hasSession true, got %v", resp)
		}
		if resp["remainingAmount"] != "6.5" {
			t.Fatalf("unexpected remaining %v", resp["remainingAmount"])
		}
	})

	t.Run("no session", func(t *testing.T) {
		handler := SessionHandler{Sessions: stubSessionService{err: session.ErrSessionNotFound}}
		rec := httptest.NewRecorder()
		handler.Balance(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/balance?wallet="+testWallet, nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 got %d", rec.Code)
		}
		var resp map[string]any
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["hasSession"] != false {
			t.Fatalf("expected hasSession false, got %v", resp)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		handler := SessionHandler{Sessions: stubSessionService{err: errors.New("connection refused")}}
		rec := httptest.NewRecorder()
		handler.Balance(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/balance?wallet="+testWallet, nil))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500 got %d", rec.Code)
		}
	})
}

package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/runningoffcode/Payflix-sub002/internal/logging"
)

func TestRequestLoggerCarriesWalletField(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.FromContext(r.Context()).Info("handled")
	}))

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/sessions/balance?wallet=0x2222222222222222222222222222222222222222", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, `"wallet":"0x2222222222222222222222222222222222222222"`) {
		t.Fatalf("expected wallet field in log output, got %s", out)
	}
	if !strings.Contains(out, `"request_id":`) {
		t.Fatalf("expected request_id field in log output, got %s", out)
	}
}

func TestRequestLoggerStoresRequestID(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	var captured string
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = logging.RequestIDFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if captured == "" {
		t.Fatal("expected request id on the context")
	}
}

func TestRequestLoggerRecoversPanic(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 after panic got %d", rec.Code)
	}
}

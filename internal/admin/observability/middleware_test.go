package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLoggerRecordsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	handler := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == noopLogger {
			t.Fatalf("expected request logger in context")
		}
		w.WriteHeader(http.StatusForbidden)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/", nil))

	entries := logs.FilterMessage("request completed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn level for 403, got %s", entries[0].Level)
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusForbidden) {
		t.Fatalf("expected status 403 in fields, got %v", got)
	}
}

func TestFromContextDefaultsToNop(t *testing.T) {
	if FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()) != noopLogger {
		t.Fatalf("expected no-op logger when none injected")
	}
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("not-a-level")
	if err != nil {
		t.Fatalf("NewLogger error: %v", err)
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug disabled at default level")
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("expected info enabled")
	}
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/treecore/treecore/internal/logger"
)

func newTestLogger() *logger.Logger {
	return logger.NewLogger(logger.Config{Level: "error", Pretty: false})
}

func TestObservabilityHealthAndReady(t *testing.T) {
	obs := NewObservabilityServer("127.0.0.1:0", newTestLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	obs.server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Fatalf("/health returned empty body")
	}

	req = httptest.NewRequest(http.MethodGet, "/ready", nil)
	w = httptest.NewRecorder()
	obs.server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("/ready status = %d, want 200", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := obs.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestObservabilityMetricsEndpoint(t *testing.T) {
	obs := NewObservabilityServer("127.0.0.1:0", newTestLogger())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	obs.server.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", w.Code)
	}
}

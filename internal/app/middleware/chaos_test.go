package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChaosDisabledPassesThrough(t *testing.T) {
	state := NewChaosState()
	called := false
	handler := Chaos(state, ErrorFormatJSON)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/queues", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to run when chaos disabled")
	}
}

func TestChaosErrorRateOneAlwaysInjects(t *testing.T) {
	state := NewChaosState()
	state.Set(ChaosConfig{
		Enabled:   true,
		ErrorRate: 1,
		Errors:    []ErrorSpec{{Type: "ThrottlingException", Message: "slow down", Weight: 1}},
	})
	called := false
	handler := Chaos(state, ErrorFormatJSON)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/queues", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if called {
		t.Fatalf("expected handler to be short-circuited by injected error")
	}
	if rec.Code != 429 {
		t.Fatalf("expected 429 for ThrottlingException, got %d", rec.Code)
	}
}

func TestChaosThrottlesOverConfiguredRate(t *testing.T) {
	state := NewChaosState()
	state.Set(ChaosConfig{Enabled: true, MaxRequestsPerSec: 1})
	handler := Chaos(state, ErrorFormatJSON)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/queues", nil)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if second.Code != 429 {
		t.Fatalf("expected second request to be throttled, got %d", second.Code)
	}
}

func TestChaosBypassesInternalPaths(t *testing.T) {
	state := NewChaosState()
	state.Set(ChaosConfig{Enabled: true, ErrorRate: 1, Errors: []ErrorSpec{{Type: "InternalServerError", Weight: 1}}})
	called := false
	handler := Chaos(state, ErrorFormatJSON)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/_ldk/resources", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected internal paths to bypass chaos injection")
	}
}

func TestPickErrorFallsBackWithoutConfiguredErrors(t *testing.T) {
	spec := pickError(ChaosConfig{})
	if spec.Type != "InternalServerError" {
		t.Fatalf("expected default error type, got %q", spec.Type)
	}
}

func TestWriteFormattedErrorXMLS3(t *testing.T) {
	rec := httptest.NewRecorder()
	writeFormattedError(rec, ErrorSpec{Type: "NoSuchKey", Message: "missing", StatusCode: 404}, ErrorFormatXMLS3)
	if rec.Code != 404 {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("expected xml content type, got %q", ct)
	}
}

package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corestack-dev/corestack/internal/app/fabric"
	"github.com/corestack-dev/corestack/internal/app/middleware"
	"github.com/corestack-dev/corestack/internal/app/system"
)

type noopService struct{ name string }

func (s noopService) Name() string                   { return s.name }
func (s noopService) Start(ctx context.Context) error { return nil }
func (s noopService) Stop(ctx context.Context) error  { return nil }

func newTestHandler() Handler {
	mgr := system.NewManager()
	_ = mgr.Register(noopService{name: "queue"})

	registry := fabric.NewRegistry()
	registry.Publish("queue", []string{"orders"})

	return Handler{
		Manager:  mgr,
		Registry: registry,
		Chaos:    ChaosStates{"queue": middleware.NewChaosState()},
		Mock:     MockStates{"queue": middleware.NewMockState("queue")},
	}
}

func TestResourcesReportsServicesResourcesAndHealth(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/resources", nil)
	rec := httptest.NewRecorder()
	h.Mount().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var inventory resourceInventory
	if err := json.Unmarshal(rec.Body.Bytes(), &inventory); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(inventory.Services) != 1 || inventory.Services[0].Name != "queue" {
		t.Fatalf("unexpected services: %+v", inventory.Services)
	}
	if len(inventory.Resources["queue"]) != 1 || inventory.Resources["queue"][0] != "orders" {
		t.Fatalf("unexpected resources: %+v", inventory.Resources)
	}
	if inventory.Health.Uptime == "" {
		t.Fatalf("expected health facts with a non-empty uptime, got %+v", inventory.Health)
	}
}

func TestHealthEndpointReturnsFacts(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Mount().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var facts system.HealthFacts
	if err := json.Unmarshal(rec.Body.Bytes(), &facts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if facts.Uptime == "" {
		t.Fatalf("expected a non-empty uptime string")
	}
}

func TestChaosConfigRoundTrip(t *testing.T) {
	h := newTestHandler()

	body, _ := json.Marshal(middleware.ChaosConfig{Enabled: true, ErrorRate: 0.5})
	postReq := httptest.NewRequest(http.MethodPost, "/chaos/queue", bytes.NewReader(body))
	postRec := httptest.NewRecorder()
	h.Mount().ServeHTTP(postRec, postReq)
	if postRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", postRec.Code)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/chaos/queue", nil)
	getRec := httptest.NewRecorder()
	h.Mount().ServeHTTP(getRec, getReq)
	var cfg middleware.ChaosConfig
	if err := json.Unmarshal(getRec.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !cfg.Enabled || cfg.ErrorRate != 0.5 {
		t.Fatalf("unexpected chaos config: %+v", cfg)
	}
}

func TestChaosConfigUnknownServiceIsNotFound(t *testing.T) {
	h := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/chaos/ghost", nil)
	rec := httptest.NewRecorder()
	h.Mount().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

// Package controlplane implements the "/_ldk/*" management surface every
// emulated service shares: resource inventory, and per-service chaos and
// mock-response configuration, grounded on
// _examples/original_source/src/lws/control_plane/routes.py.
package controlplane

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/corestack-dev/corestack/internal/app/core/service"
	"github.com/corestack-dev/corestack/internal/app/fabric"
	"github.com/corestack-dev/corestack/internal/app/middleware"
	"github.com/corestack-dev/corestack/internal/app/system"
)

// ChaosStates maps service name to its chaos state handle.
type ChaosStates map[string]*middleware.ChaosState

// MockStates maps service name to its mock state handle.
type MockStates map[string]*middleware.MockState

// Handler wires the management endpoints against the running
// application's lifecycle manager and per-service middleware state.
type Handler struct {
	Manager  *system.Manager
	Registry *fabric.Registry
	Chaos    ChaosStates
	Mock     MockStates
}

type resourceInventory struct {
	Services  []service.Descriptor `json:"services"`
	Resources map[string][]string  `json:"resources"`
	Health    system.HealthFacts   `json:"health"`
}

// Mount builds the chi router serving every "/_ldk/*" route. Its routes
// are registered without the "/_ldk" prefix; the caller strips it.
func (h Handler) Mount() http.Handler {
	r := chi.NewRouter()

	r.Get("/resources", func(w http.ResponseWriter, req *http.Request) {
		descriptors := h.Manager.Descriptors()
		resources := map[string][]string{}
		if h.Registry != nil {
			resources = h.Registry.Snapshot()
		}
		writeJSON(w, resourceInventory{Services: descriptors, Resources: resources, Health: system.CollectHealthFacts()})
	})

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, system.CollectHealthFacts())
	})

	r.Route("/chaos/{service}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			svc := chi.URLParam(req, "service")
			state, ok := h.Chaos[svc]
			if !ok {
				http.Error(w, "unknown service: "+svc, http.StatusNotFound)
				return
			}
			writeJSON(w, state.Get())
		})
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			svc := chi.URLParam(req, "service")
			state, ok := h.Chaos[svc]
			if !ok {
				http.Error(w, "unknown service: "+svc, http.StatusNotFound)
				return
			}
			var cfg middleware.ChaosConfig
			if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
				http.Error(w, "invalid chaos configuration: "+err.Error(), http.StatusBadRequest)
				return
			}
			state.Set(cfg)
			w.WriteHeader(http.StatusNoContent)
		})
	})

	r.Route("/aws-mock/{service}", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			svc := chi.URLParam(req, "service")
			state, ok := h.Mock[svc]
			if !ok {
				http.Error(w, "unknown service: "+svc, http.StatusNotFound)
				return
			}
			writeJSON(w, state.Get())
		})
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			svc := chi.URLParam(req, "service")
			state, ok := h.Mock[svc]
			if !ok {
				http.Error(w, "unknown service: "+svc, http.StatusNotFound)
				return
			}
			var cfg middleware.MockConfig
			if err := json.NewDecoder(req.Body).Decode(&cfg); err != nil {
				http.Error(w, "invalid mock configuration: "+err.Error(), http.StatusBadRequest)
				return
			}
			cfg.Service = svc
			state.Set(cfg)
			w.WriteHeader(http.StatusNoContent)
		})
	})

	r.Get("/aws-mock", func(w http.ResponseWriter, req *http.Request) {
		services := make([]string, 0, len(h.Mock))
		for svc := range h.Mock {
			services = append(services, svc)
		}
		sort.Strings(services)
		writeJSON(w, services)
	})

	r.Get("/chaos", func(w http.ResponseWriter, req *http.Request) {
		services := make([]string, 0, len(h.Chaos))
		for svc := range h.Chaos {
			services = append(services, svc)
		}
		sort.Strings(services)
		writeJSON(w, services)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

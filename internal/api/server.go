package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adnanbaig/browserfarm/internal/proxy"
	"github.com/adnanbaig/browserfarm/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes(proxyServer *proxy.Server, rateLimiter *ratelimit.Limiter, requestsPerHour int) *mux.Router {
	r := mux.NewRouter()

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Lifecycle endpoints are rate limited
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(rateLimiter, requestsPerHour))

	// Instance lifecycle
	limited.HandleFunc("/instances", h.CreateInstance).Methods("POST", "OPTIONS")
	limited.HandleFunc("/instances", h.ListInstances).Methods("GET", "OPTIONS")
	limited.HandleFunc("/instances/{id}", h.GetInstance).Methods("GET", "OPTIONS")
	limited.HandleFunc("/instances/{id}", h.DestroyInstance).Methods("DELETE", "OPTIONS")

	// Tab lifecycle
	limited.HandleFunc("/instances/{id}/tabs", h.CreateTab).Methods("POST", "OPTIONS")
	limited.HandleFunc("/instances/{id}/tabs", h.ListTabs).Methods("GET", "OPTIONS")
	limited.HandleFunc("/instances/{id}/tabs/{tabId}", h.GetTab).Methods("GET", "OPTIONS")
	limited.HandleFunc("/instances/{id}/tabs/{tabId}", h.CloseTab).Methods("DELETE", "OPTIONS")
	limited.HandleFunc("/instances/{id}/tabs/{tabId}/activate", h.ActivateTab).Methods("POST", "OPTIONS")

	// Raw protocol escape hatch (frequent programmatic use, not rate limited)
	api.HandleFunc("/instances/{id}/invoke", h.Invoke).Methods("POST", "OPTIONS")

	// Debug endpoints (not rate limited)
	api.HandleFunc("/instances/{id}/debug", h.GetDebugURL).Methods("GET")
	api.HandleFunc("/instances/{id}/ws", func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		proxyServer.HandleDebugConnection(w, r, vars["id"])
	}).Methods("GET")

	// CORS middleware
	r.Use(corsMiddleware)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

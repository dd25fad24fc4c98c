package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the control routes, the event API and /metrics.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer) *mux.Router {
	router := mux.NewRouter()

	// CORS middleware
	router.Use(corsMiddleware)

	// Control routes
	router.HandleFunc("/", h.Root).Methods("GET")
	router.HandleFunc("/packet_counts", h.PacketCounts).Methods("GET")
	router.HandleFunc("/blocked_ips", h.BlockedIPs).Methods("GET")
	router.HandleFunc("/unblock_ip/{ip}", h.UnblockIP).Methods("GET", "POST")
	router.HandleFunc("/block_ip/{ip}", h.BlockIP).Methods("GET", "POST")
	router.HandleFunc("/start_sniffing", h.StartSniffing).Methods("GET", "POST")
	router.HandleFunc("/stop_sniffing", h.StopSniffing).Methods("GET", "POST")
	router.HandleFunc("/status", h.Status).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()

	// Events endpoints
	api.HandleFunc("/stream/events", h.StreamEvents).Methods("GET")
	api.HandleFunc("/events", h.GetEvents).Methods("GET")
	api.HandleFunc("/events/{id}", h.GetEvent).Methods("GET")

	// Metrics endpoints
	api.HandleFunc("/traffic/history", h.TrafficHistory).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	return router
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowedOrigins := []string{
			"http://localhost:5000",
			"http://localhost:3000",
			"http://127.0.0.1:5000",
			"http://127.0.0.1:3000",
		}

		allowOrigin := "*"
		if origin != "" {
			for _, allowed := range allowedOrigins {
				if origin == allowed {
					allowOrigin = origin
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if allowOrigin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

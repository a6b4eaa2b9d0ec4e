// Package api provides the modelctl HTTP server.
// It serves the Ollama-compatible blob and model endpoints over a local
// store, plus the registry /v2 subset, so one modelctl can act as a copy
// source, a copy destination or a pull mirror for another.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tutu-network/modelctl/internal/health"
	"github.com/tutu-network/modelctl/internal/infra/metrics"
	"github.com/tutu-network/modelctl/internal/infra/store"
)

// Version is reported by /api/version.
const Version = "0.1.0"

// Server is the modelctl HTTP API server.
type Server struct {
	store          *store.Store
	verifyDigests  bool
	metricsEnabled bool
	health         *health.Checker
	log            *logrus.Entry
}

// NewServer creates a new API server over st. Uploads are verified against
// their digest unless SetVerifyDigests(false) is called.
func NewServer(st *store.Store, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{store: st, verifyDigests: true, log: log}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth makes /health report c's latest results.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// SetVerifyDigests toggles upload verification.
func (s *Server) SetVerifyDigests(v bool) { s.verifyDigests = v }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)

	// Ollama-compatible endpoints
	r.Route("/api", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		r.Head("/blobs/{digest}", s.handleBlobHead)
		r.Get("/blobs/{digest}", s.handleBlobGet)
		r.Post("/blobs/{digest}", s.handleBlobUpload)

		r.Post("/show", s.handleShow)
		r.Post("/create", s.handleCreate)
		r.Get("/tags", s.handleTags)
		r.Delete("/delete", s.handleDelete)
		r.Post("/copy", s.handleCopy)
	})

	// Registry subset, so this server can be listed as a pull mirror.
	r.Route("/v2/{namespace}/{model}", func(r chi.Router) {
		r.Get("/manifests/{tag}", s.handleRegistryManifest)
		r.Get("/blobs/{digest}", s.handleBlobGet)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": s.health.Statuses()})
}

// instrument counts requests by route pattern and status code.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.ServerRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"route":    route,
			"status":   status,
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("request")
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes an Ollama-style {"error": "..."} response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

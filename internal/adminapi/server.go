// Package adminapi exposes the node's operator-facing HTTP surface. See
// service.go for the Service contract the mux is built against.
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"noded/pkg/types"
)

// NewMux builds the admin API's HTTP handler.
func NewMux(svc Service) http.Handler {
	setMetricsService(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(securityHeaders)
	r.Use(MetricsMiddleware)
	r.Use(requestLogger)

	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Get("/status", handleStatus(svc))
	r.Get("/applications/{name}", handleApplicationStatus(svc))
	r.Post("/applications/{name}/slaves/{id}/despawn", handleDespawn(svc))
	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(svc))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := &statusRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(sr, r)
		logRequest(r, sr.status, time.Since(start))
	})
}

// handleStatus godoc
// @Summary     Node status
// @Description Returns every running application's pool/queue snapshot.
// @Produce     json
// @Success     200 {object} types.NodeStatus
// @Router      /status [get]
func handleStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	}
}

// handleApplicationStatus godoc
// @Summary     Application status
// @Produce     json
// @Param       name path string true "application name"
// @Success     200 {object} types.ApplicationStatus
// @Failure     404 {object} types.ErrorResponse
// @Router      /applications/{name} [get]
func handleApplicationStatus(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		status, ok := svc.ApplicationStatus(name)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "application not found: "+name)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

// handleDespawn godoc
// @Summary     Despawn a slave
// @Accept      json
// @Produce     json
// @Param       name path string true "application name"
// @Param       id path string true "slave id"
// @Param       body body types.DespawnRequest false "despawn request"
// @Success     204
// @Failure     404 {object} types.ErrorResponse
// @Router      /applications/{name}/slaves/{id}/despawn [post]
func handleDespawn(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		id := chi.URLParam(r, "id")

		var req types.DespawnRequest
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid request body")
				IncrementAction("despawn", "bad_request")
				return
			}
		}

		err := svc.Despawn(name, id, req.Reason)
		if err != nil {
			status := http.StatusInternalServerError
			if he, ok := err.(HTTPError); ok {
				status = he.StatusCode()
			}
			writeJSONError(w, status, err.Error())
			IncrementAction("despawn", "error")
			return
		}
		IncrementAction("despawn", "ok")
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func handleReadyz(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !svc.Ready() {
			writeJSONError(w, http.StatusServiceUnavailable, "node is not ready")
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

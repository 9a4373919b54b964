package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/racelock/veloengine/internal/domain/governance"
)

// ServerConfig holds server listen and timeout settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig is a safe local-only default.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1",
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the governance Review API.
type Server struct {
	router *mux.Router
	server *http.Server
	gov    *governance.Service
	config ServerConfig
}

// NewServer builds a Server bound to gov. It does not start listening.
func NewServer(gov *governance.Service, config ServerConfig) *Server {
	router := mux.NewRouter()
	s := &Server{router: router, gov: gov, config: config}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.jsonContentTypeMiddleware)

	s.router.HandleFunc("/proposals", s.listProposals).Methods("GET")
	s.router.HandleFunc("/proposals/{id}", s.getProposal).Methods("GET")
	s.router.HandleFunc("/proposals/{id}/accept", s.acceptProposal).Methods("POST")
	s.router.HandleFunc("/proposals/{id}/reject", s.rejectProposal).Methods("POST")
	s.router.HandleFunc("/proposals/{id}/rollback", s.rollbackProposal).Methods("POST")
	s.router.HandleFunc("/ledger", s.getLedger).Methods("GET")
	s.router.HandleFunc("/doctrine/versions", s.getDoctrineVersions).Methods("GET")
	s.router.HandleFunc("/stats", s.getStats).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(s.notFound)
}

// MountMetrics exposes gatherer on GET /metrics in Prometheus text format.
// Called by the caller that built a *pipeline.Metrics and registered it
// against gatherer, keeping this package itself free of any pipeline import.
func (s *Server) MountMetrics(gatherer prometheus.Gatherer) {
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// Start blocks serving HTTP until the server is shut down or fails.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("governance Review API listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("governance API request")
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return "unknown"
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "no such Review API endpoint")
}

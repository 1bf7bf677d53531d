package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/wheelhouse/wheelhouse/internal/decision"
	"github.com/wheelhouse/wheelhouse/internal/persistence"
	"github.com/wheelhouse/wheelhouse/internal/risk"
)

// Server exposes the operational surface: health, metrics, the decision
// audit trail, and manual-review resolution.
type Server struct {
	router    *mux.Router
	server    *http.Server
	config    ServerConfig
	metrics   *MetricsRegistry
	agg       *risk.Aggregator
	decisions persistence.DecisionsRepo
	now       func() time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "127.0.0.1", // Local-only by default
		Port:         8090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates the ops server wired to the live aggregator and the
// decisions repository. The repo may be nil when running without a database.
func NewServer(config ServerConfig, metrics *MetricsRegistry, agg *risk.Aggregator, decisions persistence.DecisionsRepo) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		config:    config,
		metrics:   metrics,
		agg:       agg,
		decisions: decisions,
		now:       time.Now,
	}
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})).Methods("GET")

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/risk", s.handleRisk).Methods("GET")
	api.HandleFunc("/regime", s.handleRegime).Methods("GET")
	api.HandleFunc("/decisions", s.handleDecisions).Methods("GET")
	api.HandleFunc("/decisions/{id}", s.handleDecision).Methods("GET")
	api.HandleFunc("/decisions/{id}/resolve", s.handleResolve).Methods("POST")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		writeError(w, http.StatusNotFound, "route not found")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.now()
	status := "ok"
	if s.agg.Stale(now) {
		status = "stale_snapshot"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"timestamp": now.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	snap := s.agg.Snapshot()
	if snap == nil {
		writeError(w, http.StatusServiceUnavailable, "no risk snapshot computed yet")
		return
	}
	s.metrics.UpdateRiskGauges(s.agg, s.now())
	age, err := s.metrics.gaugeValue("wheelhouse_risk_snapshot_age_seconds")
	if err != nil {
		age = s.now().Sub(snap.Timestamp).Seconds()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot":             snap,
		"headroom":             s.agg.Headrooms(),
		"adjustment_factor":    s.agg.AdjustmentFactor(),
		"snapshot_age_seconds": age,
	})
}

func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	regime := s.agg.Regime()
	writeJSON(w, http.StatusOK, map[string]any{
		"regime":    regime.Regime.String(),
		"vix":       regime.VIX,
		"timestamp": regime.Timestamp,
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store not configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		limit = n
	}

	var (
		recs []decision.Record
		err  error
	)
	if raw := r.URL.Query().Get("outcome"); raw != "" {
		recs, err = s.decisions.ListByOutcome(r.Context(), decision.Outcome(raw), limit)
	} else {
		tr := persistence.TimeRange{From: s.now().Add(-24 * time.Hour), To: s.now()}
		recs, err = s.decisions.List(r.Context(), tr, limit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Listing decisions failed")
		writeError(w, http.StatusInternalServerError, "listing decisions failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decisions": recs,
		"count":     len(recs),
	})
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store not configured")
		return
	}

	rec, err := s.decisions.Get(r.Context(), mux.Vars(r)["id"])
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case isNotFound(err):
		writeError(w, http.StatusNotFound, "decision not found")
	default:
		log.Error().Err(err).Msg("Fetching decision failed")
		writeError(w, http.StatusInternalServerError, "fetching decision failed")
	}
}

type resolveRequest struct {
	Outcome decision.Outcome `json:"outcome"`
	Note    string           `json:"note"`
}

// handleResolve applies a reviewer verdict to a decision parked in manual review
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store not configured")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := mux.Vars(r)["id"]
	rec, err := s.decisions.Get(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			writeError(w, http.StatusNotFound, "decision not found")
		} else {
			log.Error().Err(err).Msg("Fetching decision failed")
			writeError(w, http.StatusInternalServerError, "fetching decision failed")
		}
		return
	}

	if err := rec.Resolve(req.Outcome, req.Note, s.now()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err := s.decisions.Update(r.Context(), rec); err != nil {
		log.Error().Err(err).Str("decision_id", id).Msg("Persisting resolution failed")
		writeError(w, http.StatusInternalServerError, "persisting resolution failed")
		return
	}

	s.metrics.DecisionOutcomes.WithLabelValues(string(rec.Outcome)).Inc()
	log.Info().
		Str("decision_id", id).
		Str("outcome", string(rec.Outcome)).
		Msg("Manual review resolved")

	writeJSON(w, http.StatusOK, rec)
}

func isNotFound(err error) bool {
	return errors.Is(err, persistence.ErrNotFound)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Encoding response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type contextKey string

const requestIDKey contextKey = "request_id"

// requestIDMiddleware adds a unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLoggingMiddleware logs all requests with status and duration
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID, _ := r.Context().Value(requestIDKey).(string)

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("Request handled")
	})
}

// timeoutMiddleware enforces request timeouts
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.server.Addr).
		Msg("Starting ops HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down ops HTTP server")
	return s.server.Shutdown(ctx)
}

// Address returns the configured listen address
func (s *Server) Address() string {
	return s.server.Addr
}

// Router exposes the handler tree, mainly for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

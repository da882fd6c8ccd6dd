// Package server exposes the claim registry over HTTP.
//
// The handlers are a thin transport layer: decode, delegate to the
// registry/reconciler/aggregator, encode. No registry semantics live
// here.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veritaslab/claimreg/internal/graph"
	"github.com/veritaslab/claimreg/internal/ir"
	"github.com/veritaslab/claimreg/internal/query"
	"github.com/veritaslab/claimreg/internal/reconcile"
	"github.com/veritaslab/claimreg/internal/registry"
	"github.com/veritaslab/claimreg/internal/ssot"
	"github.com/veritaslab/claimreg/internal/store"
)

// Server wires registry operations to HTTP routes.
type Server struct {
	registry   *registry.Registry
	store      *store.Store
	status     *ssot.Aggregator
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
	metrics    *Metrics
}

// New constructs a server with its dependencies.
func New(reg *registry.Registry, s *store.Store, status *ssot.Aggregator,
	rec *reconcile.Reconciler, logger *slog.Logger, metrics *Metrics) *Server {
	return &Server{
		registry:   reg,
		store:      s,
		status:     status,
		reconciler: rec,
		logger:     logger,
		metrics:    metrics,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/bundles", s.handleSubmit)
		r.Get("/status", s.handleGlobalStatus)
		r.Get("/status/{module}", s.handleModuleStatus)
		r.Get("/values", s.handleValues)
		r.Get("/values/{canonical}", s.handleCanonical)
		r.Get("/faults", s.handleFaults)
		r.Post("/reconcile", s.handleReconcile)
	})
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

// NewHTTPServer builds an http.Server with sane defaults for this project.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// observe logs each request and records its latency.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		code := strconv.Itoa(ww.Status())
		s.metrics.RequestDuration.WithLabelValues(route, code).Observe(time.Since(start).Seconds())
		s.logger.Info("request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request: "+err.Error())
		return
	}
	bundle, err := req.toBundle()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := s.registry.Submit(r.Context(), bundle)
	if err != nil {
		s.metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		switch {
		case errors.Is(err, registry.ErrInvalidBundle):
			s.writeError(w, http.StatusBadRequest, err.Error())
		case store.IsDuplicateVersion(err):
			s.writeError(w, http.StatusConflict, err.Error())
		case graph.IsCyclicDependency(err):
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			s.logger.Error("submit failed", "module", bundle.ModuleID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if receipt.Duplicate {
		s.metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
		s.writeJSON(w, http.StatusOK, receipt)
		return
	}
	s.metrics.SubmissionsTotal.WithLabelValues("committed").Inc()
	s.writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleGlobalStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := s.status.GlobalSummary(r.Context())
	if err != nil {
		s.serverError(w, "global status", err)
		return
	}
	statuses, err := s.status.AllModuleStatuses(r.Context())
	if err != nil {
		s.serverError(w, "global status", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"modules": statuses,
	})
}

func (s *Server) handleModuleStatus(w http.ResponseWriter, r *http.Request) {
	moduleID := ir.ModuleID(chi.URLParam(r, "module"))
	status, err := s.status.ModuleStatus(r.Context(), moduleID)
	if err != nil {
		s.serverError(w, "module status", err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleValues serves declarative value queries:
// GET /v1/values?module=m1&category=DERIVED&since=7&latest=true&limit=10
func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	q := query.ValueQuery{
		Canonical: ir.CanonicalID(r.URL.Query().Get("canonical")),
		Module:    ir.ModuleID(r.URL.Query().Get("module")),
		Category:  ir.Category(r.URL.Query().Get("category")),
	}
	if since := r.URL.Query().Get("since"); since != "" {
		n, err := strconv.ParseInt(since, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed since parameter")
			return
		}
		q.SinceSeq = n
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed limit parameter")
			return
		}
		q.Limit = n
	}
	q.LatestOnly = r.URL.Query().Get("latest") == "true"

	sqlText, params, err := q.Compile()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	values, err := s.store.RunValueQuery(r.Context(), sqlText, params)
	if err != nil {
		s.serverError(w, "value query", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"values": values})
}

func (s *Server) handleCanonical(w http.ResponseWriter, r *http.Request) {
	canonical := ir.CanonicalID(chi.URLParam(r, "canonical"))
	values, err := s.store.ResolveCanonical(r.Context(), canonical)
	if err != nil {
		s.serverError(w, "resolve canonical", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"canonical": canonical,
		"values":    values,
	})
}

func (s *Server) handleFaults(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "malformed since parameter")
			return
		}
		since = n
	}
	faults, err := s.store.ReadFaults(r.Context(), since)
	if err != nil {
		s.serverError(w, "read faults", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"faults": faults})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	result, err := s.reconciler.Sweep(r.Context())
	if err != nil {
		s.serverError(w, "reconcile sweep", err)
		return
	}
	s.metrics.FaultsRecorded.Add(float64(result.NewFaults))
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

package ops

import (
	"net/http"

	"github.com/leeforge/runtimekit/metrics"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		respondError(w, r, http.StatusNotFound, "health aggregator not configured")
		return
	}

	report := s.health.CheckHealth(r.Context())
	status := http.StatusOK
	if report.Status == metrics.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	respond(w, r, status, report)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		respondError(w, r, http.StatusNotFound, "metrics collector not configured")
		return
	}
	respond(w, r, http.StatusOK, s.collector.GetSummary())
}

// handlePrometheus writes bare exposition text, not the envelope; scrapers
// expect the raw format.
func (s *Server) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		respondError(w, r, http.StatusNotFound, "metrics collector not configured")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(s.collector.PrometheusFormat()))
}

func (s *Server) handleRecentErrors(w http.ResponseWriter, r *http.Request) {
	if s.errs == nil {
		respondError(w, r, http.StatusNotFound, "error handler not configured")
		return
	}
	respond(w, r, http.StatusOK, s.errs.History())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if s.errs == nil {
		respondError(w, r, http.StatusNotFound, "error handler not configured")
		return
	}
	respond(w, r, http.StatusOK, s.errs.RecentAlerts())
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if s.resources == nil {
		respondError(w, r, http.StatusNotFound, "resource manager not configured")
		return
	}
	respond(w, r, http.StatusOK, s.resources.Statistics())
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	if s.breakers == nil {
		respondError(w, r, http.StatusNotFound, "breaker set not configured")
		return
	}
	respond(w, r, http.StatusOK, s.breakers.Stats())
}

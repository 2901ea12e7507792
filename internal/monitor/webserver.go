// Package monitor exposes pipeline health and statistics over HTTP for
// dashboards and scripted checks.
package monitor

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cpsl-research/trust-ros/internal/fusion"
	"github.com/cpsl-research/trust-ros/internal/publish"
	"github.com/cpsl-research/trust-ros/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SyncStatsProvider supplies synchronizer statistics.
type SyncStatsProvider interface {
	Stats() fusion.SyncStats
}

// PipelineStatsProvider supplies orchestrator statistics.
type PipelineStatsProvider interface {
	Stats() fusion.OrchestratorStats
}

// PublisherStatsProvider supplies gRPC publisher statistics.
type PublisherStatsProvider interface {
	Stats() publish.PublisherStats
}

// TrustHistoryProvider serves persisted trust history for one target.
type TrustHistoryProvider interface {
	TrustHistory(targetID string, limit int) ([]fusion.TrustEstimate, error)
}

type Server struct {
	sync      SyncStatsProvider
	pipeline  PipelineStatsProvider
	publisher PublisherStatsProvider
	history   TrustHistoryProvider
	started   time.Time
}

func NewServer(sync SyncStatsProvider, pipeline PipelineStatsProvider, publisher PublisherStatsProvider, history TrustHistoryProvider) *Server {
	return &Server{
		sync:      sync,
		pipeline:  pipeline,
		publisher: publisher,
		history:   history,
		started:   time.Now(),
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.showHealth)
	mux.HandleFunc("/api/sync_stats", s.showSyncStats)
	mux.HandleFunc("/api/pipeline_stats", s.showPipelineStats)
	mux.HandleFunc("/api/publisher_stats", s.showPublisherStats)
	mux.HandleFunc("/api/trust_history", s.showTrustHistory)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	health := map[string]interface{}{
		"status":         "ok",
		"version":        version.Version,
		"uptime_seconds": time.Since(s.started).Seconds(),
	}
	if s.sync != nil {
		stats := s.sync.Stats()
		health["stalled"] = stats.Stalled
		if stats.Stalled {
			health["status"] = "stalled"
		}
	}
	s.writeJSON(w, health)
}

func (s *Server) showSyncStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.sync == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Synchronizer not running")
		return
	}
	s.writeJSON(w, s.sync.Stats())
}

func (s *Server) showPipelineStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.pipeline == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Pipeline not running")
		return
	}
	s.writeJSON(w, s.pipeline.Stats())
}

func (s *Server) showPublisherStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.publisher == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Publisher not running")
		return
	}
	s.writeJSON(w, s.publisher.Stats())
}

func (s *Server) showTrustHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.history == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Persistence not enabled")
		return
	}

	target := r.URL.Query().Get("target")
	if target == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'target' parameter")
		return
	}

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	history, err := s.history.TrustHistory(target, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to load trust history")
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"target":    target,
		"estimates": history,
	})
}

// Package http exposes the server's control and observability surface:
// health, Prometheus metrics, knob management, station listing and a
// websocket feed of aggregated metric rows.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"audiomon-server/pkg/errors"
	"audiomon-server/pkg/knobs"
	"audiomon-server/pkg/metrics"
	"audiomon-server/pkg/pipeline"
	"audiomon-server/pkg/store"
)

// Config holds HTTP server configuration.
type Config struct {
	Port           int
	MetricsEnabled bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// StatsProvider surfaces live pipeline counters for /status.
type StatsProvider interface {
	Stats() map[string]interface{}
}

// Server is the HTTP control plane.
type Server struct {
	config     Config
	logger     *logrus.Logger
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time

	resolver *knobs.Resolver
	registry *pipeline.Registry
	stats    StatsProvider
	auditor  store.Store
	wsFeed   *MetricsFeedHandler
}

// NewServer creates a new HTTP server instance. auditor receives knob
// change events; pass store.Nop{} to disable auditing.
func NewServer(config Config, logger *logrus.Logger, resolver *knobs.Resolver, registry *pipeline.Registry, stats StatsProvider, auditor store.Store, wsFeed *MetricsFeedHandler) *Server {
	server := &Server{
		config:    config,
		logger:    logger,
		startTime: time.Now(),
		resolver:  resolver,
		registry:  registry,
		stats:     stats,
		auditor:   auditor,
		wsFeed:    wsFeed,
	}

	mux := http.NewServeMux()
	server.mux = mux

	mux.HandleFunc("/health", server.healthHandler)
	mux.HandleFunc("/status", server.statusHandler)
	mux.HandleFunc("/stations", server.stationsHandler)
	mux.HandleFunc("/knobs", server.knobsHandler)
	mux.HandleFunc("/knobs/global", server.knobGlobalHandler)
	mux.HandleFunc("/knobs/call", server.knobCallHandler)
	mux.HandleFunc("/knobs/reset", server.knobResetHandler)

	if config.MetricsEnabled {
		if registry := metrics.GetRegistry(); registry != nil {
			mux.Handle("/metrics", promhttp.HandlerFor(
				registry,
				promhttp.HandlerOpts{
					EnableOpenMetrics: true,
					Registry:          registry,
				},
			))
			logger.Info("Prometheus metrics endpoint enabled at /metrics")
		}
	} else {
		logger.Info("Metrics endpoint disabled")
	}

	if wsFeed != nil {
		mux.Handle("/ws/metrics", wsFeed)
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

// Start begins serving in the background.
func (s *Server) Start() {
	s.logger.WithField("port", s.config.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()

	go func() {
		time.Sleep(500 * time.Millisecond)
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", s.config.Port), 2*time.Second)
		if err != nil {
			s.logger.WithError(err).Error("Could not connect to HTTP server")
			return
		}
		conn.Close()
		s.logger.Info("HTTP server is running correctly")
	}()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"started_at": s.startTime.Format(time.RFC3339),
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":     "ok",
		"uptime":     time.Since(s.startTime).String(),
		"started_at": s.startTime.Format(time.RFC3339),
		"stations":   s.registry.Count(),
	}
	if s.stats != nil {
		for k, v := range s.stats.Stats() {
			status[k] = v
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) stationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, s.registry.List())
}

// knobsHandler returns the layered resolver state, or the effective map
// for one call when ?call_id= is given.
func (s *Server) knobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET only")
		return
	}
	if callID := r.URL.Query().Get("call_id"); callID != "" {
		writeJSON(w, http.StatusOK, s.resolver.Resolve(callID))
		return
	}
	writeJSON(w, http.StatusOK, s.resolver.State())
}

type knobChangeRequest struct {
	CallID string      `json:"call_id,omitempty"`
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
	Source string      `json:"source,omitempty"`
}

func (s *Server) knobGlobalHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req knobChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	result, err := s.resolver.SetGlobal(req.Key, req.Value, req.Source)
	if err != nil {
		s.writeKnobError(w, err)
		return
	}

	metrics.RecordKnobChange("global")
	s.audit(result)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) knobCallHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req knobChangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.CallID == "" {
			writeError(w, http.StatusBadRequest, "call_id is required")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}

		result, err := s.resolver.SetCallScoped(req.CallID, req.Key, req.Value, req.Source)
		if err != nil {
			s.writeKnobError(w, err)
			return
		}

		metrics.RecordKnobChange("call")
		s.audit(result)
		writeJSON(w, http.StatusOK, result)

	case http.MethodDelete:
		callID := r.URL.Query().Get("call_id")
		if callID == "" {
			writeError(w, http.StatusBadRequest, "call_id is required")
			return
		}
		s.resolver.ClearCall(callID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared", "call_id": callID})

	default:
		writeError(w, http.StatusMethodNotAllowed, "POST or DELETE only")
	}
}

func (s *Server) knobResetHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		s.resolver.ResetAll()
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset_all"})
		return
	}
	if err := s.resolver.Reset(key); err != nil {
		s.writeKnobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "key": key})
}

func (s *Server) audit(result knobs.ChangeResult) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.RecordKnobEvent(result); err != nil {
		metrics.RecordStoreFailure("knob_event")
		s.logger.WithError(err).Warn("Failed to record knob event")
	}
}

func (s *Server) writeKnobError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.IsErrorType(err, errors.ErrUnknownKnob) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  errors.GetErrorCode(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/user/viral-detector-go/internal/model"
	"github.com/user/viral-detector-go/internal/store"
)

// Metrics for Prometheus
var (
	videosTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "viral_detector_videos_total",
		Help: "Number of stored videos",
	}, []string{"set"})

	recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viral_detector_records_total",
		Help: "Feed records handled, by region and result",
	}, []string{"region", "result"})

	fetchErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viral_detector_fetch_errors_total",
		Help: "Feed page failures after retries",
	}, []string{"type"})

	runDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "viral_detector_run_duration_seconds",
		Help:    "Duration of detection runs in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viral_detector_runs_total",
		Help: "Detection runs by outcome",
	}, []string{"outcome"})

	exportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "viral_detector_exports_total",
		Help: "Export invocations by exporter and status",
	}, []string{"exporter", "status"})
)

func init() {
	prometheus.MustRegister(videosTotal)
	prometheus.MustRegister(recordsTotal)
	prometheus.MustRegister(fetchErrorsTotal)
	prometheus.MustRegister(runDurationSeconds)
	prometheus.MustRegister(runsTotal)
	prometheus.MustRegister(exportsTotal)
}

// RunStatus reports what the detector is doing right now
type RunStatus interface {
	StateName() string
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string   `json:"status"`
	Database string   `json:"database"`
	Uptime   string   `json:"uptime"`
	State    string   `json:"state,omitempty"`
	LastRun  *LastRun `json:"last_run,omitempty"`
}

// LastRun is the health view of the latest recorded run
type LastRun struct {
	RunID      string           `json:"run_id"`
	Outcome    model.RunOutcome `json:"outcome"`
	Viral      int              `json:"viral"`
	FinishedAt time.Time        `json:"finished_at"`
	FailReason string           `json:"fail_reason,omitempty"`
}

// Server handles HTTP requests for health checks and metrics
type Server struct {
	store     store.Store
	status    RunStatus
	router    *http.ServeMux
	server    *http.Server
	startTime time.Time
}

// NewServer creates a new HTTP server instance. status may be nil.
func NewServer(store store.Store, status RunStatus) *Server {
	s := &Server{
		store:     store,
		status:    status,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on the specified port
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Int("port", port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth returns JSON with status, database connectivity, uptime and
// the latest run
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbStatus := "healthy"
	if err := s.store.Ping(ctx); err != nil {
		dbStatus = fmt.Sprintf("unhealthy: %v", err)
	}

	uptime := time.Since(s.startTime).Round(time.Second).String()

	status := "healthy"
	if dbStatus != "healthy" {
		status = "unhealthy"
	}

	response := HealthResponse{
		Status:   status,
		Database: dbStatus,
		Uptime:   uptime,
	}
	if s.status != nil {
		response.State = s.status.StateName()
	}

	if status == "healthy" {
		run, err := s.store.LastRun(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load last run")
		} else if run != nil {
			response.LastRun = &LastRun{
				RunID:      run.RunID,
				Outcome:    run.Outcome,
				Viral:      run.Viral,
				FinishedAt: run.FinishedAt,
				FailReason: run.FailReason,
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode health response")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// UpdateVideoCounts updates the stored video gauges
func UpdateVideoCounts(counts store.Counts) {
	videosTotal.WithLabelValues("all").Set(float64(counts.Total))
	videosTotal.WithLabelValues("viral").Set(float64(counts.Viral))
}

// RecordRegion adds one page worth of region counts
func RecordRegion(region string, processed, dropped, viral, skipped int) {
	recordsTotal.WithLabelValues(region, "processed").Add(float64(processed))
	recordsTotal.WithLabelValues(region, "dropped").Add(float64(dropped))
	recordsTotal.WithLabelValues(region, "viral").Add(float64(viral))
	recordsTotal.WithLabelValues(region, "skipped").Add(float64(skipped))
}

// RecordFetchError records a failed page fetch
func RecordFetchError(errorType string) {
	fetchErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordRun records a finished run
func RecordRun(outcome model.RunOutcome, duration time.Duration) {
	runsTotal.WithLabelValues(string(outcome)).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// RecordExport records an export invocation
func RecordExport(exporter, status string) {
	exportsTotal.WithLabelValues(exporter, status).Inc()
}

// GetUptime returns the server uptime
func (s *Server) GetUptime() time.Duration {
	return time.Since(s.startTime)
}

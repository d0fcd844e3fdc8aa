package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hostsentry/internal/alerts"
	"hostsentry/internal/config"
	"hostsentry/internal/model"
)

// HostStateReader is the slice of the engine the read-only surface needs.
type HostStateReader interface {
	HostState(ctx context.Context, host string) (model.HostPolicyState, bool, error)
	TrackedHosts() int
	Started() time.Time
	Reset()
}

type Server struct {
	cfg     *config.Manager
	alerts  *alerts.Store
	engine  HostStateReader
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status       string          `json:"status"`
	Time         string          `json:"time"`
	Version      string          `json:"version"`
	ConfigPath   string          `json:"config_path"`
	StartedAt    string          `json:"started_at"`
	TrackedHosts int             `json:"tracked_hosts"`
	Detection    detectionStatus `json:"detection"`
	Gateway      gatewayStatus   `json:"gateway"`
}

type detectionStatus struct {
	WindowSpan         string `json:"window_span"`
	BruteForce         int    `json:"brute_force_threshold"`
	PasswordSpray      int    `json:"password_spray_threshold"`
	SuccessAfter       int    `json:"success_after_failure_run"`
	IngestStorm        int    `json:"ingest_storm_threshold"`
	IngestStormWindow  string `json:"ingest_storm_interval"`
	QuarantineSeverity int    `json:"quarantine_severity"`
	EscalationLimit    int    `json:"escalation_limit"`
	Cooldown           string `json:"cooldown"`
}

type gatewayStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func Start(ctx context.Context, cfg *config.Manager, alertsStore *alerts.Store, eng HostStateReader, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:     cfg,
		alerts:  alertsStore,
		engine:  eng,
		logger:  logger,
		version: version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", server.handleStatus)
	mux.HandleFunc("/alerts", server.handleAlerts)
	mux.HandleFunc("/hosts/", server.handleHostState)
	mux.HandleFunc("/admin/reset", server.handleReset)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	resp := statusResponse{
		Status:       "ok",
		Time:         time.Now().UTC().Format(time.RFC3339Nano),
		Version:      s.version,
		ConfigPath:   s.cfg.Path(),
		StartedAt:    s.engine.Started().Format(time.RFC3339Nano),
		TrackedHosts: s.engine.TrackedHosts(),
		Detection: detectionStatus{
			WindowSpan:         cfg.Detection.WindowSpan.String(),
			BruteForce:         cfg.Detection.BruteForce.Threshold,
			PasswordSpray:      cfg.Detection.PasswordSpray.Threshold,
			SuccessAfter:       cfg.Detection.SuccessAfter.FailureRun,
			IngestStorm:        cfg.Detection.IngestStorm.Threshold,
			IngestStormWindow:  cfg.Detection.IngestStorm.Interval.String(),
			QuarantineSeverity: cfg.Policy.QuarantineSeverity,
			EscalationLimit:    cfg.Policy.EscalationLimit,
			Cooldown:           cfg.Policy.Cooldown.String(),
		},
		Gateway: gatewayStatus{Enabled: cfg.Gateway.Enabled, Addr: cfg.Gateway.Addr},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Alert
	switch {
	case r.URL.Query().Get("since") != "":
		ts, err := time.Parse(time.RFC3339, r.URL.Query().Get("since"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.alerts.Since(ts)
	case r.URL.Query().Get("host") != "":
		list = s.alerts.ForHost(r.URL.Query().Get("host"), limit)
	default:
		list = s.alerts.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

func (s *Server) handleHostState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	host := strings.TrimPrefix(r.URL.Path, "/hosts/")
	if host == "" || strings.Contains(host, "/") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	st, found, err := s.engine.HostState(r.Context(), host)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !found {
		// Never-seen hosts report the default posture rather than 404: the
		// answer to "what would you decide" is ALLOW.
		st = model.NewHostPolicyState(host)
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.engine.Reset()
	s.alerts.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

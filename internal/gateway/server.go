package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"hostsentry/internal/config"
	"hostsentry/internal/engine"
	"hostsentry/internal/ingest"
	"hostsentry/internal/metrics"
	"hostsentry/internal/model"
	"hostsentry/internal/storage"
)

// Server is the authenticated ingestion boundary. Every request is checked
// in order: signature over raw bytes, schema, replay window, duplicate
// event id, per-host rate limit. Only then does the event reach the
// correlation core, and the policy decision is returned synchronously so
// the sender can short-circuit a blocked host's traffic.
type Server struct {
	cfg     *config.Manager
	engine  *engine.Engine
	store   storage.Store
	audit   *Auditor
	limiter *RateLimiter
	secret  []byte
	logger  *slog.Logger
	nowFn   func() time.Time
}

type ingestResponse struct {
	Accepted bool           `json:"accepted"`
	EventID  string         `json:"event_id,omitempty"`
	Decision model.Decision `json:"decision,omitempty"`
	AlertID  string         `json:"alert_id,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

func Start(ctx context.Context, cfg *config.Manager, eng *engine.Engine, store storage.Store, logger *slog.Logger) (*http.Server, error) {
	current := cfg.Get().Gateway
	if !current.Enabled {
		if logger != nil {
			logger.Info("gateway disabled")
		}
		return nil, nil
	}
	secret := os.Getenv(current.SecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%s is not set", current.SecretEnv)
	}
	audit, err := NewAuditor(current.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if logger != nil {
		logger.Info("gateway enabled", "addr", current.Addr, "audit_path", current.AuditPath)
	}
	server := &Server{
		cfg:     cfg,
		engine:  eng,
		store:   store,
		audit:   audit,
		limiter: NewRateLimiter(current.RateLimit, current.RateWindow),
		secret:  []byte(secret),
		logger:  logger,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", server.handleIngest)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go server.pruneLoop(ctx)
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
		_ = audit.Close()
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("gateway server error", "err", err)
			}
		}
	}()
	return httpServer, nil
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 2<<20))
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	now := s.nowFn()
	clientIP := r.RemoteAddr
	bodyHash := SHA256Hex(body)

	ok, reason := VerifySignature(s.secret, body, r.Header.Get(SigHeader))
	if !ok {
		s.reject(w, http.StatusUnauthorized, reason, clientIP, bodyHash, nil)
		return
	}

	ev, err := ingest.ParseEvent(body)
	if err != nil {
		s.reject(w, http.StatusBadRequest, ReasonInvalidEvent, clientIP, bodyHash, nil, "err", err.Error())
		return
	}

	cfg := s.cfg.Get().Gateway
	if ok, reason := CheckReplayWindow(ev.TimestampUTC, now, cfg.ReplayWindow); !ok {
		s.reject(w, http.StatusBadRequest, reason, clientIP, bodyHash, &ev)
		return
	}

	seen, err := s.store.SeenEvent(r.Context(), ev.EventID)
	if err != nil {
		s.reject(w, http.StatusInternalServerError, ReasonProcessingError, clientIP, bodyHash, &ev, "err", err.Error())
		return
	}
	if seen {
		s.reject(w, http.StatusConflict, ReasonDuplicateEvent, clientIP, bodyHash, &ev)
		return
	}

	if !s.limiter.Allow(ev.Host, now) {
		s.reject(w, http.StatusTooManyRequests, ReasonRateLimited, clientIP, bodyHash, &ev)
		return
	}

	// Marked only after every check passed, so a rejected id can be retried.
	if err := s.store.MarkEvent(r.Context(), ev.EventID, now); err != nil {
		s.reject(w, http.StatusInternalServerError, ReasonProcessingError, clientIP, bodyHash, &ev, "err", err.Error())
		return
	}

	decision, alert, err := s.engine.ProcessEvent(r.Context(), ev)
	if err != nil {
		// The pass failed atomically; surfacing the error beats a silent
		// ALLOW. Unmark the id so the sender's retry is not rejected as a
		// duplicate.
		if uerr := s.store.UnmarkEvent(r.Context(), ev.EventID); uerr != nil && s.logger != nil {
			s.logger.Error("unmark event after failed pass", "event_id", ev.EventID, "err", uerr)
		}
		s.reject(w, http.StatusInternalServerError, ReasonProcessingError, clientIP, bodyHash, &ev, "err", err.Error())
		return
	}
	metrics.EventsIngested.WithLabelValues("gateway").Inc()

	s.audit.Accept(
		"client_ip", clientIP,
		"body_sha256", bodyHash,
		"event_id", ev.EventID,
		"host", ev.Host,
		"source", ev.Source,
		"category", ev.Category,
		"action", ev.Action,
		"severity", ev.Severity,
	)
	resp := ingestResponse{Accepted: true, EventID: ev.EventID, Decision: decision}
	decisionAttrs := []any{
		"event_id", ev.EventID,
		"host", ev.Host,
		"decision", decision,
	}
	if alert != nil {
		resp.AlertID = alert.AlertID
		decisionAttrs = append(decisionAttrs, "alert_id", alert.AlertID)
	}
	s.audit.Decision(decisionAttrs...)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) reject(w http.ResponseWriter, status int, reason, clientIP, bodyHash string, ev *model.EventRecord, extra ...any) {
	metrics.GatewayRejects.WithLabelValues(reason).Inc()
	attrs := []any{
		"client_ip", clientIP,
		"body_sha256", bodyHash,
	}
	if ev != nil {
		attrs = append(attrs, "event_id", ev.EventID, "host", ev.Host, "source", ev.Source)
	}
	attrs = append(attrs, extra...)
	s.audit.Reject(reason, attrs...)
	writeJSON(w, status, ingestResponse{Accepted: false, Reason: reason})
}

// pruneLoop trims expired idempotency rows so the table does not grow
// without bound.
func (s *Server) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ttl := s.cfg.Get().Gateway.DedupeTTL
			if n, err := s.store.PruneEvents(ctx, s.nowFn().Add(-ttl)); err != nil {
				if s.logger != nil {
					s.logger.Warn("idempotency prune failed", "err", err)
				}
			} else if n > 0 && s.logger != nil {
				s.logger.Debug("idempotency rows pruned", "count", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

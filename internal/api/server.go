// Package api exposes the HTTP interface for the orchestration service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harvestkit/harvestd/internal/dedup"
	"github.com/harvestkit/harvestd/internal/dispatcher"
	"github.com/harvestkit/harvestd/internal/harvest"
	"github.com/harvestkit/harvestd/internal/monitor"
	"github.com/harvestkit/harvestd/internal/queue"
	"github.com/harvestkit/harvestd/internal/telemetry"
)

// maxAcquireWait caps how long a remote executor may long-poll for work.
const maxAcquireWait = 30 * time.Second

// Server wires HTTP handlers to the queue, monitor, dispatcher, and dedup
// engine.
type Server struct {
	router     chi.Router
	queue      *queue.Manager
	monitor    *monitor.Monitor
	dispatcher *dispatcher.Dispatcher
	dedup      *dedup.Engine
	idGen      harvest.IDGenerator
	clock      harvest.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	q *queue.Manager,
	mon *monitor.Monitor,
	disp *dispatcher.Dispatcher,
	dd *dedup.Engine,
	idGen harvest.IDGenerator,
	clock harvest.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		queue:      q,
		monitor:    mon,
		dispatcher: disp,
		dedup:      dd,
		idGen:      idGen,
		clock:      clock,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.submitTask)
			r.Get("/next", s.nextTask)
		})
		r.Post("/outcomes", s.reportOutcome)
		r.Route("/domains/{domain}", func(r chi.Router) {
			r.Get("/", s.getDomain)
			r.Post("/cancel", s.cancelDomain)
		})
		r.Post("/content/check", s.checkContent)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitTaskRequest struct {
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Priority int    `json:"priority"`
	ParentID string `json:"parent_id"`
}

func (s *Server) submitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	task, err := s.toTask(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.Submit(task); err != nil {
		if errors.Is(err, harvest.ErrQueueFull) {
			s.writeError(w, http.StatusTooManyRequests, "queue is full")
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": task.ID})
}

// nextTask hands one admissible task to a remote executor, long-polling up
// to wait_ms (default 5s). The task counts as inflight until an outcome
// for it arrives.
func (s *Server) nextTask(w http.ResponseWriter, r *http.Request) {
	wait := 5 * time.Second
	if raw := r.URL.Query().Get("wait_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid wait_ms")
			return
		}
		wait = time.Duration(ms) * time.Millisecond
	}
	if wait > maxAcquireWait {
		wait = maxAcquireWait
	}
	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()

	task, err := s.queue.AcquireNext(ctx)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

type outcomeRequest struct {
	TaskID    string `json:"task_id"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Content   string `json:"content"`
	ByteSize  int64  `json:"byte_size"`
}

func (s *Server) reportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.TaskID == "" {
		s.writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	status := harvest.Status(req.Status)
	switch status {
	case harvest.StatusSuccess, harvest.StatusFailure, harvest.StatusTimeout:
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	outcome := harvest.Outcome{
		TaskID:    req.TaskID,
		Status:    status,
		Latency:   time.Duration(req.LatencyMs) * time.Millisecond,
		Content:   []byte(req.Content),
		ByteSize:  req.ByteSize,
		Timestamp: s.clock.Now(),
	}
	if outcome.ByteSize == 0 {
		outcome.ByteSize = int64(len(outcome.Content))
	}
	if err := s.dispatcher.ReportByID(r.Context(), outcome); err != nil {
		if errors.Is(err, harvest.ErrUnknownTask) {
			s.writeError(w, http.StatusNotFound, "no inflight task with that id")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"task_id": req.TaskID})
}

type domainResponse struct {
	Snapshot harvest.DomainSnapshot `json:"snapshot"`
	Backoff  float64                `json:"backoff"`
	Slots    int                    `json:"slots"`
	Inflight int                    `json:"inflight"`
	Alerting bool                   `json:"alerting"`
}

func (s *Server) getDomain(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	backoff, slots, inflight := s.queue.DomainView(domain)
	s.writeJSON(w, http.StatusOK, domainResponse{
		Snapshot: s.monitor.Snapshot(domain),
		Backoff:  backoff,
		Slots:    slots,
		Inflight: inflight,
		Alerting: s.monitor.ShouldAlert(domain),
	})
}

func (s *Server) cancelDomain(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	canceled := s.queue.CancelDomain(domain)
	s.writeJSON(w, http.StatusOK, map[string]any{"domain": domain, "canceled": canceled})
}

type checkContentRequest struct {
	Content string `json:"content"`
}

func (s *Server) checkContent(w http.ResponseWriter, r *http.Request) {
	var req checkContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	verdict, err := s.dedup.IsDuplicate([]byte(req.Content))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) toTask(req submitTaskRequest) (harvest.Task, error) {
	if req.URL == "" {
		return harvest.Task{}, errors.New("url is required")
	}
	domain := req.Domain
	if domain == "" {
		u, err := url.Parse(req.URL)
		if err != nil || u.Host == "" {
			return harvest.Task{}, errors.New("domain is required when url has no host")
		}
		domain = strings.ToLower(u.Host)
	}
	id, err := s.idGen.NewID()
	if err != nil {
		return harvest.Task{}, fmt.Errorf("generate task id: %w", err)
	}
	return harvest.Task{
		ID:          id,
		URL:         req.URL,
		Domain:      domain,
		Priority:    req.Priority,
		EnqueueTime: s.clock.Now(),
		ParentID:    req.ParentID,
	}, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

// metricsMiddleware records request counts and latency per chi route
// pattern, so /v1/domains/{domain} stays one label value regardless of
// how many domains are queried.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		telemetry.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Package api exposes the HTTP interface for the scrape orchestration
// service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/socialscope/scrapewatch/internal/config"
	"github.com/socialscope/scrapewatch/internal/core"
	"github.com/socialscope/scrapewatch/internal/dispatch"
	"github.com/socialscope/scrapewatch/internal/ingest"
	"github.com/socialscope/scrapewatch/internal/metrics"
	"github.com/socialscope/scrapewatch/internal/reconcile"
	"github.com/socialscope/scrapewatch/internal/session"
)

// Server wires HTTP handlers to the session, dispatch, ingest and reconcile
// subsystems.
type Server struct {
	router     chi.Router
	sessions   *session.Service
	tasks      core.TaskStore
	dispatcher *dispatch.Dispatcher
	ingestor   *ingest.Ingestor
	reconciler *reconcile.Reconciler
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sessions *session.Service,
	tasks core.TaskStore,
	dispatcher *dispatch.Dispatcher,
	ingestor *ingest.Ingestor,
	reconciler *reconcile.Reconciler,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions:   sessions,
		tasks:      tasks,
		dispatcher: dispatcher,
		ingestor:   ingestor,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The job runner cannot send API keys, so the webhook route sits
		// outside the authenticated group. Idempotency makes spoofed or
		// replayed deliveries harmless.
		r.Post("/webhooks/runner", s.handleRunnerWebhook)

		r.Group(func(r chi.Router) {
			if cfg.Auth.Enabled {
				r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
			}
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.createSession)
				r.Route("/{session_id}", func(r chi.Router) {
					r.Post("/dispatch", s.dispatchSession)
					r.Get("/status", s.sessionStatus)
					r.Get("/tasks", s.listTasks)
					r.Post("/tasks/redispatch", s.redispatchTask)
					r.Post("/generation", s.recordGeneration)
				})
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createSessionRequest struct {
	SubjectName string `json:"subject_name"`
	Region      string `json:"region"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SubjectName == "" {
		writeError(w, http.StatusBadRequest, "subject_name is required")
		return
	}
	sess, reused, err := s.sessions.Ensure(r.Context(), req.SubjectName, req.Region)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusCreated
	if reused {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"session": sess, "reused": reused})
}

type dispatchRequest struct {
	Entities []dispatch.Entity `json:"entities"`
}

func (s *Server) dispatchSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var req dispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	report, err := s.dispatcher.DispatchSession(r.Context(), sess, req.Entities)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.reconciler.Poll(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		// A transient store failure must not look like a session verdict.
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	tasks, err := s.tasks.ListBySession(r.Context(), sess.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tasks == nil {
		tasks = []core.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

type redispatchRequest struct {
	EntityName string        `json:"entity_name"`
	Platform   core.Platform `json:"platform"`
}

func (s *Server) redispatchTask(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	var req redispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EntityName == "" || !req.Platform.Known() {
		writeError(w, http.StatusBadRequest, "entity_name and a known platform are required")
		return
	}
	key := core.TaskKey{SessionID: sess.ID, EntityName: req.EntityName, Platform: req.Platform}
	jobID, err := s.dispatcher.Redispatch(r.Context(), sess, key)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

type generationRequest struct {
	Outcome string `json:"outcome"`
}

// recordGeneration advances the post-scraping phase: "started" enters
// generating, "succeeded" completes the session, "failed" fails it.
func (s *Server) recordGeneration(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var to core.SessionStatus
	switch req.Outcome {
	case "started":
		to = core.SessionGenerating
	case "succeeded":
		to = core.SessionCompleted
	case "failed":
		to = core.SessionFailed
	default:
		writeError(w, http.StatusBadRequest, "outcome must be started, succeeded or failed")
		return
	}

	sess, err := s.sessions.Transition(r.Context(), sessionID, to)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	metrics.ObserveSessionTransition(string(to))
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

// runnerWebhookPayload mirrors the runner's notification shape.
type runnerWebhookPayload struct {
	EventType string `json:"eventType"`
	Resource  struct {
		ID               string `json:"id"`
		DefaultDatasetID string `json:"defaultDatasetId"`
	} `json:"resource"`
}

// handleRunnerWebhook acknowledges every delivery with a success status. A
// non-2xx response would only make the runner redeliver an event we already
// know how to classify; processing failures are visible in logs and metrics
// instead.
func (s *Server) handleRunnerWebhook(w http.ResponseWriter, r *http.Request) {
	var payload runnerWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.Warn("malformed webhook payload", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]any{"processed": false})
		return
	}

	outcome := s.ingestor.HandleEvent(r.Context(), core.RunnerEvent{
		Kind:          core.RunnerEventKind(payload.EventType),
		JobID:         payload.Resource.ID,
		DatasetHandle: payload.Resource.DefaultDatasetID,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"processed": outcome == ingest.OutcomeProcessed || outcome == ingest.OutcomeNoSignal,
		"outcome":   string(outcome),
	})
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (core.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), chi.URLParam(r, "session_id"))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return core.Session{}, false
	}
	return sess, true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrConflict),
		errors.Is(err, core.ErrAlreadyDispatched):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
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
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestIDFromContext(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

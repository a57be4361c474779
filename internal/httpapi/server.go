// Package httpapi exposes a local status and control API for the sync
// daemon. It is meant to be bound to loopback and consumed by the app
// shell or debugging tools, not exposed publicly.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/adapter/sqlite"
	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/port"
	"github.com/pulsefit/offline-sync/internal/service/cache"
	"github.com/pulsefit/offline-sync/internal/service/engine"
	"github.com/pulsefit/offline-sync/internal/service/netmon"
	"github.com/pulsefit/offline-sync/internal/service/queue"
	"github.com/pulsefit/offline-sync/internal/service/scheduler"
)

// prefsMetaKey is where runtime network preference overrides persist.
const prefsMetaKey = "prefs:network"

// NetworkPrefs are the user-adjustable sync gating preferences.
type NetworkPrefs struct {
	WifiOnly   *bool   `json:"wifi_only,omitempty"`
	MinQuality *string `json:"min_quality,omitempty"`
}

// Config contains HTTP server configuration
type Config struct {
	BindAddr     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server represents the HTTP API server
type Server struct {
	db        *sqlite.Store
	engine    *engine.Engine
	queue     *queue.Queue
	cache     *cache.Manager
	monitor   *netmon.Monitor
	scheduler *scheduler.Scheduler
	server    *http.Server
	logger    *zap.Logger
}

// NewServer creates a new HTTP API server
func NewServer(cfg Config, db *sqlite.Store, eng *engine.Engine, q *queue.Queue, c *cache.Manager, mon *netmon.Monitor, sched *scheduler.Scheduler, logger *zap.Logger) *Server {
	s := &Server{
		db:        db,
		engine:    eng,
		queue:     q,
		cache:     c,
		monitor:   mon,
		scheduler: sched,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.withLogging)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	r.Post("/sync", s.handleSync)
	r.Post("/schedule", s.handleSchedule)
	r.Post("/network/preferences", s.handleNetworkPrefs)

	r.Route("/queue", func(r chi.Router) {
		r.Get("/pending", s.handleQueuePending)
		r.Get("/failed", s.handleQueueFailed)
		r.Get("/stats", s.handleQueueStats)
		r.Post("/retry", s.handleQueueRetry)
		r.Post("/{id}/retry", s.handleQueueRetryOne)
		r.Delete("/completed", s.handleQueueClearCompleted)
		r.Delete("/failed", s.handleQueueClearFailed)
	})

	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", s.handleCacheStats)
		r.Get("/export", s.handleCacheExport)
		r.Post("/import", s.handleCacheImport)
		r.Post("/cleanup", s.handleCacheCleanup)
		r.Delete("/", s.handleCacheClear)
	})

	r.Route("/conflicts", func(r chi.Router) {
		r.Get("/", s.handleConflicts)
		r.Post("/{id}/resolve", s.handleResolveConflict)
	})

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// withLogging adds request logging middleware
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, errors.New("database unavailable"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"network":   s.monitor.GetStatus(),
		"can_sync":  s.monitor.CanSync(),
		"schedule":  s.scheduler.GetState(),
		"queue":     stats,
		"conflicts": len(s.engine.Conflicts()),
	})
}

type syncRequest struct {
	Force    bool     `json:"force"`
	Entities []string `json:"entities,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if r.Body != nil {
		// Empty body means a plain non-forced sync.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	entities := make([]domain.EntityType, 0, len(req.Entities))
	for _, e := range req.Entities {
		et := domain.EntityType(e)
		if !et.Valid() {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown entity type: %s", e))
			return
		}
		entities = append(entities, et)
	}

	result, err := s.engine.Sync(r.Context(), engine.Options{
		Direction: engine.DirectionBidirectional,
		Entities:  entities,
		Force:     req.Force,
	})
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		s.writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, domain.ErrOffline):
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type scheduleRequest struct {
	Enabled         *bool `json:"enabled,omitempty"`
	IntervalMinutes *int  `json:"interval_minutes,omitempty"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	var interval *time.Duration
	if req.IntervalMinutes != nil {
		if *req.IntervalMinutes <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("interval_minutes must be positive"))
			return
		}
		d := time.Duration(*req.IntervalMinutes) * time.Minute
		interval = &d
	}

	if err := s.scheduler.UpdateSchedule(interval, req.Enabled); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.scheduler.GetState())
}

func (s *Server) handleNetworkPrefs(w http.ResponseWriter, r *http.Request) {
	var req NetworkPrefs
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.WifiOnly != nil {
		s.monitor.SetWifiOnly(*req.WifiOnly)
	}
	if req.MinQuality != nil {
		switch *req.MinQuality {
		case "poor", "fair", "good", "excellent":
		default:
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid quality: %s", *req.MinQuality))
			return
		}
		s.monitor.SetMinQuality(domain.ParseQuality(*req.MinQuality))
	}

	// Persist so the preference survives restarts.
	data, err := json.Marshal(req)
	if err == nil {
		if err := s.db.SetMeta(prefsMetaKey, string(data)); err != nil {
			s.logger.Warn("failed to persist network preferences", zap.Error(err))
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"status": s.monitor.GetStatus(), "can_sync": s.monitor.CanSync()})
}

func (s *Server) handleQueuePending(w http.ResponseWriter, r *http.Request) {
	ops, err := s.queue.Pending()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleQueueFailed(w http.ResponseWriter, r *http.Request) {
	ops, err := s.queue.Failed()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ops)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueRetry(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.RetryFailed()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (s *Server) handleQueueRetryOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.RetryOperation(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (s *Server) handleQueueClearCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ClearCompleted()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handleQueueClearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ClearFailed()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.cache.Export()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment; filename=cache-export.json")
	w.Write(data)
}

func (s *Server) handleCacheImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 64<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cache.Import(data); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}

func (s *Server) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := s.cache.Cleanup()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	// ?entity=workout clears one namespace; no param clears everything.
	entity := domain.EntityType(r.URL.Query().Get("entity"))
	if entity != "" && !entity.Valid() {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("unknown entity type: %s", entity))
		return
	}
	if err := s.cache.Clear(entity); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Conflicts())
}

type resolveRequest struct {
	Choice string        `json:"choice"`
	Merged domain.Record `json:"merged,omitempty"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	choice := domain.Resolution(req.Choice)
	switch choice {
	case domain.ResolutionLocal, domain.ResolutionRemote, domain.ResolutionMerged:
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid resolution choice: %s", req.Choice))
		return
	}

	if err := s.engine.ResolveConflict(r.Context(), id, choice, req.Merged); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// LoadNetworkPrefs reads persisted preference overrides, if any.
func LoadNetworkPrefs(meta port.MetaStore) (*NetworkPrefs, error) {
	raw, ok, err := meta.GetMeta(prefsMetaKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var prefs NetworkPrefs
	if err := json.Unmarshal([]byte(raw), &prefs); err != nil {
		return nil, fmt.Errorf("corrupt network preferences: %w", err)
	}
	return &prefs, nil
}

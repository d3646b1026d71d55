package httpapp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/go-chi/chi/v5"

	"github.com/cesargomez89/catalogsync/internal/app"
	"github.com/cesargomez89/catalogsync/internal/constants"
	"github.com/cesargomez89/catalogsync/internal/logger"
	"github.com/cesargomez89/catalogsync/internal/store"
	"github.com/cesargomez89/catalogsync/internal/worker"
)

// Drainer runs one drain of the sync queue.
type Drainer interface {
	Drain(ctx context.Context, opts worker.DrainOptions) (*worker.DrainResult, error)
}

type Handler struct {
	Rebuild      *app.RebuildService
	Queue        *app.QueueService
	Tracker      *app.SyncTracker
	Drainer      Drainer
	Supervisor   *app.Supervisor
	Repo         *store.DB
	Logger       *logger.Logger
	TriggerRPS   float64
	DrainTimeout time.Duration
}

func NewHandler(rebuild *app.RebuildService, queue *app.QueueService, tracker *app.SyncTracker, drainer Drainer, sup *app.Supervisor, repo *store.DB, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		Rebuild:      rebuild,
		Queue:        queue,
		Tracker:      tracker,
		Drainer:      drainer,
		Supervisor:   sup,
		Repo:         repo,
		Logger:       log.WithComponent("http"),
		TriggerRPS:   constants.DefaultTriggerRateLimit,
		DrainTimeout: constants.DefaultBackgroundTimeout,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.throttle)
			r.Post("/catalog/rebuild", h.RebuildCatalog)
			r.Post("/queue/drain", h.DrainQueue)
			r.Post("/queue", h.EnqueueSets)
		})

		r.Get("/catalog/{game}/stats", h.CatalogStats)
		r.Get("/queue", h.ListQueue)
		r.Get("/queue/stats", h.QueueStats)

		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/stats", h.JobStats)
		r.Delete("/jobs/finished", h.ClearFinishedJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Post("/jobs/{id}/cancel", h.CancelJob)
		r.Post("/jobs/{id}/retry", h.RetryJob)
	})
}

// throttle limits each trigger route to TriggerRPS requests per second
// across all clients. A non-positive rate disables it.
func (h *Handler) throttle(next http.Handler) http.Handler {
	if h.TriggerRPS <= 0 {
		return next
	}
	lmt := tollbooth.NewLimiter(h.TriggerRPS, &limiter.ExpirableOptions{
		DefaultExpirationTTL: time.Hour,
	})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpError := tollbooth.LimitByKeys(lmt, []string{r.URL.Path}); httpError != nil {
			h.writeJSON(w, httpError.StatusCode, map[string]string{"error": httpError.Message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", constants.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Warn("Failed to write response", "error", err)
	}
}

// writeError maps service errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrInvalidTransition), errors.Is(err, app.ErrSyncInProgress),
		errors.Is(err, app.ErrGameBusy):
		status = http.StatusConflict
	case errors.Is(err, app.ErrCooldown):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("Request failed", "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

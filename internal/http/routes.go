package httpapp

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cesargomez89/catalogsync/internal/app"
	"github.com/cesargomez89/catalogsync/internal/constants"
	"github.com/cesargomez89/catalogsync/internal/domain"
	"github.com/cesargomez89/catalogsync/internal/http/dto"
	"github.com/cesargomez89/catalogsync/internal/store"
	"github.com/cesargomez89/catalogsync/internal/worker"
)

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	version, err := h.Repo.SchemaVersion(r.Context())
	if err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"schema_version":   version,
		"background_tasks": h.Supervisor.Running(),
	})
}

// RebuildCatalog streams rebuild progress as newline-delimited JSON events.
// The response is always 200 once validation passes; per-game failures are
// reported as ERROR events and in the final COMPLETE event.
func (h *Handler) RebuildCatalog(w http.ResponseWriter, r *http.Request) {
	var req dto.RebuildRequest
	if !h.decode(w, r, &req) {
		return
	}

	w.Header().Set("Content-Type", constants.ContentTypeNDJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	emit := func(e app.Event) {
		if err := enc.Encode(e); err != nil {
			h.Logger.Debug("Rebuild stream write failed", "event", e.Type, "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	// A disconnected client does not abort a rebuild halfway.
	ctx := context.WithoutCancel(r.Context())
	h.Rebuild.Rebuild(ctx, app.RebuildRequest{
		Games: req.Games,
		Mode:  req.Mode,
		Force: req.Force,
	}, emit)
}

// DrainQueue hands a drain to the supervisor and returns immediately.
func (h *Handler) DrainQueue(w http.ResponseWriter, r *http.Request) {
	var req dto.DrainRequest
	if !h.decode(w, r, &req) {
		return
	}

	opts := worker.DrainOptions{
		Mode:           domain.QueueMode(req.Mode),
		MaxConcurrency: req.MaxConcurrency,
		MaxBatches:     req.MaxBatches,
		BatchSize:      req.BatchSize,
	}
	h.Supervisor.Go("drain", h.DrainTimeout, func(ctx context.Context) error {
		_, err := h.Drainer.Drain(ctx, opts)
		return err
	})

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handler) EnqueueSets(w http.ResponseWriter, r *http.Request) {
	var req dto.EnqueueRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.Queue.Enqueue(r.Context(), req.Game, domain.QueueMode(req.Mode), req.Sets)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListQueue(w http.ResponseWriter, r *http.Request) {
	status := domain.QueueStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.QueueStatusQueued
	}
	entries, err := h.Queue.List(r.Context(), status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Queue.Stats(r.Context(), domain.QueueMode(r.URL.Query().Get("mode")))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CatalogStats(w http.ResponseWriter, r *http.Request) {
	game := chi.URLParam(r, "game")
	if !constants.IsSupportedGame(game) {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown game: " + game})
		return
	}

	live, err := h.Repo.LiveCounts(r.Context(), game)
	if err != nil {
		h.writeError(w, err)
		return
	}
	shadow, err := h.Repo.ShadowCounts(r.Context(), game)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"game":   game,
		"live":   live,
		"shadow": shadow,
	})
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Type:  domain.JobType(q.Get("type")),
		Game:  q.Get("game"),
		SetID: q.Get("set"),
	}
	if s := q.Get("status"); s != "" {
		for _, status := range strings.Split(s, ",") {
			filter.Status = append(filter.Status, domain.JobStatus(strings.TrimSpace(status)))
		}
	}
	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.Tracker.ListJobs(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto.NewJobResponses(jobs))
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Tracker.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dto.NewJobResponse(job))
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Tracker.CancelJob(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "id": id})
}

func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Tracker.RetryJob(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "id": id})
}

func (h *Handler) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Tracker.JobStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) ClearFinishedJobs(w http.ResponseWriter, r *http.Request) {
	n, err := h.Tracker.ClearFinishedJobs(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

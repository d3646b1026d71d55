// Package worker drains the sync queue: it claims batches of queued sets and
// fetches their cards from the provider into the live catalog.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cesargomez89/catalogsync/internal/app"
	"github.com/cesargomez89/catalogsync/internal/catalog"
	"github.com/cesargomez89/catalogsync/internal/constants"
	"github.com/cesargomez89/catalogsync/internal/domain"
	"github.com/cesargomez89/catalogsync/internal/logger"
	"github.com/cesargomez89/catalogsync/internal/store"
)

var (
	ErrJobCancelled = errors.New("job was cancelled")
	ErrInterrupted  = errors.New("unit interrupted")
)

type StopReason string

const (
	StopEmpty      StopReason = "empty"
	StopMaxBatches StopReason = "max_batches"
	StopTimeBudget StopReason = "time_budget"
	StopCancelled  StopReason = "cancelled"
	StopGameBusy   StopReason = "game_busy"
)

type DrainOptions struct {
	Mode           domain.QueueMode
	MaxConcurrency int
	MaxBatches     int
	BatchSize      int
	TimeBudget     time.Duration
}

type DrainResult struct {
	Batches   int        `json:"batches"`
	Claimed   int        `json:"claimed"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Requeued  int        `json:"requeued"`
	Stopped   StopReason `json:"stopped"`
}

type Config struct {
	PageSize      int
	MaxAttempts   int
	QueueLiveness time.Duration
	Defaults      DrainOptions
}

type outcome int

const (
	unitSucceeded outcome = iota
	unitFailed
	unitRequeued
	unitYielded
)

type Drainer struct {
	Repo     *store.DB
	Provider catalog.Provider
	Tracker  *app.SyncTracker
	Logger   *logger.Logger
	cfg      Config
	now      func() time.Time
}

func NewDrainer(repo *store.DB, provider catalog.Provider, tracker *app.SyncTracker, log *logger.Logger, cfg Config) *Drainer {
	if log == nil {
		log = logger.Default()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = constants.DefaultPageSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if cfg.QueueLiveness <= 0 {
		cfg.QueueLiveness = constants.DefaultQueueLiveness
	}
	return &Drainer{
		Repo:     repo,
		Provider: provider,
		Tracker:  tracker,
		Logger:   log.WithComponent("drainer"),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (d *Drainer) withDefaults(opts DrainOptions) DrainOptions {
	def := d.cfg.Defaults
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = pick(def.MaxConcurrency, constants.DefaultDrainConcurrency)
	}
	if opts.MaxBatches <= 0 {
		opts.MaxBatches = pick(def.MaxBatches, constants.DefaultDrainMaxBatches)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = pick(def.BatchSize, constants.DefaultDrainBatchSize)
	}
	if opts.TimeBudget <= 0 {
		opts.TimeBudget = def.TimeBudget
		if opts.TimeBudget <= 0 {
			opts.TimeBudget = constants.DefaultDrainTimeBudget
		}
	}
	return opts
}

func pick(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Drain claims and processes batches until the queue is empty, MaxBatches
// batches ran, the time budget is spent, or ctx is cancelled. At most
// MaxConcurrency units run at once. A failing unit never affects its siblings.
// Entries of a game under a full rebuild are handed back and not claimed again
// during this drain.
func (d *Drainer) Drain(ctx context.Context, opts DrainOptions) (*DrainResult, error) {
	opts = d.withDefaults(opts)
	deadline := d.now().Add(opts.TimeBudget)
	res := &DrainResult{}
	busy := make(map[string]bool)

	d.Logger.Info("Starting drain", "mode", opts.Mode, "max_concurrency", opts.MaxConcurrency,
		"max_batches", opts.MaxBatches, "batch_size", opts.BatchSize, "time_budget", opts.TimeBudget)

	reset, err := d.Repo.ResetStaleInProgress(ctx, d.cfg.QueueLiveness)
	if err != nil {
		return res, fmt.Errorf("failed to reset stale entries: %w", err)
	}
	if reset > 0 {
		d.Logger.Warn("Reset stale in-progress entries", "count", reset)
	}

	for {
		if ctx.Err() != nil {
			res.Stopped = StopCancelled
			break
		}
		if res.Batches >= opts.MaxBatches {
			res.Stopped = StopMaxBatches
			break
		}
		if !d.now().Before(deadline) {
			res.Stopped = StopTimeBudget
			break
		}

		queued, err := d.Repo.CountQueued(ctx, opts.Mode)
		if err != nil {
			return res, fmt.Errorf("failed to count queue: %w", err)
		}
		if queued == 0 {
			res.Stopped = StopEmpty
			break
		}

		skip := make([]string, 0, len(busy))
		for game := range busy {
			skip = append(skip, game)
		}
		entries, err := d.Repo.ClaimQueued(ctx, opts.Mode, opts.BatchSize, skip...)
		if err != nil {
			return res, fmt.Errorf("failed to claim batch: %w", err)
		}
		if len(entries) == 0 {
			res.Stopped = StopEmpty
			if len(busy) > 0 {
				res.Stopped = StopGameBusy
			}
			break
		}

		res.Batches++
		res.Claimed += len(entries)
		d.runBatch(ctx, entries, opts.MaxConcurrency, deadline, res, busy)
	}

	d.Logger.Info("Drain finished", "stopped", res.Stopped, "batches", res.Batches, "claimed", res.Claimed,
		"succeeded", res.Succeeded, "failed", res.Failed, "requeued", res.Requeued)
	return res, nil
}

func (d *Drainer) runBatch(ctx context.Context, entries []*domain.QueueEntry, maxConcurrency int, deadline time.Time, res *DrainResult, busy map[string]bool) {
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, entry := range entries {
		sem <- struct{}{}
		wg.Add(1)
		go func(e *domain.QueueEntry) {
			defer wg.Done()
			defer func() { <-sem }()

			out := d.runUnit(ctx, e, deadline)

			mu.Lock()
			defer mu.Unlock()
			switch out {
			case unitSucceeded:
				res.Succeeded++
			case unitRequeued:
				res.Requeued++
			case unitYielded:
				res.Requeued++
				busy[e.Game] = true
			default:
				res.Failed++
			}
		}(entry)
	}
	wg.Wait()
}

// runUnit syncs the cards of one claimed set.
func (d *Drainer) runUnit(ctx context.Context, entry *domain.QueueEntry, deadline time.Time) (out outcome) {
	log := d.Logger.WithScope(entry.Game, entry.SetID).With("entry_id", entry.ID, "cursor", entry.Cursor)
	var job *domain.SyncJob
	cursor := entry.Cursor

	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic in drain unit", "panic", r)
			out = d.fail(context.WithoutCancel(ctx), entry, job, cursor, fmt.Errorf("panic: %v", r))
		}
	}()

	rebuilding, err := d.Tracker.RebuildRunning(ctx, entry.Game)
	if err != nil {
		return d.fail(ctx, entry, nil, cursor, err)
	}
	if rebuilding {
		return d.yield(ctx, entry)
	}

	job, err = d.Tracker.BeginScope(ctx, domain.JobTypeCards, entry.Scope(), true)
	if err != nil {
		log.Warn("Could not start unit", "error", err)
		return d.fail(ctx, entry, nil, cursor, err)
	}
	log = log.With("job_id", job.ID)

	set, err := d.Repo.GetSet(ctx, entry.Game, entry.SetID)
	if err != nil {
		return d.fail(ctx, entry, job, cursor, fmt.Errorf("load set: %w", err))
	}

	query := catalog.CardQuery{
		Game:          entry.Game,
		SetProviderID: entry.ProviderSetID,
		Offset:        entry.Cursor,
		PageSize:      d.cfg.PageSize,
	}
	if entry.Mode == domain.QueueModeIncremental && set.LastSyncedAt != nil {
		query.Since = set.LastSyncedAt
	}

	it := d.Provider.Cards(query)
	stats := unitStats{StartCursor: entry.Cursor}
	start := d.now()

	for !it.Done() {
		if d.isCancelled(ctx, job.ID) {
			log.Info("Job cancelled, stopping unit")
			return d.cancelled(ctx, entry, cursor)
		}
		if ctx.Err() != nil || !d.now().Before(deadline) {
			return d.interrupt(ctx, entry, job, cursor, stats, start)
		}

		page, err := it.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return d.interrupt(ctx, entry, job, cursor, stats, start)
			}
			return d.fail(ctx, entry, job, cursor, fmt.Errorf("fetch cards at offset %d: %w", cursor, err))
		}

		cards, variants := page.Rows(set.ID)
		if err := d.Repo.UpsertCardRecords(ctx, cards, variants); err != nil {
			return d.fail(ctx, entry, job, cursor, fmt.Errorf("upsert cards: %w", err))
		}

		cursor = page.NextOffset
		stats.Pages++
		stats.Cards += len(cards)
		stats.Variants += len(variants)
		stats.Skipped += page.Skipped
		d.Tracker.UpdateProgress(ctx, job.ID, cursor, max(it.Total(), 0))
	}

	if err := d.Repo.MarkSetSynced(ctx, entry.Game, entry.SetID, domain.SetSyncSynced); err != nil {
		return d.fail(ctx, entry, job, cursor, fmt.Errorf("mark set synced: %w", err))
	}
	if _, err := d.Repo.CompleteEntry(ctx, entry); err != nil {
		log.Error("Failed to complete queue entry", "error", err)
	}
	stats.EndCursor = cursor
	d.finishJob(ctx, job, domain.JobStatusCompleted, stats, start, nil)
	log.Info("Unit completed", "pages", stats.Pages, "cards", stats.Cards, "variants", stats.Variants)
	return unitSucceeded
}

type unitStats struct {
	StartCursor int
	EndCursor   int
	Pages       int
	Cards       int
	Variants    int
	Skipped     int
}

func (d *Drainer) isCancelled(ctx context.Context, jobID string) bool {
	job, err := d.Repo.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == domain.JobStatusCancelled
}

// interrupt stores the cursor and releases the entry for a later drain. The
// claim is not counted as an attempt.
func (d *Drainer) interrupt(ctx context.Context, entry *domain.QueueEntry, job *domain.SyncJob, cursor int, stats unitStats, start time.Time) outcome {
	ctx = context.WithoutCancel(ctx)
	if _, err := d.Repo.RequeueEntry(ctx, entry, cursor, nil); err != nil {
		d.Logger.Error("Failed to requeue entry", "entry_id", entry.ID, "error", err)
	}
	if err := d.Repo.SetSyncStatus(ctx, entry.Game, entry.SetID, domain.SetSyncPartial); err != nil {
		d.Logger.Warn("Failed to mark set partial", "set_id", entry.SetID, "error", err)
	}
	stats.EndCursor = cursor
	d.finishJob(ctx, job, domain.JobStatusPartial, stats, start, fmt.Errorf("%w at offset %d", ErrInterrupted, cursor))
	d.Logger.Info("Unit interrupted, entry requeued", "entry_id", entry.ID, "cursor", cursor)
	return unitRequeued
}

// yield hands the entry back untouched while a full rebuild holds its game.
// The claim is not counted as an attempt.
func (d *Drainer) yield(ctx context.Context, entry *domain.QueueEntry) outcome {
	if _, err := d.Repo.RequeueEntry(context.WithoutCancel(ctx), entry, entry.Cursor, nil); err != nil {
		d.Logger.Error("Failed to requeue entry", "entry_id", entry.ID, "error", err)
	}
	d.Logger.Info("Game is being rebuilt, entry requeued", "entry_id", entry.ID, "game", entry.Game)
	return unitYielded
}

func (d *Drainer) cancelled(ctx context.Context, entry *domain.QueueEntry, cursor int) outcome {
	if _, err := d.Repo.FailEntry(context.WithoutCancel(ctx), entry, cursor, ErrJobCancelled.Error()); err != nil {
		d.Logger.Error("Failed to mark entry cancelled", "entry_id", entry.ID, "error", err)
	}
	return unitFailed
}

// fail requeues the entry while attempts remain, otherwise marks it errored.
// job may be nil when the unit never started.
func (d *Drainer) fail(ctx context.Context, entry *domain.QueueEntry, job *domain.SyncJob, cursor int, cause error) outcome {
	ctx = context.WithoutCancel(ctx)
	msg := cause.Error()
	out := unitFailed

	if entry.Attempts < d.cfg.MaxAttempts {
		if _, err := d.Repo.RequeueEntry(ctx, entry, cursor, &msg); err != nil {
			d.Logger.Error("Failed to requeue entry", "entry_id", entry.ID, "error", err)
		}
		out = unitRequeued
	} else {
		if _, err := d.Repo.FailEntry(ctx, entry, cursor, msg); err != nil {
			d.Logger.Error("Failed to mark entry errored", "entry_id", entry.ID, "error", err)
		}
		if err := d.Repo.SetSyncStatus(ctx, entry.Game, entry.SetID, domain.SetSyncFailed); err != nil {
			d.Logger.Warn("Failed to mark set failed", "set_id", entry.SetID, "error", err)
		}
	}

	if job != nil {
		d.finishJob(ctx, job, domain.JobStatusFailed, unitStats{StartCursor: entry.Cursor, EndCursor: cursor}, d.now(), cause)
	}
	d.Logger.Warn("Unit failed", "entry_id", entry.ID, "attempts", entry.Attempts, "requeued", out == unitRequeued, "error", cause)
	return out
}

func (d *Drainer) finishJob(ctx context.Context, job *domain.SyncJob, status domain.JobStatus, stats unitStats, start time.Time, cause error) {
	results := domain.JSONMap{
		"start_cursor": stats.StartCursor,
		"end_cursor":   stats.EndCursor,
		"cards":        stats.Cards,
		"variants":     stats.Variants,
		"skipped":      stats.Skipped,
	}
	metrics := domain.JSONMap{
		"pages":       stats.Pages,
		"duration_ms": d.now().Sub(start).Milliseconds(),
	}
	if err := d.Tracker.CompleteJob(ctx, job.ID, status, results, metrics, cause); err != nil {
		d.Logger.Error("Failed to record unit outcome", "job_id", job.ID, "error", err)
	}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cesargomez89/catalogsync/internal/catalog"
	"github.com/cesargomez89/catalogsync/internal/constants"
	"github.com/cesargomez89/catalogsync/internal/domain"
	"github.com/cesargomez89/catalogsync/internal/guardrail"
	"github.com/cesargomez89/catalogsync/internal/lock"
	"github.com/cesargomez89/catalogsync/internal/logger"
	"github.com/cesargomez89/catalogsync/internal/store"
)

const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

type GameStatus string

const (
	GameSwapped          GameStatus = "swapped"
	GameValidationFailed GameStatus = "validation_failed"
	GameFailed           GameStatus = "failed"
	GameSkipped          GameStatus = "skipped"
)

type RebuildRequest struct {
	Games []string
	Mode  string
	Force bool
}

type importStats struct {
	Sets     int `json:"sets"`
	Pages    int `json:"pages"`
	Cards    int `json:"cards"`
	Variants int `json:"variants"`
	Skipped  int `json:"skipped"`
}

// GameResult is the outcome of one game within a rebuild.
type GameResult struct {
	Game      string            `json:"game"`
	Status    GameStatus        `json:"status"`
	JobID     string            `json:"job_id,omitempty"`
	Error     string            `json:"error,omitempty"`
	Sets      *reconcileStats   `json:"sets,omitempty"`
	Imported  *importStats      `json:"imported,omitempty"`
	Guardrail *guardrail.Report `json:"guardrail,omitempty"`
	Swap      *store.SwapResult `json:"swap,omitempty"`
	Duration  string            `json:"duration"`
}

type RebuildResult struct {
	Mode      string       `json:"mode"`
	Games     []GameResult `json:"games"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// SetListInvalidator drops cached provider set lists after a rebuild.
type SetListInvalidator interface {
	Invalidate(game string) error
}

type RebuildConfig struct {
	PageSize int
	LockTTL  time.Duration
}

// RebuildService replaces the live catalog of each requested game with a
// freshly staged copy, one game at a time or all games concurrently.
type RebuildService struct {
	Repo     *store.DB
	Provider catalog.Provider
	Guard    *guardrail.Validator
	Tracker  *SyncTracker
	Locker   lock.Locker
	SetCache SetListInvalidator
	Logger   *logger.Logger
	cfg      RebuildConfig
}

func NewRebuildService(repo *store.DB, provider catalog.Provider, guard *guardrail.Validator, tracker *SyncTracker, locker lock.Locker, log *logger.Logger, cfg RebuildConfig) *RebuildService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = constants.DefaultPageSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = constants.DefaultBackgroundTimeout
	}
	return &RebuildService{
		Repo:     repo,
		Provider: provider,
		Guard:    guard,
		Tracker:  tracker,
		Locker:   locker,
		Logger:   log.WithComponent("rebuild"),
		cfg:      cfg,
	}
}

// Rebuild attempts every requested game and reports per-game outcomes. One
// game failing never stops the others. COMPLETE is always the last event.
func (s *RebuildService) Rebuild(ctx context.Context, req RebuildRequest, emit EmitFunc) *RebuildResult {
	emit = serialize(emit)
	mode := req.Mode
	if mode == "" {
		mode = ModeSequential
	}

	result := &RebuildResult{Mode: mode, Games: make([]GameResult, len(req.Games))}
	if mode == ModeParallel {
		var wg sync.WaitGroup
		for i, game := range req.Games {
			wg.Add(1)
			go func(i int, game string) {
				defer wg.Done()
				result.Games[i] = s.rebuildGame(ctx, game, req.Force, emit)
			}(i, game)
		}
		wg.Wait()
	} else {
		for i, game := range req.Games {
			result.Games[i] = s.rebuildGame(ctx, game, req.Force, emit)
		}
	}

	for _, g := range result.Games {
		if g.Status == GameSwapped {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}

	emit(Event{
		Type:    EventComplete,
		Message: fmt.Sprintf("rebuild finished: %d swapped, %d not swapped", result.Succeeded, result.Failed),
		Data:    result,
	})
	return result
}

func (s *RebuildService) rebuildGame(ctx context.Context, game string, force bool, emit EmitFunc) (res GameResult) {
	start := time.Now()
	log := s.Logger.WithGame(game)
	res = GameResult{Game: game}
	defer func() {
		res.Duration = time.Since(start).Round(time.Millisecond).String()
	}()

	fail := func(status GameStatus, step string, err error) GameResult {
		res.Status = status
		res.Error = err.Error()
		log.Error("Rebuild failed", "step", step, "error", err)
		emit(Event{Type: EventError, Game: game, Step: step, Message: err.Error()})
		return res
	}

	// Recover so a panic in one game still yields a result and an ERROR event.
	defer func() {
		if r := recover(); r != nil {
			res = fail(GameFailed, "panic", fmt.Errorf("panic: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		return fail(GameSkipped, "start", err)
	}

	release, err := s.Locker.TryLock(ctx, "rebuild:"+game, s.cfg.LockTTL)
	if err != nil {
		return fail(GameSkipped, "lock", err)
	}
	defer release()

	job, err := s.Tracker.BeginScope(ctx, domain.JobTypeFullRebuild, domain.Scope{Game: game}, force)
	if err != nil {
		return fail(GameSkipped, "begin", err)
	}
	res.JobID = job.ID
	log = log.WithJob(job.ID, string(job.Type))

	// Drain units look for a running rebuild after claiming. This check runs
	// after the job started, so one side always sees the other.
	inFlight, err := s.Repo.CountInProgress(ctx, game)
	if err == nil && inFlight > 0 {
		err = fmt.Errorf("%w: %d sync units in progress", ErrGameBusy, inFlight)
	}
	if err != nil {
		res = fail(GameSkipped, "begin", err)
		if cErr := s.Tracker.CompleteJob(ctx, job.ID, domain.JobStatusCancelled, nil, nil, err); cErr != nil {
			log.Error("Failed to record skipped rebuild", "error", cErr)
		}
		return res
	}
	emit(Event{Type: EventStart, Game: game, Message: "rebuild started", Data: map[string]string{"job_id": job.ID}})

	finish := func(status domain.JobStatus, cause error) {
		results := toJSONMap(res)
		metrics := domain.JSONMap{"duration_ms": time.Since(start).Milliseconds()}
		if err := s.Tracker.CompleteJob(ctx, job.ID, status, results, metrics, cause); err != nil {
			log.Error("Failed to record rebuild outcome", "error", err)
		}
	}

	if err := s.stage(ctx, game, job, &res, emit); err != nil {
		res = fail(GameFailed, "import", err)
		finish(domain.JobStatusFailed, err)
		return res
	}

	report, err := s.Guard.Check(ctx, game)
	if err != nil {
		res = fail(GameFailed, "guardrail", err)
		finish(domain.JobStatusFailed, err)
		return res
	}
	res.Guardrail = report
	emit(Event{
		Type:    EventFixBadWritesSummary,
		Game:    game,
		Message: fmt.Sprintf("%d not found, %d rolled back", report.NotFound, report.RolledBack),
		Data:    report,
	})

	validation, err := s.Guard.Validate(ctx, game)
	if validation != nil {
		emit(Event{Type: EventValidate, Game: game, Message: validateMessage(validation), Data: validation})
	}
	if err != nil {
		status := GameFailed
		if errors.Is(err, guardrail.ErrValidationFailed) {
			status = GameValidationFailed
		}
		res = fail(status, "validate", err)
		finish(domain.JobStatusFailed, err)
		return res
	}

	counts, err := s.Repo.ShadowCounts(ctx, game)
	if err != nil {
		res = fail(GameFailed, "swap", err)
		finish(domain.JobStatusFailed, err)
		return res
	}
	emit(Event{Type: EventReadyToSwap, Game: game, Message: "shadow validated, swapping", Data: counts})

	swap, err := s.Repo.AtomicSwap(ctx, game)
	if err != nil {
		res = fail(GameFailed, "swap", err)
		finish(domain.JobStatusFailed, err)
		return res
	}
	res.Swap = swap
	res.Status = GameSwapped
	emit(Event{Type: EventSwapDone, Game: game, Message: "live catalog replaced", Data: swap})
	log.Info("Rebuild swapped", "sets", swap.Promoted["sets"], "cards", swap.Promoted["cards"], "variants", swap.Promoted["variants"])

	if s.SetCache != nil {
		if err := s.SetCache.Invalidate(game); err != nil {
			log.Warn("Failed to invalidate cached set list", "error", err)
		}
	}

	finish(domain.JobStatusCompleted, nil)
	return res
}

// stage repopulates the shadow tables of game from the provider.
func (s *RebuildService) stage(ctx context.Context, game string, job *domain.SyncJob, res *GameResult, emit EmitFunc) error {
	if err := s.Repo.ClearShadow(ctx, game); err != nil {
		return fmt.Errorf("clear shadow: %w", err)
	}
	if _, err := s.Repo.SeedShadowFromLive(ctx, game); err != nil {
		return fmt.Errorf("seed shadow: %w", err)
	}

	local, err := s.Repo.ListShadowSets(ctx, game)
	if err != nil {
		return fmt.Errorf("list shadow sets: %w", err)
	}
	upstream, err := s.Provider.ListSets(ctx, game)
	if err != nil {
		return fmt.Errorf("fetch sets: %w", err)
	}
	merged, setStats := reconcileSets(game, local, upstream)
	if err := s.Repo.WriteShadowSets(ctx, merged); err != nil {
		return fmt.Errorf("write shadow sets: %w", err)
	}
	res.Sets = &setStats
	emit(Event{
		Type:    EventImportPhase,
		Game:    game,
		Step:    "sets",
		Message: fmt.Sprintf("%d provider sets staged", len(merged)),
		Data:    setStats,
	})

	staged, err := s.Repo.ListShadowSets(ctx, game)
	if err != nil {
		return fmt.Errorf("list shadow sets: %w", err)
	}
	var linked []domain.Set
	for _, set := range staged {
		if set.ProviderID != nil {
			linked = append(linked, set)
		}
	}

	stats := &importStats{}
	res.Imported = stats
	for i, set := range linked {
		if err := s.stageCards(ctx, set, stats); err != nil {
			return fmt.Errorf("import cards of %s: %w", set.ID, err)
		}
		stats.Sets++
		s.Tracker.UpdateProgress(ctx, job.ID, i+1, len(linked))
	}
	emit(Event{
		Type:    EventImportPhase,
		Game:    game,
		Step:    "cards",
		Message: fmt.Sprintf("%d cards and %d variants staged from %d sets", stats.Cards, stats.Variants, stats.Sets),
		Data:    stats,
	})
	return nil
}

func (s *RebuildService) stageCards(ctx context.Context, set domain.Set, stats *importStats) error {
	it := s.Provider.Cards(catalog.CardQuery{
		Game:          set.Game,
		SetProviderID: set.ProviderIDValue(),
		PageSize:      s.cfg.PageSize,
	})

	count := 0
	for !it.Done() {
		page, err := it.Next(ctx)
		if err != nil {
			return err
		}
		cards, variants := page.Rows(set.ID)
		if err := s.Repo.WriteShadowCards(ctx, cards); err != nil {
			return fmt.Errorf("write shadow cards: %w", err)
		}
		if err := s.Repo.WriteShadowVariants(ctx, variants); err != nil {
			return fmt.Errorf("write shadow variants: %w", err)
		}
		stats.Pages++
		stats.Cards += len(cards)
		stats.Variants += len(variants)
		stats.Skipped += page.Skipped
		count += len(cards)
	}

	return s.Repo.UpdateShadowSetSync(ctx, set.Game, set.ID, domain.SetSyncSynced, count)
}

func validateMessage(v *guardrail.Validation) string {
	if v.NullProviderIDs == 0 {
		return "all staged sets carry a provider id"
	}
	return fmt.Sprintf("%d staged sets have no provider id", v.NullProviderIDs)
}

func toJSONMap(v any) domain.JSONMap {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m domain.JSONMap
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

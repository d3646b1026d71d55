package app

import (
	"context"
	"fmt"

	"github.com/cesargomez89/catalogsync/internal/domain"
	"github.com/cesargomez89/catalogsync/internal/logger"
	"github.com/cesargomez89/catalogsync/internal/store"
)

const defaultQueueListLimit = 100

type EnqueueResult struct {
	Game          string         `json:"game"`
	Mode          string         `json:"mode"`
	JobID         string         `json:"job_id"`
	Sets          reconcileStats `json:"sets"`
	Enqueued      int            `json:"enqueued"`
	AlreadyQueued int            `json:"already_queued"`
	Unknown       []string       `json:"unknown,omitempty"`
}

// SetLister lists a game's sets on the provider. The queue service is given
// the cached variant.
type SetLister interface {
	ListSets(ctx context.Context, game string) ([]domain.Set, error)
}

// QueueService seeds the drain queue from the provider's set list.
type QueueService struct {
	Repo    *store.DB
	Sets    SetLister
	Tracker *SyncTracker
	Logger  *logger.Logger
}

func NewQueueService(repo *store.DB, sets SetLister, tracker *SyncTracker, log *logger.Logger) *QueueService {
	return &QueueService{
		Repo:    repo,
		Sets:    sets,
		Tracker: tracker,
		Logger:  log.WithComponent("queue"),
	}
}

// Enqueue refreshes the live set list of game and queues one entry per set.
// With providerSetIDs empty every provider set is queued; otherwise only the
// named ones, and ids the provider does not know are reported back. A game
// under a full rebuild is rejected with ErrGameBusy.
func (s *QueueService) Enqueue(ctx context.Context, game string, mode domain.QueueMode, providerSetIDs []string) (*EnqueueResult, error) {
	busy, err := s.Tracker.RebuildRunning(ctx, game)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, fmt.Errorf("%w: %s is being rebuilt", ErrGameBusy, game)
	}

	job, err := s.Tracker.BeginScope(ctx, domain.JobTypeSets, domain.Scope{Game: game}, true)
	if err != nil {
		return nil, err
	}

	res, err := s.enqueue(ctx, game, mode, providerSetIDs)
	if err != nil {
		_ = s.Tracker.CompleteJob(ctx, job.ID, domain.JobStatusFailed, nil, nil, err)
		return nil, err
	}
	res.JobID = job.ID
	if err := s.Tracker.CompleteJob(ctx, job.ID, domain.JobStatusCompleted, toJSONMap(res), nil, nil); err != nil {
		s.Logger.Error("Failed to record enqueue outcome", "job_id", job.ID, "error", err)
	}
	return res, nil
}

func (s *QueueService) enqueue(ctx context.Context, game string, mode domain.QueueMode, providerSetIDs []string) (*EnqueueResult, error) {
	upstream, err := s.Sets.ListSets(ctx, game)
	if err != nil {
		return nil, fmt.Errorf("fetch sets: %w", err)
	}
	local, err := s.Repo.ListSets(ctx, game)
	if err != nil {
		return nil, fmt.Errorf("list sets: %w", err)
	}

	merged, stats := reconcileSets(game, local, upstream)
	if err := s.Repo.UpsertSets(ctx, merged); err != nil {
		return nil, fmt.Errorf("save sets: %w", err)
	}

	res := &EnqueueResult{Game: game, Mode: string(mode), Sets: stats}

	byPID := make(map[string]domain.Set, len(merged))
	for _, set := range merged {
		byPID[set.ProviderIDValue()] = set
	}

	targets := merged
	if len(providerSetIDs) > 0 {
		targets = targets[:0:0]
		for _, pid := range providerSetIDs {
			set, ok := byPID[pid]
			if !ok {
				res.Unknown = append(res.Unknown, pid)
				continue
			}
			targets = append(targets, set)
		}
	}

	for _, set := range targets {
		added, err := s.Repo.EnqueueSet(ctx, game, set.ID, set.ProviderIDValue(), mode)
		if err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", set.ID, err)
		}
		if added {
			res.Enqueued++
		} else {
			res.AlreadyQueued++
		}
	}

	s.Logger.Info("Sets enqueued", "game", game, "mode", mode, "enqueued", res.Enqueued,
		"already_queued", res.AlreadyQueued, "unknown", len(res.Unknown))
	return res, nil
}

func (s *QueueService) Stats(ctx context.Context, mode domain.QueueMode) (*store.QueueStats, error) {
	return s.Repo.GetQueueStats(ctx, mode)
}

func (s *QueueService) List(ctx context.Context, status domain.QueueStatus) ([]*domain.QueueEntry, error) {
	return s.Repo.ListQueueEntries(ctx, status, defaultQueueListLimit)
}

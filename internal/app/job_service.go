package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cesargomez89/catalogsync/internal/constants"
	"github.com/cesargomez89/catalogsync/internal/domain"
	"github.com/cesargomez89/catalogsync/internal/logger"
	"github.com/cesargomez89/catalogsync/internal/store"
)

var (
	ErrSyncInProgress    = errors.New("sync already in progress")
	ErrCooldown          = errors.New("sync cooldown not elapsed")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrGameBusy          = errors.New("game is busy")
)

type TrackerConfig struct {
	Cooldown   time.Duration
	Liveness   time.Duration
	MaxRetries int
}

// SyncTracker owns the lifecycle of sync job records.
type SyncTracker struct {
	Repo   *store.DB
	Logger *logger.Logger
	cfg    TrackerConfig
	now    func() time.Time
}

func NewSyncTracker(repo *store.DB, log *logger.Logger, cfg TrackerConfig) *SyncTracker {
	if cfg.Liveness <= 0 {
		cfg.Liveness = constants.DefaultJobLiveness
	}
	return &SyncTracker{
		Repo:   repo,
		Logger: log.WithComponent("tracker"),
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *SyncTracker) CreateJob(ctx context.Context, jobType domain.JobType, scope domain.Scope, maxRetries int) (*domain.SyncJob, error) {
	t := s.now()
	job := &domain.SyncJob{
		ID:         uuid.New().String(),
		Type:       jobType,
		Game:       scope.Game,
		SetID:      scope.SetID,
		Status:     domain.JobStatusQueued,
		MaxRetries: maxRetries,
		CreatedAt:  t,
		UpdatedAt:  t,
	}
	if err := s.Repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	s.Logger.Info("Job created", "job_id", job.ID, "type", jobType, "scope", scope.String())
	return job, nil
}

// StartJob moves a queued job to running.
func (s *SyncTracker) StartJob(ctx context.Context, id string) error {
	ok, err := s.Repo.StartJob(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	if ok {
		return nil
	}
	job, err := s.Repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, job.Status)
}

// UpdateProgress records progress. Failures are logged and never returned.
func (s *SyncTracker) UpdateProgress(ctx context.Context, id string, processed, total int) {
	if _, err := s.Repo.UpdateJobProgress(ctx, id, processed, total); err != nil {
		s.Logger.Warn("Failed to persist progress", "job_id", id, "processed", processed, "total", total, "error", err)
	}
}

// CompleteJob writes the terminal state. When the full write fails a bare
// status write is attempted so the job never stays running. A job that was
// cancelled or reaped meanwhile keeps its status.
func (s *SyncTracker) CompleteJob(ctx context.Context, id string, status domain.JobStatus, results, metrics domain.JSONMap, cause error) error {
	var errMsg *string
	if cause != nil {
		msg := cause.Error()
		errMsg = &msg
	}

	ok, err := s.Repo.CompleteJob(ctx, id, status, results, metrics, errMsg)
	if err == nil {
		if ok {
			s.Logger.Info("Job finished", "job_id", id, "status", status)
		} else {
			s.Logger.Warn("Job no longer running, outcome not recorded", "job_id", id, "status", status)
		}
		return nil
	}

	s.Logger.Error("Failed to complete job, falling back to status write", "job_id", id, "status", status, "error", err)
	ok, fbErr := s.Repo.SetJobStatus(context.WithoutCancel(ctx), id, status, errMsg)
	if fbErr != nil {
		s.Logger.Error("Fallback status write failed", "job_id", id, "error", fbErr)
		return errors.Join(err, fbErr)
	}
	if !ok {
		s.Logger.Warn("Job no longer running, outcome not recorded", "job_id", id, "status", status)
	}
	return nil
}

// ReapStale fails running jobs of a scope whose heartbeat is older than the
// liveness window, so a crashed worker cannot block the scope forever.
func (s *SyncTracker) ReapStale(ctx context.Context, jobType domain.JobType, scope domain.Scope) (int, error) {
	jobs, err := s.Repo.ListRunningJobs(ctx, jobType, scope)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}
	return s.reap(ctx, jobs)
}

// ReapAllStale is the startup sweep over every scope.
func (s *SyncTracker) ReapAllStale(ctx context.Context) (int, error) {
	jobs, err := s.Repo.ListAllRunningJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}
	return s.reap(ctx, jobs)
}

func (s *SyncTracker) reap(ctx context.Context, jobs []*domain.SyncJob) (int, error) {
	now := s.now()
	reaped := 0
	for _, job := range jobs {
		if !job.IsStale(now, s.cfg.Liveness) {
			continue
		}
		msg := fmt.Sprintf("no heartbeat since %s, exceeded liveness window of %s", job.UpdatedAt.Format(time.RFC3339), s.cfg.Liveness)
		ok, err := s.Repo.FailRunningJob(ctx, job.ID, msg)
		if err != nil {
			return reaped, fmt.Errorf("failed to reap job %s: %w", job.ID, err)
		}
		if ok {
			reaped++
			s.Logger.Warn("Reaped stale job", "job_id", job.ID, "type", job.Type, "scope", job.Scope().String(), "last_heartbeat", job.UpdatedAt)
		}
	}
	return reaped, nil
}

// BeginScope is the duplicate-sync gate. It reaps stale jobs and rejects the
// scope while a live job runs or, unless forced, while the cooldown since the
// last completed job has not elapsed. It then starts a job for the scope.
func (s *SyncTracker) BeginScope(ctx context.Context, jobType domain.JobType, scope domain.Scope, force bool) (*domain.SyncJob, error) {
	if _, err := s.ReapStale(ctx, jobType, scope); err != nil {
		return nil, err
	}

	running, err := s.Repo.ListRunningJobs(ctx, jobType, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to check running jobs: %w", err)
	}
	if len(running) > 0 {
		return nil, fmt.Errorf("%w: job %s for %s", ErrSyncInProgress, running[0].ID, scope)
	}

	if !force && s.cfg.Cooldown > 0 {
		last, err := s.Repo.LastCompletedJob(ctx, jobType, scope)
		if err != nil {
			return nil, fmt.Errorf("failed to check cooldown: %w", err)
		}
		if last != nil && last.CompletedAt != nil {
			if elapsed := s.now().Sub(*last.CompletedAt); elapsed < s.cfg.Cooldown {
				return nil, fmt.Errorf("%w: %s synced %s ago, next allowed in %s",
					ErrCooldown, scope, elapsed.Round(time.Second), (s.cfg.Cooldown - elapsed).Round(time.Second))
			}
		}
	}

	// A job requeued by RetryJob is resumed rather than duplicated.
	job, err := s.Repo.OldestQueuedJob(ctx, jobType, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to check queued jobs: %w", err)
	}
	if job == nil {
		if job, err = s.CreateJob(ctx, jobType, scope, s.cfg.MaxRetries); err != nil {
			return nil, err
		}
	}
	if err := s.StartJob(ctx, job.ID); err != nil {
		// Lost a race with another starter on the same scope. The winner owns the job.
		return nil, fmt.Errorf("%w: %v", ErrSyncInProgress, err)
	}
	job.Status = domain.JobStatusRunning
	return job, nil
}

// RebuildRunning reports whether a live full rebuild holds game. Queue writes
// and drain units for the game wait until it finishes.
func (s *SyncTracker) RebuildRunning(ctx context.Context, game string) (bool, error) {
	scope := domain.Scope{Game: game}
	if _, err := s.ReapStale(ctx, domain.JobTypeFullRebuild, scope); err != nil {
		return false, err
	}
	running, err := s.Repo.ListRunningJobs(ctx, domain.JobTypeFullRebuild, scope)
	if err != nil {
		return false, fmt.Errorf("failed to check running rebuilds: %w", err)
	}
	return len(running) > 0, nil
}

func (s *SyncTracker) GetJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	return s.Repo.GetJob(ctx, id)
}

func (s *SyncTracker) ListJobs(ctx context.Context, f store.JobFilter) ([]*domain.SyncJob, error) {
	if f.Limit <= 0 || f.Limit > constants.MaxListJobs {
		f.Limit = constants.MaxListJobs
	}
	return s.Repo.ListJobs(ctx, f)
}

func (s *SyncTracker) CancelJob(ctx context.Context, id string) error {
	ok, err := s.Repo.CancelJob(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		job, err := s.Repo.GetJob(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: cannot cancel %s job", ErrInvalidTransition, job.Status)
	}
	s.Logger.Info("Job cancelled", "job_id", id)
	return nil
}

// RetryJob requeues a failed or partial job while retries remain.
func (s *SyncTracker) RetryJob(ctx context.Context, id string) error {
	ok, err := s.Repo.RequeueJob(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		job, err := s.Repo.GetJob(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: cannot retry %s job after %d of %d retries", ErrInvalidTransition, job.Status, job.RetryCount, job.MaxRetries)
	}
	s.Logger.Info("Job retried", "job_id", id)
	return nil
}

func (s *SyncTracker) JobStats(ctx context.Context) (*store.JobStats, error) {
	return s.Repo.GetJobStats(ctx)
}

func (s *SyncTracker) ClearFinishedJobs(ctx context.Context) (int64, error) {
	return s.Repo.ClearFinishedJobs(ctx)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

const jobColumns = `id, type, game, set_id, status, processed, total, retry_count, max_retries,
	results, metrics, error, created_at, started_at, completed_at, updated_at`

func (db *DB) CreateJob(ctx context.Context, job *domain.SyncJob) error {
	query := `INSERT INTO sync_jobs (id, type, game, set_id, status, processed, total, retry_count, max_retries,
		results, metrics, error, created_at, started_at, completed_at, updated_at)
		VALUES (:id, :type, :game, :set_id, :status, :processed, :total, :retry_count, :max_retries,
		:results, :metrics, :error, :created_at, :started_at, :completed_at, :updated_at)`

	_, err := db.NamedExecContext(ctx, query, job)
	return err
}

func (db *DB) GetJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	job := &domain.SyncJob{}
	err := db.get(ctx, job, `SELECT `+jobColumns+` FROM sync_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// StartJob moves a queued job to running. It reports false when the job was
// not queued.
func (db *DB) StartJob(ctx context.Context, id string) (bool, error) {
	t := now()
	res, err := db.exec(ctx, `UPDATE sync_jobs SET status = ?, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`, domain.JobStatusRunning, t, t, id, domain.JobStatusQueued)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

// UpdateJobProgress advances processed without ever moving it backwards.
// A total of zero leaves the stored total unchanged.
func (db *DB) UpdateJobProgress(ctx context.Context, id string, processed, total int) (bool, error) {
	res, err := db.exec(ctx, `UPDATE sync_jobs SET
		processed = CASE WHEN processed < ? THEN ? ELSE processed END,
		total = CASE WHEN ? > 0 THEN ? ELSE total END,
		updated_at = ?
		WHERE id = ? AND status = ?`,
		processed, processed, total, total, now(), id, domain.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

// CompleteJob writes the terminal state of a running job with its results.
// It reports false when the job already left the running state, so a late
// writer cannot overwrite a cancel or a reap.
func (db *DB) CompleteJob(ctx context.Context, id string, status domain.JobStatus, results, metrics domain.JSONMap, errMsg *string) (bool, error) {
	t := now()
	res, err := db.exec(ctx, `UPDATE sync_jobs SET status = ?, results = ?, metrics = ?, error = ?,
		completed_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		status, results, metrics, errMsg, t, t, id, domain.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

// SetJobStatus is the minimal terminal write used when CompleteJob fails.
func (db *DB) SetJobStatus(ctx context.Context, id string, status domain.JobStatus, errMsg *string) (bool, error) {
	t := now()
	res, err := db.exec(ctx, `UPDATE sync_jobs SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`, status, errMsg, t, t, id, domain.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

// FailRunningJob marks a running job failed. It reports false when the job
// already left the running state.
func (db *DB) FailRunningJob(ctx context.Context, id, errMsg string) (bool, error) {
	t := now()
	res, err := db.exec(ctx, `UPDATE sync_jobs SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`, domain.JobStatusFailed, errMsg, t, t, id, domain.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

func (db *DB) CancelJob(ctx context.Context, id string) (bool, error) {
	t := now()
	res, err := db.exec(ctx, `UPDATE sync_jobs SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		domain.JobStatusCancelled, t, t, id, domain.JobStatusQueued, domain.JobStatusRunning)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

// RequeueJob puts a failed or partial job back in the queue while it has
// retries left.
func (db *DB) RequeueJob(ctx context.Context, id string) (bool, error) {
	res, err := db.exec(ctx, `UPDATE sync_jobs SET status = ?, processed = 0, error = NULL,
		retry_count = retry_count + 1, started_at = NULL, completed_at = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?) AND retry_count < max_retries`,
		domain.JobStatusQueued, now(), id, domain.JobStatusFailed, domain.JobStatusPartial)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

// JobFilter narrows ListJobs. Zero values match everything.
type JobFilter struct {
	Type   domain.JobType
	Game   string
	SetID  string
	Status []domain.JobStatus
	Limit  int
}

func (f JobFilter) where() (string, []interface{}) {
	conds := []string{"1 = 1"}
	var args []interface{}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, f.Type)
	}
	if f.Game != "" {
		conds = append(conds, "game = ?")
		args = append(args, f.Game)
	}
	if f.SetID != "" {
		conds = append(conds, "set_id = ?")
		args = append(args, f.SetID)
	}
	if len(f.Status) > 0 {
		marks := make([]string, len(f.Status))
		for i, s := range f.Status {
			marks[i] = "?"
			args = append(args, s)
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}
	return strings.Join(conds, " AND "), args
}

func (db *DB) ListJobs(ctx context.Context, f JobFilter) ([]*domain.SyncJob, error) {
	where, args := f.where()
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE ` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var jobs []*domain.SyncJob
	err := db.sel(ctx, &jobs, query, args...)
	return jobs, err
}

// ListRunningJobs returns running jobs for a scope. An empty set id matches
// only game-wide jobs.
func (db *DB) ListRunningJobs(ctx context.Context, jobType domain.JobType, scope domain.Scope) ([]*domain.SyncJob, error) {
	var jobs []*domain.SyncJob
	err := db.sel(ctx, &jobs, `SELECT `+jobColumns+` FROM sync_jobs
		WHERE type = ? AND game = ? AND set_id = ? AND status = ?`,
		jobType, scope.Game, scope.SetID, domain.JobStatusRunning)
	return jobs, err
}

// ListAllRunningJobs is used by the startup sweep.
func (db *DB) ListAllRunningJobs(ctx context.Context) ([]*domain.SyncJob, error) {
	var jobs []*domain.SyncJob
	err := db.sel(ctx, &jobs, `SELECT `+jobColumns+` FROM sync_jobs WHERE status = ?`, domain.JobStatusRunning)
	return jobs, err
}

// OldestQueuedJob returns the oldest queued job for a scope, or nil.
func (db *DB) OldestQueuedJob(ctx context.Context, jobType domain.JobType, scope domain.Scope) (*domain.SyncJob, error) {
	job := &domain.SyncJob{}
	err := db.get(ctx, job, `SELECT `+jobColumns+` FROM sync_jobs
		WHERE type = ? AND game = ? AND set_id = ? AND status = ?
		ORDER BY created_at LIMIT 1`,
		jobType, scope.Game, scope.SetID, domain.JobStatusQueued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// LastCompletedJob returns the most recently completed job for a scope, or nil.
func (db *DB) LastCompletedJob(ctx context.Context, jobType domain.JobType, scope domain.Scope) (*domain.SyncJob, error) {
	job := &domain.SyncJob{}
	err := db.get(ctx, job, `SELECT `+jobColumns+` FROM sync_jobs
		WHERE type = ? AND game = ? AND set_id = ? AND status = ? AND completed_at IS NOT NULL
		ORDER BY completed_at DESC LIMIT 1`,
		jobType, scope.Game, scope.SetID, domain.JobStatusCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (db *DB) ClearFinishedJobs(ctx context.Context) (int64, error) {
	res, err := db.exec(ctx, `DELETE FROM sync_jobs WHERE status IN (?, ?, ?, ?)`,
		domain.JobStatusCompleted, domain.JobStatusFailed, domain.JobStatusPartial, domain.JobStatusCancelled)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

type JobStats struct {
	Total     int `db:"total" json:"total"`
	Queued    int `db:"queued" json:"queued"`
	Running   int `db:"running" json:"running"`
	Completed int `db:"completed" json:"completed"`
	Partial   int `db:"partial" json:"partial"`
	Failed    int `db:"failed" json:"failed"`
	Cancelled int `db:"cancelled" json:"cancelled"`
}

func (db *DB) GetJobStats(ctx context.Context) (*JobStats, error) {
	query := `SELECT
		COUNT(*) AS total,
		COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0) AS queued,
		COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0) AS running,
		COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
		COALESCE(SUM(CASE WHEN status = 'partial' THEN 1 ELSE 0 END), 0) AS partial,
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
		COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) AS cancelled
	FROM sync_jobs`

	stats := &JobStats{}
	err := db.get(ctx, stats, query)
	return stats, err
}

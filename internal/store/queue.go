package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

const queueColumns = `id, game, set_id, provider_set_id, mode, status, cursor, attempts, error,
	claim_token, claimed_at, created_at, updated_at`

// EnqueueSet adds a set to the drain queue. It reports false when an entry for
// the same set and mode is already queued or in progress.
func (db *DB) EnqueueSet(ctx context.Context, game, setID, providerSetID string, mode domain.QueueMode) (bool, error) {
	t := now()
	res, err := db.exec(ctx, `INSERT INTO sync_queue (id, game, set_id, provider_set_id, mode, status, cursor, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?, ?) ON CONFLICT DO NOTHING`,
		uuid.New().String(), game, setID, providerSetID, mode, domain.QueueStatusQueued, t, t)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

func (db *DB) GetQueueEntry(ctx context.Context, id string) (*domain.QueueEntry, error) {
	entry := &domain.QueueEntry{}
	err := db.get(ctx, entry, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// CountQueued counts entries waiting to be claimed. An empty mode counts all.
func (db *DB) CountQueued(ctx context.Context, mode domain.QueueMode) (int, error) {
	var n int
	var err error
	if mode == "" {
		err = db.get(ctx, &n, `SELECT COUNT(*) FROM sync_queue WHERE status = ?`, domain.QueueStatusQueued)
	} else {
		err = db.get(ctx, &n, `SELECT COUNT(*) FROM sync_queue WHERE status = ? AND mode = ?`, domain.QueueStatusQueued, mode)
	}
	return n, err
}

// ClaimQueued moves up to limit queued entries to in_progress under a fresh
// claim token and returns them. Concurrent claimers never receive the same
// entry. Entries of the games in skipGames stay queued.
func (db *DB) ClaimQueued(ctx context.Context, mode domain.QueueMode, limit int, skipGames ...string) ([]*domain.QueueEntry, error) {
	token := uuid.New().String()
	t := now()

	inner := `SELECT id FROM sync_queue WHERE status = ?`
	args := []interface{}{domain.QueueStatusInProgress, token, t, t, domain.QueueStatusQueued}
	if mode != "" {
		inner += ` AND mode = ?`
		args = append(args, mode)
	}
	if len(skipGames) > 0 {
		inner += ` AND game NOT IN (?` + strings.Repeat(`, ?`, len(skipGames)-1) + `)`
		for _, g := range skipGames {
			args = append(args, g)
		}
	}
	inner += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit, domain.QueueStatusQueued)

	var entries []*domain.QueueEntry
	err := db.RunInTx(ctx, func(tx *DB) error {
		_, err := tx.exec(ctx, `UPDATE sync_queue SET status = ?, claim_token = ?, claimed_at = ?,
			attempts = attempts + 1, updated_at = ?
			WHERE id IN (`+inner+`) AND status = ?`, args...)
		if err != nil {
			return err
		}
		return tx.sel(ctx, &entries, `SELECT `+queueColumns+` FROM sync_queue WHERE claim_token = ? ORDER BY created_at, id`, token)
	})
	return entries, err
}

// CompleteEntry marks a claimed entry done. Writes from a worker that lost
// its claim are ignored.
func (db *DB) CompleteEntry(ctx context.Context, entry *domain.QueueEntry) (bool, error) {
	res, err := db.exec(ctx, `UPDATE sync_queue SET status = ?, cursor = 0, error = NULL, claim_token = NULL, updated_at = ?
		WHERE id = ? AND claim_token = ?`, domain.QueueStatusDone, now(), entry.ID, entry.ClaimToken)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

// RequeueEntry releases a claimed entry back to the queue, keeping cursor so
// the next claimer resumes where this one stopped. A nil errMsg means the unit
// was interrupted rather than failed, so the claim does not count as an attempt.
func (db *DB) RequeueEntry(ctx context.Context, entry *domain.QueueEntry, cursor int, errMsg *string) (bool, error) {
	refund := 0
	if errMsg == nil {
		refund = 1
	}
	res, err := db.exec(ctx, `UPDATE sync_queue SET status = ?, cursor = ?, error = ?, attempts = attempts - ?,
		claim_token = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND claim_token = ?`, domain.QueueStatusQueued, cursor, errMsg, refund, now(), entry.ID, entry.ClaimToken)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

func (db *DB) FailEntry(ctx context.Context, entry *domain.QueueEntry, cursor int, errMsg string) (bool, error) {
	res, err := db.exec(ctx, `UPDATE sync_queue SET status = ?, cursor = ?, error = ?, claim_token = NULL, updated_at = ?
		WHERE id = ? AND claim_token = ?`, domain.QueueStatusError, cursor, errMsg, now(), entry.ID, entry.ClaimToken)
	if err != nil {
		return false, err
	}
	return affected(res) == 1, nil
}

// CountInProgress counts the claimed entries of game.
func (db *DB) CountInProgress(ctx context.Context, game string) (int, error) {
	var n int
	err := db.get(ctx, &n, `SELECT COUNT(*) FROM sync_queue WHERE game = ? AND status = ?`, game, domain.QueueStatusInProgress)
	return n, err
}

// ResetStaleInProgress returns entries claimed longer than window ago to the
// queue. It returns how many were reset.
func (db *DB) ResetStaleInProgress(ctx context.Context, window time.Duration) (int, error) {
	var claimed []*domain.QueueEntry
	if err := db.sel(ctx, &claimed, `SELECT `+queueColumns+` FROM sync_queue WHERE status = ?`, domain.QueueStatusInProgress); err != nil {
		return 0, err
	}

	cutoff := now().Add(-window)
	reset := 0
	for _, e := range claimed {
		if e.ClaimedAt != nil && e.ClaimedAt.After(cutoff) {
			continue
		}
		res, err := db.exec(ctx, `UPDATE sync_queue SET status = ?, claim_token = NULL, claimed_at = NULL, updated_at = ?
			WHERE id = ? AND status = ?`, domain.QueueStatusQueued, now(), e.ID, domain.QueueStatusInProgress)
		if err != nil {
			return reset, err
		}
		reset += int(affected(res))
	}
	return reset, nil
}

type QueueStats struct {
	Queued     int `db:"queued" json:"queued"`
	InProgress int `db:"in_progress" json:"in_progress"`
	Done       int `db:"done" json:"done"`
	Error      int `db:"error" json:"error"`
}

func (db *DB) GetQueueStats(ctx context.Context, mode domain.QueueMode) (*QueueStats, error) {
	query := `SELECT
		COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0) AS queued,
		COALESCE(SUM(CASE WHEN status = 'in_progress' THEN 1 ELSE 0 END), 0) AS in_progress,
		COALESCE(SUM(CASE WHEN status = 'done' THEN 1 ELSE 0 END), 0) AS done,
		COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0) AS error
	FROM sync_queue`

	stats := &QueueStats{}
	var err error
	if mode == "" {
		err = db.get(ctx, stats, query)
	} else {
		err = db.get(ctx, stats, query+` WHERE mode = ?`, mode)
	}
	return stats, err
}

// ListQueueEntries returns entries in a status, oldest first.
func (db *DB) ListQueueEntries(ctx context.Context, status domain.QueueStatus, limit int) ([]*domain.QueueEntry, error) {
	var entries []*domain.QueueEntry
	err := db.sel(ctx, &entries, `SELECT `+queueColumns+` FROM sync_queue WHERE status = ? ORDER BY created_at, id LIMIT ?`, status, limit)
	return entries, err
}

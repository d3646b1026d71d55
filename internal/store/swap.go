package store

import (
	"context"
	"fmt"
)

// SwapResult reports how many rows each entity kind moved during a swap.
type SwapResult struct {
	Game     string           `json:"game"`
	Replaced map[string]int64 `json:"replaced"`
	Promoted map[string]int64 `json:"promoted"`
}

// promote replaces the live rows of one entity kind for game with the
// staged copy. It must run inside a transaction to be atomic.
func (db *DB) promote(ctx context.Context, p partition, game string) (replaced, promoted int64, err error) {
	if replaced, err = deleteGame(ctx, db, p.live, game); err != nil {
		return 0, 0, fmt.Errorf("clear live %s: %w", p.kind, err)
	}
	cols := p.live.columnList()
	res, err := db.exec(ctx, "INSERT INTO "+p.live.name+" ("+cols+") SELECT "+cols+" FROM "+p.shadow.name+" WHERE game = ?", game)
	if err != nil {
		return 0, 0, fmt.Errorf("promote %s: %w", p.kind, err)
	}
	return replaced, affected(res), nil
}

// AtomicSwap promotes the staged catalog of game to live and clears the
// staging rows, all in one transaction. Readers see either the old or the
// new catalog. Other games are untouched.
func (db *DB) AtomicSwap(ctx context.Context, game string) (*SwapResult, error) {
	result := &SwapResult{
		Game:     game,
		Replaced: make(map[string]int64, len(partitions)),
		Promoted: make(map[string]int64, len(partitions)),
	}

	err := db.RunInTx(ctx, func(tx *DB) error {
		for _, p := range partitions {
			replaced, promoted, err := tx.promote(ctx, p, game)
			if err != nil {
				return err
			}
			result.Replaced[p.kind] = replaced
			result.Promoted[p.kind] = promoted
		}
		for i := len(partitions) - 1; i >= 0; i-- {
			if _, err := deleteGame(ctx, tx, partitions[i].shadow, game); err != nil {
				return fmt.Errorf("clear shadow %s: %w", partitions[i].kind, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("swap %s: %w", game, err)
	}
	return result, nil
}

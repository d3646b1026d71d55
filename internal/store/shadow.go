package store

import (
	"context"
	"time"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

// ClearShadow removes every staged row for game.
func (db *DB) ClearShadow(ctx context.Context, game string) error {
	return db.RunInTx(ctx, func(tx *DB) error {
		for i := len(partitions) - 1; i >= 0; i-- {
			if _, err := deleteGame(ctx, tx, partitions[i].shadow, game); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) WriteShadowSets(ctx context.Context, sets []domain.Set) error {
	return writeRows(ctx, db, shadowSets, stamp(sets, stampSet), setKey)
}

func (db *DB) WriteShadowCards(ctx context.Context, cards []domain.Card) error {
	return writeRows(ctx, db, shadowCards, stamp(cards, func(c *domain.Card, t time.Time) { c.UpdatedAt = t }), cardKey)
}

func (db *DB) WriteShadowVariants(ctx context.Context, variants []domain.Variant) error {
	return writeRows(ctx, db, shadowVariants, stamp(variants, func(v *domain.Variant, t time.Time) { v.UpdatedAt = t }), variantKey)
}

// SeedShadowFromLive copies the live sets of game into the shadow table so
// locally known sets survive a rebuild even when the provider omits them.
func (db *DB) SeedShadowFromLive(ctx context.Context, game string) (int64, error) {
	cols := shadowSets.columnList()
	res, err := db.exec(ctx, "INSERT INTO "+shadowSets.name+" ("+cols+") SELECT "+cols+" FROM "+liveSets.name+
		" WHERE game = ? ON CONFLICT (game, id) DO NOTHING", game)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

func (db *DB) ListShadowSets(ctx context.Context, game string) ([]domain.Set, error) {
	var sets []domain.Set
	err := db.sel(ctx, &sets, shadowSets.selectSQL("game = ? ORDER BY id"), game)
	return sets, err
}

func (db *DB) ListShadowCards(ctx context.Context, game, setID string) ([]domain.Card, error) {
	var cards []domain.Card
	err := db.sel(ctx, &cards, shadowCards.selectSQL("game = ? AND set_id = ? ORDER BY id"), game, setID)
	return cards, err
}

// CountShadowCards returns the staged card count for one set.
func (db *DB) CountShadowCards(ctx context.Context, game, setID string) (int, error) {
	var n int
	err := db.get(ctx, &n, "SELECT COUNT(*) FROM "+shadowCards.name+" WHERE game = ? AND set_id = ?", game, setID)
	return n, err
}

// ClearShadowProviderID unlinks a staged set from the provider.
func (db *DB) ClearShadowProviderID(ctx context.Context, game, setID string) error {
	_, err := db.exec(ctx, "UPDATE "+shadowSets.name+" SET provider_id = NULL, updated_at = ? WHERE game = ? AND id = ?",
		now(), game, setID)
	return err
}

// UpdateShadowSetSync records card import results on a staged set.
func (db *DB) UpdateShadowSetSync(ctx context.Context, game, setID string, status domain.SetSyncStatus, cardCount int) error {
	t := now()
	_, err := db.exec(ctx, "UPDATE "+shadowSets.name+" SET sync_status = ?, card_count = ?, last_synced_at = ?, updated_at = ? WHERE game = ? AND id = ?",
		status, cardCount, t, t, game, setID)
	return err
}

// CountShadowNullProviderIDs counts staged sets that carry no provider link.
func (db *DB) CountShadowNullProviderIDs(ctx context.Context, game string) (int, error) {
	var n int
	err := db.get(ctx, &n, "SELECT COUNT(*) FROM "+shadowSets.name+" WHERE game = ? AND provider_id IS NULL", game)
	return n, err
}

func (db *DB) ShadowCounts(ctx context.Context, game string) (CatalogCounts, error) {
	return counts(ctx, db, game, shadowSets, shadowCards, shadowVariants)
}

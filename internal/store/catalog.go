package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

func setKey(s domain.Set) string         { return s.Game + "\x00" + s.ID }
func cardKey(c domain.Card) string       { return c.Game + "\x00" + c.ID }
func variantKey(v domain.Variant) string { return v.Game + "\x00" + v.ID }

// UpsertSets writes sets to the live table.
func (db *DB) UpsertSets(ctx context.Context, sets []domain.Set) error {
	return writeRows(ctx, db, liveSets, stamp(sets, stampSet), setKey)
}

func stampSet(s *domain.Set, t time.Time) {
	s.UpdatedAt = t
	if s.SyncStatus == "" {
		s.SyncStatus = domain.SetSyncPending
	}
}

// UpsertCardRecords writes a page of cards and their variants to the live
// tables in one transaction. Replaying the same page is a no-op.
func (db *DB) UpsertCardRecords(ctx context.Context, cards []domain.Card, variants []domain.Variant) error {
	return db.RunInTx(ctx, func(tx *DB) error {
		if err := writeRows(ctx, tx, liveCards, stamp(cards, func(c *domain.Card, t time.Time) { c.UpdatedAt = t }), cardKey); err != nil {
			return err
		}
		return writeRows(ctx, tx, liveVariants, stamp(variants, func(v *domain.Variant, t time.Time) { v.UpdatedAt = t }), variantKey)
	})
}

func (db *DB) ListSets(ctx context.Context, game string) ([]domain.Set, error) {
	var sets []domain.Set
	err := db.sel(ctx, &sets, liveSets.selectSQL("game = ? ORDER BY release_date, id"), game)
	return sets, err
}

func (db *DB) GetSet(ctx context.Context, game, id string) (*domain.Set, error) {
	var set domain.Set
	err := db.get(ctx, &set, liveSets.selectSQL("game = ? AND id = ?"), game, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (db *DB) ListCards(ctx context.Context, game, setID string) ([]domain.Card, error) {
	var cards []domain.Card
	var err error
	if setID == "" {
		err = db.sel(ctx, &cards, liveCards.selectSQL("game = ? ORDER BY id"), game)
	} else {
		err = db.sel(ctx, &cards, liveCards.selectSQL("game = ? AND set_id = ? ORDER BY id"), game, setID)
	}
	return cards, err
}

func (db *DB) ListVariants(ctx context.Context, game, cardID string) ([]domain.Variant, error) {
	var variants []domain.Variant
	err := db.sel(ctx, &variants, liveVariants.selectSQL("game = ? AND card_id = ? ORDER BY id"), game, cardID)
	return variants, err
}

// MarkSetSynced records the outcome of a card sync for one live set.
func (db *DB) MarkSetSynced(ctx context.Context, game, setID string, status domain.SetSyncStatus) error {
	t := now()
	_, err := db.exec(ctx, `UPDATE sets SET sync_status = ?, last_synced_at = ?, updated_at = ?,
		card_count = (SELECT COUNT(*) FROM cards WHERE cards.game = sets.game AND cards.set_id = sets.id)
		WHERE game = ? AND id = ?`, status, t, t, game, setID)
	return err
}

// SetSyncStatus updates only the status of a live set. last_synced_at keeps
// pointing at the last complete sync.
func (db *DB) SetSyncStatus(ctx context.Context, game, setID string, status domain.SetSyncStatus) error {
	_, err := db.exec(ctx, `UPDATE sets SET sync_status = ?, updated_at = ? WHERE game = ? AND id = ?`,
		status, now(), game, setID)
	return err
}

// CatalogCounts is a row count per entity kind for one game.
type CatalogCounts struct {
	Sets     int `json:"sets"`
	Cards    int `json:"cards"`
	Variants int `json:"variants"`
}

func (db *DB) LiveCounts(ctx context.Context, game string) (CatalogCounts, error) {
	return counts(ctx, db, game, liveSets, liveCards, liveVariants)
}

func counts(ctx context.Context, db *DB, game string, sets, cards, variants table) (CatalogCounts, error) {
	var c CatalogCounts
	var err error
	if c.Sets, err = countGame(ctx, db, sets, game); err != nil {
		return c, err
	}
	if c.Cards, err = countGame(ctx, db, cards, game); err != nil {
		return c, err
	}
	c.Variants, err = countGame(ctx, db, variants, game)
	return c, err
}

// stamp fills the updated_at column on a copy of rows.
func stamp[T any](rows []T, set func(*T, time.Time)) []T {
	t := now()
	out := make([]T, len(rows))
	copy(out, rows)
	for i := range out {
		set(&out[i], t)
	}
	return out
}

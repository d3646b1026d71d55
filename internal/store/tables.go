package store

import (
	"context"
	"strings"
	"time"

	"github.com/cesargomez89/catalogsync/internal/constants"
)

var (
	setColumns = []string{
		"game", "id", "provider_id", "name", "series", "printed_total", "total",
		"release_date", "sync_status", "card_count", "last_synced_at", "payload", "updated_at",
	}
	cardColumns = []string{
		"game", "id", "provider_id", "set_id", "set_provider_id", "name", "number",
		"rarity", "types", "external_ids", "payload", "updated_at",
	}
	variantColumns = []string{
		"game", "id", "card_id", "provider", "provider_variant_id", "printing", "condition",
		"language", "market", "low", "mid", "high", "currency", "payload", "updated_at",
	}
)

// table describes one catalog table keyed by (game, id).
type table struct {
	name    string
	columns []string
}

var (
	liveSets       = table{constants.SetsTable, setColumns}
	liveCards      = table{constants.CardsTable, cardColumns}
	liveVariants   = table{constants.VariantsTable, variantColumns}
	shadowSets     = table{constants.ShadowSetsTable, setColumns}
	shadowCards    = table{constants.ShadowCardsTable, cardColumns}
	shadowVariants = table{constants.ShadowVariantsTable, variantColumns}
)

// partition pairs a live table with its shadow copy.
type partition struct {
	kind   string
	live   table
	shadow table
}

var partitions = []partition{
	{kind: "sets", live: liveSets, shadow: shadowSets},
	{kind: "cards", live: liveCards, shadow: shadowCards},
	{kind: "variants", live: liveVariants, shadow: shadowVariants},
}

func (t table) columnList() string {
	return strings.Join(t.columns, ", ")
}

// upsertSQL builds a named insert that replaces every non-key column on conflict.
func (t table) upsertSQL() string {
	named := make([]string, len(t.columns))
	var updates []string
	for i, c := range t.columns {
		named[i] = ":" + c
		if c == "game" || c == "id" {
			continue
		}
		updates = append(updates, c+" = excluded."+c)
	}
	return "INSERT INTO " + t.name + " (" + t.columnList() + ") VALUES (" + strings.Join(named, ", ") +
		") ON CONFLICT (game, id) DO UPDATE SET " + strings.Join(updates, ", ")
}

func (t table) selectSQL(where string) string {
	return "SELECT " + t.columnList() + " FROM " + t.name + " WHERE " + where
}

// writeRows upserts rows in chunks. Rows sharing a key within one call keep the
// last occurrence, since a single statement may not touch the same row twice.
func writeRows[T any](ctx context.Context, db *DB, t table, rows []T, key func(T) string) error {
	if len(rows) == 0 {
		return nil
	}

	seen := make(map[string]int, len(rows))
	deduped := make([]T, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if i, ok := seen[k]; ok {
			deduped[i] = r
			continue
		}
		seen[k] = len(deduped)
		deduped = append(deduped, r)
	}

	query := t.upsertSQL()
	for start := 0; start < len(deduped); start += constants.DefaultShadowWriteChunk {
		end := start + constants.DefaultShadowWriteChunk
		if end > len(deduped) {
			end = len(deduped)
		}
		if _, err := db.NamedExecContext(ctx, query, deduped[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func deleteGame(ctx context.Context, db *DB, t table, game string) (int64, error) {
	res, err := db.exec(ctx, "DELETE FROM "+t.name+" WHERE game = ?", game)
	if err != nil {
		return 0, err
	}
	return affected(res), nil
}

func countGame(ctx context.Context, db *DB, t table, game string) (int, error) {
	var n int
	err := db.get(ctx, &n, "SELECT COUNT(*) FROM "+t.name+" WHERE game = ?", game)
	return n, err
}

func now() time.Time {
	return time.Now().UTC()
}

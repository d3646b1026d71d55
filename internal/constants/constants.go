// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort         = "8080"
	DefaultDBDriver     = "sqlite"
	DefaultDBDSN        = "catalogsync.db"
	DefaultProviderName = "pricing"
	DefaultProviderURL  = "http://127.0.0.1:8000/v1"
	DefaultCacheTTL     = 12 * time.Hour
)

// Provider access
const (
	DefaultRateCapacity  = 60
	DefaultRatePerMinute = 300
	DefaultRateMaxWait   = 30 * time.Second
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultRetryCount    = 3
	DefaultRetryBase     = 1 * time.Second
	DefaultRetryMaxDelay = 60 * time.Second
	DefaultRetryJitter   = 0.25
	DefaultPageSize      = 100
	MaxBatchLookupIDs    = 100
	APIKeyHeader         = "X-API-Key"
)

// Sync pipeline
const (
	DefaultSyncCooldown      = 12 * time.Hour
	DefaultJobLiveness       = 30 * time.Minute
	DefaultQueueLiveness     = 15 * time.Minute
	DefaultJobMaxRetries     = 3
	DefaultQueueMaxAttempts  = 3
	DefaultDrainTimeBudget   = 4 * time.Minute
	DefaultDrainConcurrency  = 3
	DefaultDrainMaxBatches   = 10
	DefaultDrainBatchSize    = 5
	DefaultTriggerRateLimit  = 1.0
	DefaultShadowWriteChunk  = 500
	MaxListJobs              = 50
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultBackgroundTimeout = 30 * time.Minute
)

// Games supported by the rebuild and drain triggers.
const (
	GamePokemon  = "pokemon"
	GameMTG      = "mtg"
	GameYugioh   = "yugioh"
	GameLorcana  = "lorcana"
	GameOnePiece = "onepiece"
	GameDigimon  = "digimon"
)

var SupportedGames = []string{
	GamePokemon,
	GameMTG,
	GameYugioh,
	GameLorcana,
	GameOnePiece,
	GameDigimon,
}

// IsSupportedGame reports whether slug is on the allow-list.
func IsSupportedGame(slug string) bool {
	for _, g := range SupportedGames {
		if g == slug {
			return true
		}
	}
	return false
}

// Database
const (
	SetsTable           = "sets"
	CardsTable          = "cards"
	VariantsTable       = "variants"
	ShadowSetsTable     = "shadow_sets"
	ShadowCardsTable    = "shadow_cards"
	ShadowVariantsTable = "shadow_variants"
	JobsTable           = "sync_jobs"
	QueueTable          = "sync_queue"
	CacheTable          = "cache"
)

// HTTP
const (
	ContentTypeJSON   = "application/json"
	ContentTypeNDJSON = "application/x-ndjson"
)

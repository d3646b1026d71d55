package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

type JobType string

const (
	JobTypeSets        JobType = "sets"
	JobTypeCards       JobType = "cards"
	JobTypeFullRebuild JobType = "full-rebuild"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusPartial   JobStatus = "partial"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition is expected without a retry.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusPartial, JobStatusCancelled:
		return true
	}
	return false
}

type SetSyncStatus string

const (
	SetSyncPending SetSyncStatus = "pending"
	SetSyncPartial SetSyncStatus = "partial"
	SetSyncSynced  SetSyncStatus = "synced"
	SetSyncFailed  SetSyncStatus = "failed"
)

type QueueMode string

const (
	QueueModeFull        QueueMode = "full"
	QueueModeIncremental QueueMode = "incremental"
)

type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusDone       QueueStatus = "done"
	QueueStatusError      QueueStatus = "error"
)

// Scope identifies the partition a unit of work touches.
type Scope struct {
	Game  string `json:"game"`
	SetID string `json:"set_id,omitempty"`
}

func (s Scope) String() string {
	if s.SetID == "" {
		return s.Game
	}
	return s.Game + "/" + s.SetID
}

// Set is one release within a game. ID is assigned locally and never changes;
// ProviderID stays nil until it is resolved against the provider's set list.
type Set struct {
	Game         string        `json:"game" db:"game"`
	ID           string        `json:"id" db:"id"`
	ProviderID   *string       `json:"provider_id" db:"provider_id"`
	Name         string        `json:"name" db:"name"`
	Series       string        `json:"series" db:"series"`
	PrintedTotal int           `json:"printed_total" db:"printed_total"`
	Total        int           `json:"total" db:"total"`
	ReleaseDate  string        `json:"release_date" db:"release_date"`
	SyncStatus   SetSyncStatus `json:"sync_status" db:"sync_status"`
	CardCount    int           `json:"card_count" db:"card_count"`
	LastSyncedAt *time.Time    `json:"last_synced_at,omitempty" db:"last_synced_at"`
	Payload      JSONMap       `json:"payload,omitempty" db:"payload"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// ProviderIDValue returns the provider identifier or "" when unresolved.
func (s *Set) ProviderIDValue() string {
	if s.ProviderID == nil {
		return ""
	}
	return *s.ProviderID
}

// Card belongs to exactly one Set.
type Card struct {
	Game          string      `json:"game" db:"game"`
	ID            string      `json:"id" db:"id"`
	ProviderID    string      `json:"provider_id" db:"provider_id"`
	SetID         string      `json:"set_id" db:"set_id"`
	SetProviderID string      `json:"set_provider_id" db:"set_provider_id"`
	Name          string      `json:"name" db:"name"`
	Number        string      `json:"number" db:"number"`
	Rarity        string      `json:"rarity" db:"rarity"`
	Types         StringSlice `json:"types" db:"types"`
	ExternalIDs   JSONMap     `json:"external_ids,omitempty" db:"external_ids"`
	Payload       JSONMap     `json:"payload,omitempty" db:"payload"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

// Variant is a priceable unit of a Card. Its ID is stable across re-syncs.
type Variant struct {
	Game              string              `json:"game" db:"game"`
	ID                string              `json:"id" db:"id"`
	CardID            string              `json:"card_id" db:"card_id"`
	Provider          string              `json:"provider" db:"provider"`
	ProviderVariantID string              `json:"provider_variant_id" db:"provider_variant_id"`
	Printing          string              `json:"printing" db:"printing"`
	Condition         string              `json:"condition" db:"condition"`
	Language          string              `json:"language" db:"language"`
	Market            decimal.NullDecimal `json:"market" db:"market"`
	Low               decimal.NullDecimal `json:"low" db:"low"`
	Mid               decimal.NullDecimal `json:"mid" db:"mid"`
	High              decimal.NullDecimal `json:"high" db:"high"`
	Currency          string              `json:"currency" db:"currency"`
	Payload           JSONMap             `json:"payload,omitempty" db:"payload"`
	UpdatedAt         time.Time           `json:"updated_at" db:"updated_at"`
}

// SyncJob is the audit and progress record for one unit or phase of work.
type SyncJob struct {
	ID          string     `json:"id" db:"id"`
	Type        JobType    `json:"type" db:"type"`
	Game        string     `json:"game" db:"game"`
	SetID       string     `json:"set_id" db:"set_id"`
	Status      JobStatus  `json:"status" db:"status"`
	Processed   int        `json:"processed" db:"processed"`
	Total       int        `json:"total" db:"total"`
	RetryCount  int        `json:"retry_count" db:"retry_count"`
	MaxRetries  int        `json:"max_retries" db:"max_retries"`
	Results     JSONMap    `json:"results,omitempty" db:"results"`
	Metrics     JSONMap    `json:"metrics,omitempty" db:"metrics"`
	Error       *string    `json:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

func (j *SyncJob) Scope() Scope {
	return Scope{Game: j.Game, SetID: j.SetID}
}

// IsStale reports whether a running job has gone without a heartbeat for longer than window.
func (j *SyncJob) IsStale(now time.Time, window time.Duration) bool {
	return j.Status == JobStatusRunning && now.Sub(j.UpdatedAt) > window
}

// QueueEntry is a durable work item: one provider set to fetch and upsert.
type QueueEntry struct {
	ID            string      `json:"id" db:"id"`
	Game          string      `json:"game" db:"game"`
	SetID         string      `json:"set_id" db:"set_id"`
	ProviderSetID string      `json:"provider_set_id" db:"provider_set_id"`
	Mode          QueueMode   `json:"mode" db:"mode"`
	Status        QueueStatus `json:"status" db:"status"`
	Cursor        int         `json:"cursor" db:"cursor"`
	Attempts      int         `json:"attempts" db:"attempts"`
	Error         *string     `json:"error,omitempty" db:"error"`
	ClaimToken    *string     `json:"-" db:"claim_token"`
	ClaimedAt     *time.Time  `json:"claimed_at,omitempty" db:"claimed_at"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
}

func (q *QueueEntry) Scope() Scope {
	return Scope{Game: q.Game, SetID: q.SetID}
}

// CardID derives the local card identifier from the provider's card id.
func CardID(game, providerID string) string {
	return game + ":" + providerID
}

// VariantID derives the stable variant identity. The provider's own variant id
// is used when present, otherwise a hash over the attributes that define the SKU.
func VariantID(provider, providerVariantID, cardProviderID, printing, condition, language string) string {
	key := providerVariantID
	if key == "" {
		sum := sha1.Sum([]byte(strings.Join([]string{
			cardProviderID,
			strings.ToLower(printing),
			strings.ToLower(condition),
			strings.ToLower(language),
		}, "|")))
		key = hex.EncodeToString(sum[:8])
	}
	return provider + ":" + key
}

// NormalizeName folds case and drops punctuation so that "Base Set (Unlimited)"
// and "base set unlimited" compare equal.
func NormalizeName(name string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			space = true
		}
	}
	return b.String()
}

// SetSlug builds a deterministic local identifier for a set first seen on the provider.
func SetSlug(game, name string) string {
	slug := strings.ReplaceAll(NormalizeName(name), " ", "-")
	if slug == "" {
		slug = "unnamed"
	}
	return fmt.Sprintf("%s-%s", game, slug)
}

package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

var (
	ErrUnknownGame  = errors.New("unknown game")
	ErrIteratorDone = errors.New("no more pages")
)

// Provider is an upstream catalog and pricing source.
type Provider interface {
	Name() string
	ListSets(ctx context.Context, game string) ([]domain.Set, error)
	Cards(query CardQuery) *CardIterator
	LookupCards(ctx context.Context, game string, providerIDs []string) ([]CardRecord, error)
}

// CardQuery scopes a card listing. SetProviderID and Since are optional.
type CardQuery struct {
	Game          string
	SetProviderID string
	Since         *time.Time
	Offset        int
	PageSize      int
}

// CardRecord is one mapped provider card together with its priced variants.
type CardRecord struct {
	Card     domain.Card      `json:"card"`
	Variants []domain.Variant `json:"variants"`
}

// Package guardrail checks staged sets against a fresh provider snapshot
// before they may be promoted to the live catalog.
package guardrail

import (
	"context"
	"errors"
	"fmt"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/cesargomez89/catalogsync/internal/domain"
	"github.com/cesargomez89/catalogsync/internal/logger"
)

var ErrValidationFailed = errors.New("validation failed")

const (
	ReasonNotFound   = "not_found"
	ReasonRolledBack = "rolled_back"
)

// ShadowStore is the slice of the store the validator needs.
type ShadowStore interface {
	ListShadowSets(ctx context.Context, game string) ([]domain.Set, error)
	ClearShadowProviderID(ctx context.Context, game, setID string) error
	CountShadowNullProviderIDs(ctx context.Context, game string) (int, error)
}

// SetLister fetches the provider's current set list. It must not be cached.
type SetLister interface {
	ListSets(ctx context.Context, game string) ([]domain.Set, error)
}

// Correction records one cleared provider identifier.
type Correction struct {
	SetID        string `json:"set_id"`
	ProviderID   string `json:"provider_id"`
	LocalName    string `json:"local_name"`
	ProviderName string `json:"provider_name,omitempty"`
	Reason       string `json:"reason"`
	Distance     int    `json:"distance,omitempty"`
}

type Report struct {
	Game        string       `json:"game"`
	Checked     int          `json:"checked"`
	NotFound    int          `json:"not_found"`
	RolledBack  int          `json:"rolled_back"`
	Corrections []Correction `json:"corrections,omitempty"`
}

type Validation struct {
	Game            string `json:"game"`
	NullProviderIDs int    `json:"null_provider_ids"`
}

type Validator struct {
	store    ShadowStore
	provider SetLister
	logger   *logger.Logger
}

func NewValidator(store ShadowStore, provider SetLister, log *logger.Logger) *Validator {
	return &Validator{
		store:    store,
		provider: provider,
		logger:   log.WithComponent("guardrail"),
	}
}

// Check runs the orphan and name-drift checks over the staged sets of game.
// A set whose provider id is unknown upstream is counted not_found; one whose
// id resolves to a differently named set is counted rolled_back. Either way
// only the provider id is cleared, never the row.
func (v *Validator) Check(ctx context.Context, game string) (*Report, error) {
	fresh, err := v.provider.ListSets(ctx, game)
	if err != nil {
		return nil, fmt.Errorf("fetch provider sets: %w", err)
	}
	upstream := make(map[string]domain.Set, len(fresh))
	for _, s := range fresh {
		if pid := s.ProviderIDValue(); pid != "" {
			upstream[pid] = s
		}
	}

	staged, err := v.store.ListShadowSets(ctx, game)
	if err != nil {
		return nil, fmt.Errorf("list shadow sets: %w", err)
	}

	report := &Report{Game: game}
	for _, set := range staged {
		pid := set.ProviderIDValue()
		if pid == "" {
			continue
		}
		report.Checked++

		c := Correction{SetID: set.ID, ProviderID: pid, LocalName: set.Name}
		current, ok := upstream[pid]
		switch {
		case !ok:
			c.Reason = ReasonNotFound
		case domain.NormalizeName(current.Name) != domain.NormalizeName(set.Name):
			c.Reason = ReasonRolledBack
			c.ProviderName = current.Name
			c.Distance = levenshtein.DistanceForStrings(
				[]rune(domain.NormalizeName(set.Name)),
				[]rune(domain.NormalizeName(current.Name)),
				levenshtein.DefaultOptions,
			)
		default:
			continue
		}

		if err := v.store.ClearShadowProviderID(ctx, game, set.ID); err != nil {
			return report, fmt.Errorf("clear provider id of %s: %w", set.ID, err)
		}
		if c.Reason == ReasonNotFound {
			report.NotFound++
		} else {
			report.RolledBack++
		}
		report.Corrections = append(report.Corrections, c)

		v.logger.Warn("Cleared provider id",
			"game", game,
			"set_id", set.ID,
			"provider_id", pid,
			"reason", c.Reason,
			"provider_name", c.ProviderName,
			"distance", c.Distance,
		)
	}

	return report, nil
}

// Validate fails when any staged set of game still lacks a provider id.
func (v *Validator) Validate(ctx context.Context, game string) (*Validation, error) {
	nulls, err := v.store.CountShadowNullProviderIDs(ctx, game)
	if err != nil {
		return nil, fmt.Errorf("count null provider ids: %w", err)
	}
	result := &Validation{Game: game, NullProviderIDs: nulls}
	if nulls > 0 {
		v.logger.Error("Shadow validation failed", "game", game, "null_provider_ids", nulls)
		return result, fmt.Errorf("%w: %d sets in %s have no provider id", ErrValidationFailed, nulls, game)
	}
	return result, nil
}

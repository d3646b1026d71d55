package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

// MockProvider is an in-memory Provider for tests and local runs.
type MockProvider struct {
	mu     sync.RWMutex
	name   string
	sets   map[string][]domain.Set
	cards  map[string]map[string][]CardRecord
	errors map[string]error
	calls  map[string]int
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:   name,
		sets:   make(map[string][]domain.Set),
		cards:  make(map[string]map[string][]CardRecord),
		errors: make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (p *MockProvider) Name() string {
	return p.name
}

// SetSets replaces the set listing for game.
func (p *MockProvider) SetSets(game string, sets ...domain.Set) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets[game] = append([]domain.Set(nil), sets...)
}

// AddCards appends cards to a provider set.
func (p *MockProvider) AddCards(game, setProviderID string, cards ...CardRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cards[game] == nil {
		p.cards[game] = make(map[string][]CardRecord)
	}
	p.cards[game][setProviderID] = append(p.cards[game][setProviderID], cards...)
}

// FailOn makes the operation identified by key return err. Keys are
// "sets:<game>" and "cards:<game>:<set provider id>".
func (p *MockProvider) FailOn(key string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.errors, key)
		return
	}
	p.errors[key] = err
}

// Calls returns how many times the keyed operation ran.
func (p *MockProvider) Calls(key string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.calls[key]
}

func (p *MockProvider) record(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[key]++
	return p.errors[key]
}

func (p *MockProvider) ListSets(ctx context.Context, game string) ([]domain.Set, error) {
	key := "sets:" + game
	if err := p.record(key); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]domain.Set(nil), p.sets[game]...), nil
}

func (p *MockProvider) Cards(q CardQuery) *CardIterator {
	return NewCardIterator(func(ctx context.Context, offset, limit int) (*Page, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := fmt.Sprintf("cards:%s:%s", q.Game, q.SetProviderID)
		if err := p.record(key); err != nil {
			return nil, err
		}

		all := p.matching(q)
		page := &Page{Total: len(all)}
		if offset < len(all) {
			end := offset + limit
			if end > len(all) {
				end = len(all)
			}
			page.Cards = all[offset:end]
		}
		page.Fetched = len(page.Cards)
		return page, nil
	}, q.Offset, q.PageSize)
}

func (p *MockProvider) matching(q CardQuery) []CardRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var setIDs []string
	if q.SetProviderID != "" {
		setIDs = []string{q.SetProviderID}
	} else {
		for id := range p.cards[q.Game] {
			setIDs = append(setIDs, id)
		}
		sort.Strings(setIDs)
	}

	var out []CardRecord
	for _, id := range setIDs {
		for _, rec := range p.cards[q.Game][id] {
			if q.Since != nil && !rec.Card.UpdatedAt.IsZero() && rec.Card.UpdatedAt.Before(*q.Since) {
				continue
			}
			out = append(out, rec)
		}
	}
	return out
}

func (p *MockProvider) LookupCards(ctx context.Context, game string, providerIDs []string) ([]CardRecord, error) {
	want := make(map[string]bool, len(providerIDs))
	for _, id := range providerIDs {
		want[id] = true
	}
	var out []CardRecord
	for _, rec := range p.matching(CardQuery{Game: game}) {
		if want[rec.Card.ProviderID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// MockSet builds a provider-side set.
func MockSet(game, providerID, name string) domain.Set {
	id := providerID
	return domain.Set{
		Game:       game,
		ProviderID: &id,
		Name:       name,
		SyncStatus: domain.SetSyncPending,
	}
}

// MockCard builds a provider-side card with the given variants' printings.
func MockCard(game, provider, setProviderID, providerID, name string, printings ...string) CardRecord {
	card := domain.Card{
		Game:          game,
		ID:            domain.CardID(game, providerID),
		ProviderID:    providerID,
		SetProviderID: setProviderID,
		Name:          name,
	}
	rec := CardRecord{Card: card}
	for _, printing := range printings {
		rec.Variants = append(rec.Variants, domain.Variant{
			Game:      game,
			ID:        domain.VariantID(provider, "", providerID, printing, "NM", "EN"),
			CardID:    card.ID,
			Provider:  provider,
			Printing:  printing,
			Condition: "NM",
			Language:  "EN",
			Currency:  "USD",
		})
	}
	return rec
}

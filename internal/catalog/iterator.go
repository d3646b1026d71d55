package catalog

import (
	"context"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

// Page is one provider page after mapping.
type Page struct {
	Cards      []CardRecord
	Offset     int
	NextOffset int
	Total      int // -1 when the provider does not report it
	HasMore    *bool
	Fetched    int // raw records on the page, including skipped ones
	Skipped    int // records that could not be mapped
}

// Rows returns the page's cards, each assigned to the local set setID, and
// their variants.
func (p *Page) Rows(setID string) ([]domain.Card, []domain.Variant) {
	cards := make([]domain.Card, 0, len(p.Cards))
	var variants []domain.Variant
	for _, rec := range p.Cards {
		card := rec.Card
		card.SetID = setID
		cards = append(cards, card)
		variants = append(variants, rec.Variants...)
	}
	return cards, variants
}

// PageFunc fetches and maps one page starting at offset.
type PageFunc func(ctx context.Context, offset, limit int) (*Page, error)

// CardIterator walks an offset paginated listing lazily, one page per Next.
// It stops on an empty page, hasMore=false, or once the reported total is reached.
type CardIterator struct {
	fetch  PageFunc
	offset int
	limit  int
	total  int
	done   bool
}

func NewCardIterator(fetch PageFunc, offset, limit int) *CardIterator {
	if limit <= 0 {
		limit = 100
	}
	return &CardIterator{
		fetch:  fetch,
		offset: offset,
		limit:  limit,
		total:  -1,
	}
}

// Next returns the next page. A failed fetch leaves the offset untouched so the
// caller can retry or persist it as a resume cursor.
func (it *CardIterator) Next(ctx context.Context) (*Page, error) {
	if it.done {
		return nil, ErrIteratorDone
	}

	page, err := it.fetch(ctx, it.offset, it.limit)
	if err != nil {
		return nil, err
	}

	page.Offset = it.offset
	it.offset += page.Fetched
	page.NextOffset = it.offset
	if page.Total >= 0 {
		it.total = page.Total
	}

	switch {
	case page.Fetched == 0:
		it.done = true
	case page.HasMore != nil && !*page.HasMore:
		it.done = true
	case it.total >= 0 && it.offset >= it.total:
		it.done = true
	}
	return page, nil
}

// Done reports whether the listing is exhausted.
func (it *CardIterator) Done() bool {
	return it.done
}

// Offset is the position of the next page to fetch.
func (it *CardIterator) Offset() int {
	return it.offset
}

// Total is the last total reported by the provider, or -1.
func (it *CardIterator) Total() int {
	return it.total
}

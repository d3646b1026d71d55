package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cesargomez89/catalogsync/internal/constants"
	"github.com/cesargomez89/catalogsync/internal/domain"
	"github.com/cesargomez89/catalogsync/internal/httpclient"
)

var pricingLogger = slog.Default().WithGroup("pricing")

// PricingProvider reads the card pricing API. Every request goes through the
// shared retrying client, and therefore through the provider's rate limiter.
type PricingProvider struct {
	name     string
	baseURL  string
	apiKey   string
	client   *httpclient.Client
	pageSize int
	batchMax int
}

type PricingOption func(*PricingProvider)

func WithPageSize(n int) PricingOption {
	return func(p *PricingProvider) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

func WithBatchMax(n int) PricingOption {
	return func(p *PricingProvider) {
		if n > 0 && n <= constants.MaxBatchLookupIDs {
			p.batchMax = n
		}
	}
}

func NewPricingProvider(name, baseURL, apiKey string, client *httpclient.Client, opts ...PricingOption) *PricingProvider {
	p := &PricingProvider{
		name:     name,
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   client,
		pageSize: constants.DefaultPageSize,
		batchMax: constants.MaxBatchLookupIDs,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PricingProvider) Name() string {
	return p.name
}

// envelope accepts both {data, total, hasMore} and {data, meta: {total, hasMore}}.
type envelope struct {
	Data    []json.RawMessage `json:"data"`
	Total   *int              `json:"total"`
	HasMore *bool             `json:"hasMore"`
	Meta    *struct {
		Total   *int  `json:"total"`
		HasMore *bool `json:"hasMore"`
	} `json:"meta"`
}

func (e *envelope) total() int {
	if e.Meta != nil && e.Meta.Total != nil {
		return *e.Meta.Total
	}
	if e.Total != nil {
		return *e.Total
	}
	return -1
}

func (e *envelope) hasMore() *bool {
	if e.Meta != nil && e.Meta.HasMore != nil {
		return e.Meta.HasMore
	}
	return e.HasMore
}

func (p *PricingProvider) do(ctx context.Context, method, path string, params url.Values, body []byte) (*envelope, error) {
	u := p.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	pricingLogger.Debug("API request", "method", method, "url", u)

	resp, err := p.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, rdr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", constants.ContentTypeJSON)
		if body != nil {
			req.Header.Set("Content-Type", constants.ContentTypeJSON)
		}
		if p.apiKey != "" {
			req.Header.Set(constants.APIKeyHeader, p.apiKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &httpclient.StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var env envelope
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return &env, nil
}

// ListSets pages through every set the provider knows for game.
func (p *PricingProvider) ListSets(ctx context.Context, game string) ([]domain.Set, error) {
	providerGame, err := ProviderGame(game)
	if err != nil {
		return nil, err
	}

	var sets []domain.Set
	offset := 0
	for {
		params := url.Values{}
		params.Set("game", providerGame)
		params.Set("limit", strconv.Itoa(p.pageSize))
		params.Set("offset", strconv.Itoa(offset))

		env, err := p.do(ctx, http.MethodGet, "/sets", params, nil)
		if err != nil {
			return nil, fmt.Errorf("list sets for %s at offset %d: %w", game, offset, err)
		}

		for _, raw := range env.Data {
			s, err := MapSet(game, raw)
			if err != nil {
				pricingLogger.Warn("Skipping unmappable set", "game", game, "error", err)
				continue
			}
			sets = append(sets, s)
		}

		offset += len(env.Data)
		more := env.hasMore()
		total := env.total()
		if len(env.Data) == 0 || (more != nil && !*more) || (total >= 0 && offset >= total) {
			break
		}
	}
	return sets, nil
}

// Cards returns a lazy iterator over the provider's cards for the query scope.
func (p *PricingProvider) Cards(q CardQuery) *CardIterator {
	limit := q.PageSize
	if limit <= 0 {
		limit = p.pageSize
	}
	return NewCardIterator(func(ctx context.Context, offset, limit int) (*Page, error) {
		return p.fetchCardPage(ctx, q, offset, limit)
	}, q.Offset, limit)
}

func (p *PricingProvider) fetchCardPage(ctx context.Context, q CardQuery, offset, limit int) (*Page, error) {
	providerGame, err := ProviderGame(q.Game)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("game", providerGame)
	if q.SetProviderID != "" {
		params.Set("set", q.SetProviderID)
	}
	if q.Since != nil {
		params.Set("updated_after", q.Since.UTC().Format(time.RFC3339))
	}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	env, err := p.do(ctx, http.MethodGet, "/cards", params, nil)
	if err != nil {
		return nil, fmt.Errorf("list cards for %s at offset %d: %w", q.Game, offset, err)
	}

	page := &Page{
		Total:   env.total(),
		HasMore: env.hasMore(),
		Fetched: len(env.Data),
		Cards:   make([]CardRecord, 0, len(env.Data)),
	}
	for _, raw := range env.Data {
		rec, err := MapCard(q.Game, p.name, raw)
		if err != nil {
			page.Skipped++
			pricingLogger.Warn("Skipping unmappable card", "game", q.Game, "offset", offset, "error", err)
			continue
		}
		page.Cards = append(page.Cards, rec)
	}
	return page, nil
}

// LookupCards fetches cards by provider id, batching to the provider's per-call maximum.
func (p *PricingProvider) LookupCards(ctx context.Context, game string, providerIDs []string) ([]CardRecord, error) {
	providerGame, err := ProviderGame(game)
	if err != nil {
		return nil, err
	}

	var out []CardRecord
	for start := 0; start < len(providerIDs); start += p.batchMax {
		end := start + p.batchMax
		if end > len(providerIDs) {
			end = len(providerIDs)
		}

		body, err := json.Marshal(map[string]any{
			"game": providerGame,
			"ids":  providerIDs[start:end],
		})
		if err != nil {
			return nil, err
		}

		env, err := p.do(ctx, http.MethodPost, "/cards/batch", nil, body)
		if err != nil {
			return nil, fmt.Errorf("batch lookup %d-%d: %w", start, end, err)
		}
		for _, raw := range env.Data {
			rec, err := MapCard(game, p.name, raw)
			if err != nil {
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

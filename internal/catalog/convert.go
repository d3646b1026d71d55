package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

var errMissingID = errors.New("record has no id")

// flexID accepts identifiers the provider sends either as strings or numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", b)
	}
	*f = flexID(n.String())
	return nil
}

type rawSet struct {
	ID           flexID `json:"id"`
	Name         string `json:"name"`
	Series       string `json:"series"`
	PrintedTotal int    `json:"printedTotal"`
	Total        int    `json:"total"`
	ReleaseDate  string `json:"releaseDate"`
}

var setKeys = []string{"id", "name", "series", "printedTotal", "total", "releaseDate"}

type rawVariant struct {
	ID        flexID       `json:"id"`
	Printing  string       `json:"printing"`
	Condition string       `json:"condition"`
	Language  string       `json:"language"`
	Market    *json.Number `json:"market"`
	Low       *json.Number `json:"low"`
	Mid       *json.Number `json:"mid"`
	High      *json.Number `json:"high"`
	Currency  string       `json:"currency"`
}

var variantKeys = []string{"id", "printing", "condition", "language", "market", "low", "mid", "high", "currency"}

type rawCard struct {
	ID           flexID            `json:"id"`
	SetID        flexID            `json:"setId"`
	Name         string            `json:"name"`
	Number       string            `json:"number"`
	Rarity       string            `json:"rarity"`
	Types        []string          `json:"types"`
	TCGPlayerID  flexID            `json:"tcgplayerId"`
	CardmarketID flexID            `json:"cardmarketId"`
	Variants     []json.RawMessage `json:"variants"`
}

var cardKeys = []string{"id", "setId", "name", "number", "rarity", "types", "tcgplayerId", "cardmarketId", "variants"}

// decodeWithResidue fills dst from raw and returns every top level field not in known.
func decodeWithResidue(raw json.RawMessage, dst any, known []string) (domain.JSONMap, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return nil, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}

	residue := make(domain.JSONMap, len(all))
	for k, v := range all {
		var val any
		d := json.NewDecoder(bytes.NewReader(v))
		d.UseNumber()
		if err := d.Decode(&val); err != nil {
			return nil, fmt.Errorf("field %s: %w", k, err)
		}
		residue[k] = val
	}
	return residue, nil
}

// MapSet turns a provider set record into a Set. The local ID is left empty;
// it is assigned by whoever reconciles the set against the live catalog.
func MapSet(game string, raw json.RawMessage) (domain.Set, error) {
	var r rawSet
	payload, err := decodeWithResidue(raw, &r, setKeys)
	if err != nil {
		return domain.Set{}, fmt.Errorf("decode set: %w", err)
	}
	if r.ID == "" {
		return domain.Set{}, errMissingID
	}

	providerID := string(r.ID)
	return domain.Set{
		Game:         game,
		ProviderID:   &providerID,
		Name:         strings.TrimSpace(r.Name),
		Series:       r.Series,
		PrintedTotal: r.PrintedTotal,
		Total:        r.Total,
		ReleaseDate:  normalizeDate(r.ReleaseDate),
		SyncStatus:   domain.SetSyncPending,
		Payload:      payload,
	}, nil
}

// MapCard turns a provider card record into a card and its variants. SetID is
// left empty; callers resolve it from SetProviderID.
func MapCard(game, provider string, raw json.RawMessage) (CardRecord, error) {
	var r rawCard
	payload, err := decodeWithResidue(raw, &r, cardKeys)
	if err != nil {
		return CardRecord{}, fmt.Errorf("decode card: %w", err)
	}
	if r.ID == "" {
		return CardRecord{}, errMissingID
	}

	providerID := string(r.ID)
	card := domain.Card{
		Game:          game,
		ID:            domain.CardID(game, providerID),
		ProviderID:    providerID,
		SetProviderID: string(r.SetID),
		Name:          strings.TrimSpace(r.Name),
		Number:        r.Number,
		Rarity:        r.Rarity,
		Types:         domain.StringSlice(r.Types),
		Payload:       payload,
	}

	external := domain.JSONMap{}
	if r.TCGPlayerID != "" {
		external["tcgplayer"] = string(r.TCGPlayerID)
	}
	if r.CardmarketID != "" {
		external["cardmarket"] = string(r.CardmarketID)
	}
	if len(external) > 0 {
		card.ExternalIDs = external
	}

	variants := make([]domain.Variant, 0, len(r.Variants))
	seen := make(map[string]bool, len(r.Variants))
	for i, raw := range r.Variants {
		var rv rawVariant
		extra, err := decodeWithResidue(raw, &rv, variantKeys)
		if err != nil {
			return CardRecord{}, fmt.Errorf("decode variant %d: %w", i, err)
		}
		v := domain.Variant{
			Game:              game,
			CardID:            card.ID,
			Provider:          provider,
			ProviderVariantID: string(rv.ID),
			Printing:          rv.Printing,
			Condition:         rv.Condition,
			Language:          rv.Language,
			Market:            toDecimal(rv.Market),
			Low:               toDecimal(rv.Low),
			Mid:               toDecimal(rv.Mid),
			High:              toDecimal(rv.High),
			Currency:          strings.ToUpper(rv.Currency),
			Payload:           extra,
		}
		if v.Currency == "" {
			v.Currency = "USD"
		}
		v.ID = domain.VariantID(provider, v.ProviderVariantID, providerID, v.Printing, v.Condition, v.Language)
		if seen[v.ID] {
			continue
		}
		seen[v.ID] = true
		variants = append(variants, v)
	}

	return CardRecord{Card: card, Variants: variants}, nil
}

func toDecimal(n *json.Number) decimal.NullDecimal {
	if n == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// normalizeDate turns 2023/03/31 into 2023-03-31.
func normalizeDate(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "/", "-")
}

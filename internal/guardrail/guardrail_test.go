package guardrail

import (
	"context"
	"errors"
	"testing"

	"github.com/cesargomez89/catalogsync/internal/catalog"
	"github.com/cesargomez89/catalogsync/internal/domain"
	"github.com/cesargomez89/catalogsync/internal/logger"
)

type memShadow struct {
	sets     []domain.Set
	clearErr error
}

func (m *memShadow) ListShadowSets(ctx context.Context, game string) ([]domain.Set, error) {
	var out []domain.Set
	for _, s := range m.sets {
		if s.Game == game {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memShadow) ClearShadowProviderID(ctx context.Context, game, setID string) error {
	if m.clearErr != nil {
		return m.clearErr
	}
	for i := range m.sets {
		if m.sets[i].Game == game && m.sets[i].ID == setID {
			m.sets[i].ProviderID = nil
		}
	}
	return nil
}

func (m *memShadow) CountShadowNullProviderIDs(ctx context.Context, game string) (int, error) {
	n := 0
	for _, s := range m.sets {
		if s.Game == game && s.ProviderID == nil {
			n++
		}
	}
	return n, nil
}

func staged(game, id, pid, name string) domain.Set {
	s := domain.Set{Game: game, ID: id, Name: name}
	if pid != "" {
		s.ProviderID = &pid
	}
	return s
}

func TestValidator_Check(t *testing.T) {
	provider := catalog.NewMockProvider("mock")
	provider.SetSets("pokemon",
		catalog.MockSet("pokemon", "base1", "Base Set"),
		catalog.MockSet("pokemon", "jungle", "Jungle (Unlimited)"),
		catalog.MockSet("pokemon", "fossil", "Fossil Renamed"),
	)

	store := &memShadow{sets: []domain.Set{
		staged("pokemon", "pokemon-base", "base1", "base set"),
		staged("pokemon", "pokemon-jungle", "jungle", "Jungle Unlimited"),
		staged("pokemon", "pokemon-fossil", "fossil", "Fossil"),
		staged("pokemon", "pokemon-gone", "gone", "Gone Set"),
		staged("pokemon", "pokemon-local", "", "Local Only"),
		staged("mtg", "mtg-neo", "gone", "Other Game"),
	}}

	v := NewValidator(store, provider, logger.Discard())
	report, err := v.Check(context.Background(), "pokemon")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	if report.Checked != 4 {
		t.Errorf("Expected 4 checked, got %d", report.Checked)
	}
	if report.NotFound != 1 {
		t.Errorf("Expected 1 not_found, got %d", report.NotFound)
	}
	if report.RolledBack != 1 {
		t.Errorf("Expected 1 rolled_back, got %d", report.RolledBack)
	}

	byID := map[string]Correction{}
	for _, c := range report.Corrections {
		byID[c.SetID] = c
	}
	if c := byID["pokemon-gone"]; c.Reason != ReasonNotFound {
		t.Errorf("Expected pokemon-gone to be not_found, got %q", c.Reason)
	}
	if c := byID["pokemon-fossil"]; c.Reason != ReasonRolledBack || c.Distance != 8 {
		t.Errorf("Expected pokemon-fossil rolled_back with distance 8, got %+v", c)
	}
	if _, ok := byID["pokemon-jungle"]; ok {
		t.Error("Expected punctuation-only difference to pass")
	}

	for _, s := range store.sets {
		switch s.ID {
		case "pokemon-gone", "pokemon-fossil":
			if s.ProviderID != nil {
				t.Errorf("Expected provider id of %s to be cleared", s.ID)
			}
		case "pokemon-base", "pokemon-jungle", "mtg-neo":
			if s.ProviderID == nil {
				t.Errorf("Expected provider id of %s to be kept", s.ID)
			}
		}
	}
}

func TestValidator_CheckErrors(t *testing.T) {
	provider := catalog.NewMockProvider("mock")
	provider.FailOn("sets:pokemon", errors.New("upstream down"))
	v := NewValidator(&memShadow{}, provider, logger.Discard())

	if _, err := v.Check(context.Background(), "pokemon"); err == nil {
		t.Error("Expected provider error to surface")
	}

	provider = catalog.NewMockProvider("mock")
	store := &memShadow{
		sets:     []domain.Set{staged("pokemon", "x", "missing", "X")},
		clearErr: errors.New("locked"),
	}
	v = NewValidator(store, provider, logger.Discard())
	if _, err := v.Check(context.Background(), "pokemon"); err == nil {
		t.Error("Expected clear error to surface")
	}
}

func TestValidator_Validate(t *testing.T) {
	store := &memShadow{sets: []domain.Set{
		staged("pokemon", "a", "a", "A"),
		staged("pokemon", "b", "", "B"),
		staged("mtg", "c", "c", "C"),
	}}
	v := NewValidator(store, catalog.NewMockProvider("mock"), logger.Discard())

	tests := []struct {
		game    string
		wantErr bool
		nulls   int
	}{
		{"pokemon", true, 1},
		{"mtg", false, 0},
		{"lorcana", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.game, func(t *testing.T) {
			res, err := v.Validate(context.Background(), tt.game)
			if tt.wantErr != errors.Is(err, ErrValidationFailed) {
				t.Errorf("Expected ErrValidationFailed=%v, got %v", tt.wantErr, err)
			}
			if res.NullProviderIDs != tt.nulls {
				t.Errorf("Expected %d nulls, got %d", tt.nulls, res.NullProviderIDs)
			}
		})
	}
}

package app

import (
	"testing"

	"github.com/cesargomez89/catalogsync/internal/catalog"
	"github.com/cesargomez89/catalogsync/internal/domain"
)

func localSet(id, pid, name string) domain.Set {
	s := domain.Set{Game: "pokemon", ID: id, Name: name, SyncStatus: domain.SetSyncSynced, CardCount: 102}
	if pid != "" {
		s.ProviderID = &pid
	}
	return s
}

func TestReconcileSets(t *testing.T) {
	local := []domain.Set{
		localSet("base", "base1", "Base Set"),
		localSet("jungle-legacy", "", "Jungle"),
		localSet("orphan", "", "Promo Collection"),
	}
	upstream := []domain.Set{
		catalog.MockSet("pokemon", "base1", "Base Set (Renamed Upstream)"),
		catalog.MockSet("pokemon", "base2", "jungle"),
		catalog.MockSet("pokemon", "base3", "Fossil"),
		catalog.MockSet("pokemon", "base3", "Fossil duplicate"),
		{Game: "pokemon", Name: "No id"},
	}
	upstream[0].Series = "Base"

	merged, stats := reconcileSets("pokemon", local, upstream)

	if stats.ProviderSets != 5 {
		t.Errorf("Expected 5 provider sets, got %d", stats.ProviderSets)
	}
	if stats.MatchedByID != 1 || stats.MatchedByName != 1 || stats.Created != 1 {
		t.Errorf("Expected 1 matched by id, 1 by name and 1 created, got %+v", stats)
	}
	if len(merged) != 3 {
		t.Fatalf("Expected 3 merged sets, got %d", len(merged))
	}

	byID := make(map[string]domain.Set)
	for _, s := range merged {
		byID[s.ID] = s
	}

	base := byID["base"]
	if base.Name != "Base Set" {
		t.Errorf("Expected local name to be kept, got %q", base.Name)
	}
	if base.Series != "Base" {
		t.Errorf("Expected upstream series, got %q", base.Series)
	}
	if base.SyncStatus != domain.SetSyncSynced || base.CardCount != 102 {
		t.Errorf("Expected local sync state to be kept, got %s/%d", base.SyncStatus, base.CardCount)
	}

	jungle := byID["jungle-legacy"]
	if jungle.ProviderIDValue() != "base2" {
		t.Errorf("Expected name match to link base2, got %q", jungle.ProviderIDValue())
	}

	fossil, ok := byID["pokemon-fossil"]
	if !ok {
		t.Fatalf("Expected created set pokemon-fossil, got %v", byID)
	}
	if fossil.SyncStatus != domain.SetSyncPending {
		t.Errorf("Expected created set to be pending, got %s", fossil.SyncStatus)
	}

	if _, ok := byID["orphan"]; ok {
		t.Error("Expected unmatched local set to be left out of the merge")
	}
}

func TestUniqueSetID(t *testing.T) {
	tests := []struct {
		name string
		used []string
		want string
	}{
		{"free", nil, "pokemon-fossil"},
		{"slug taken", []string{"pokemon-fossil"}, "pokemon-fossil-base3"},
		{"both taken", []string{"pokemon-fossil", "pokemon-fossil-base3"}, "pokemon-fossil-base3-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			used := make(map[string]bool)
			for _, id := range tt.used {
				used[id] = true
			}
			if got := uniqueSetID("pokemon", "Fossil", "base3", used); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

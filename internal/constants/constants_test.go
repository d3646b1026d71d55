package constants

import (
	"testing"
	"time"
)

func TestDefaultValues(t *testing.T) {
	if DefaultPort != "8080" {
		t.Errorf("Expected DefaultPort to be '8080', got '%s'", DefaultPort)
	}

	if DefaultDBDriver != "sqlite" {
		t.Errorf("Expected DefaultDBDriver to be 'sqlite', got '%s'", DefaultDBDriver)
	}

	if DefaultSyncCooldown != 12*time.Hour {
		t.Errorf("Expected DefaultSyncCooldown to be 12h, got %v", DefaultSyncCooldown)
	}
}

func TestProviderLimits(t *testing.T) {
	if MaxBatchLookupIDs != 100 {
		t.Errorf("Expected MaxBatchLookupIDs to be 100, got %d", MaxBatchLookupIDs)
	}

	if DefaultRetryBase != 1*time.Second {
		t.Errorf("Expected DefaultRetryBase to be 1 second, got %v", DefaultRetryBase)
	}

	if DefaultRetryJitter <= 0 || DefaultRetryJitter >= 1 {
		t.Errorf("Expected DefaultRetryJitter to be a fraction, got %f", DefaultRetryJitter)
	}
}

func TestIsSupportedGame(t *testing.T) {
	tests := []struct {
		slug string
		want bool
	}{
		{"pokemon", true},
		{"mtg", true},
		{"onepiece", true},
		{"Pokemon", false},
		{"", false},
		{"hearthstone", false},
	}

	for _, tt := range tests {
		t.Run(tt.slug, func(t *testing.T) {
			if got := IsSupportedGame(tt.slug); got != tt.want {
				t.Errorf("IsSupportedGame(%q) = %v, want %v", tt.slug, got, tt.want)
			}
		})
	}
}

func TestTableNames(t *testing.T) {
	tables := []string{
		SetsTable,
		CardsTable,
		VariantsTable,
		ShadowSetsTable,
		ShadowCardsTable,
		ShadowVariantsTable,
		JobsTable,
		QueueTable,
		CacheTable,
	}

	seen := make(map[string]bool)
	for _, name := range tables {
		if name == "" {
			t.Error("Table constant should not be empty")
		}
		if seen[name] {
			t.Errorf("Duplicate table name %s", name)
		}
		seen[name] = true
	}
}

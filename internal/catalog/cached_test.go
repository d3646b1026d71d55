package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

type mockProvider struct {
	Provider
	listCalled int
	err        error
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) ListSets(ctx context.Context, game string) ([]domain.Set, error) {
	m.listCalled++
	if m.err != nil {
		return nil, m.err
	}
	return []domain.Set{MockSet(game, "base1", "Base")}, nil
}

type mockCache struct {
	data map[string][]byte
	err  error
}

func (m *mockCache) GetCache(key string) ([]byte, error) {
	return m.data[key], m.err
}

func (m *mockCache) SetCache(key string, data []byte, ttl time.Duration) error {
	m.data[key] = data
	return m.err
}

func (m *mockCache) DeleteCache(key string) error {
	delete(m.data, key)
	return m.err
}

func TestCachedProvider_ListSets(t *testing.T) {
	inner := &mockProvider{}
	cache := &mockCache{data: make(map[string][]byte)}
	cp := NewCachedProvider(inner, cache, time.Hour)

	ctx := context.Background()

	sets, err := cp.ListSets(ctx, "pokemon")
	if err != nil {
		t.Fatalf("ListSets failed: %v", err)
	}
	if len(sets) != 1 || sets[0].ProviderIDValue() != "base1" {
		t.Errorf("Unexpected sets %+v", sets)
	}
	if inner.listCalled != 1 {
		t.Errorf("Expected inner provider to be called once, got %d", inner.listCalled)
	}

	// Second call should hit the cache
	sets, err = cp.ListSets(ctx, "pokemon")
	if err != nil {
		t.Fatalf("ListSets failed: %v", err)
	}
	if sets[0].Name != "Base" {
		t.Errorf("Expected cached name Base, got %s", sets[0].Name)
	}
	if inner.listCalled != 1 {
		t.Errorf("Expected inner provider to still be called once, got %d", inner.listCalled)
	}

	// Different game is a different key
	_, _ = cp.ListSets(ctx, "mtg")
	if inner.listCalled != 2 {
		t.Errorf("Expected inner provider to be called for new game, got %d", inner.listCalled)
	}
}

func TestCachedProvider_Invalidate(t *testing.T) {
	inner := &mockProvider{}
	cache := &mockCache{data: make(map[string][]byte)}
	cp := NewCachedProvider(inner, cache, time.Hour)
	ctx := context.Background()

	_, _ = cp.ListSets(ctx, "pokemon")
	if err := cp.Invalidate("pokemon"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	_, _ = cp.ListSets(ctx, "pokemon")

	if inner.listCalled != 2 {
		t.Errorf("Expected refetch after invalidate, got %d calls", inner.listCalled)
	}
}

func TestCachedProvider_ErrorNotCached(t *testing.T) {
	inner := &mockProvider{err: errors.New("upstream down")}
	cache := &mockCache{data: make(map[string][]byte)}
	cp := NewCachedProvider(inner, cache, time.Hour)

	if _, err := cp.ListSets(context.Background(), "pokemon"); err == nil {
		t.Fatal("Expected error")
	}
	if len(cache.data) != 0 {
		t.Error("Expected failed listing not to be cached")
	}
}

func TestCachedProvider_CacheError(t *testing.T) {
	inner := &mockProvider{}
	cache := &mockCache{data: make(map[string][]byte), err: errors.New("db locked")}
	cp := NewCachedProvider(inner, cache, time.Hour)

	if _, err := cp.ListSets(context.Background(), "pokemon"); err == nil {
		t.Error("Expected cache read error to surface")
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cesargomez89/catalogsync/internal/app"
	"github.com/cesargomez89/catalogsync/internal/catalog"
	"github.com/cesargomez89/catalogsync/internal/domain"
	"github.com/cesargomez89/catalogsync/internal/logger"
	"github.com/cesargomez89/catalogsync/internal/store"
)

// hookProvider wraps the mock provider to observe card page fetches.
type hookProvider struct {
	*catalog.MockProvider
	delay   time.Duration
	onFetch func()

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (p *hookProvider) Cards(q catalog.CardQuery) *catalog.CardIterator {
	inner := p.MockProvider.Cards(q)
	return catalog.NewCardIterator(func(ctx context.Context, offset, limit int) (*catalog.Page, error) {
		p.mu.Lock()
		p.inFlight++
		if p.inFlight > p.peak {
			p.peak = p.inFlight
		}
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			p.inFlight--
			p.mu.Unlock()
		}()

		time.Sleep(p.delay)
		page, err := inner.Next(ctx)
		if p.onFetch != nil {
			p.onFetch()
		}
		return page, err
	}, q.Offset, q.PageSize)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type drainFixture struct {
	db       *store.DB
	provider *hookProvider
	tracker  *app.SyncTracker
	drainer  *Drainer
}

func newDrainFixture(t *testing.T, maxAttempts int) *drainFixture {
	t.Helper()
	db, err := store.NewSQLiteDB(filepath.Join(t.TempDir(), "test_worker.db"))
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logger.Discard()
	f := &drainFixture{
		db:       db,
		provider: &hookProvider{MockProvider: catalog.NewMockProvider("mock")},
		tracker:  app.NewSyncTracker(db, log, app.TrackerConfig{Liveness: time.Hour, MaxRetries: 1}),
	}
	f.drainer = NewDrainer(db, f.provider, f.tracker, log, Config{PageSize: 2, MaxAttempts: maxAttempts})
	return f
}

// seedSet creates a live set with cards on the provider and queues it.
func (f *drainFixture) seedSet(t *testing.T, game string, n, cards int, mode domain.QueueMode) (setID, pid string) {
	t.Helper()
	ctx := context.Background()
	pid = fmt.Sprintf("p%d", n)
	setID = fmt.Sprintf("%s-set-%d", game, n)

	set := catalog.MockSet(game, pid, "Set "+pid)
	set.ID = setID
	if err := f.db.UpsertSets(ctx, []domain.Set{set}); err != nil {
		t.Fatalf("UpsertSets failed: %v", err)
	}
	for i := 0; i < cards; i++ {
		f.provider.AddCards(game, pid, catalog.MockCard(game, "mock", pid, fmt.Sprintf("%s-%d", pid, i), "Card", "Normal"))
	}
	if _, err := f.db.EnqueueSet(ctx, game, setID, pid, mode); err != nil {
		t.Fatalf("EnqueueSet failed: %v", err)
	}
	return setID, pid
}

func TestDrainer_DrainsQueue(t *testing.T) {
	f := newDrainFixture(t, 3)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		f.seedSet(t, "pokemon", i, 5, domain.QueueModeFull)
	}

	res, err := f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeFull})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Succeeded != 3 || res.Failed != 0 || res.Requeued != 0 {
		t.Errorf("Expected 3 succeeded, got %+v", res)
	}
	if res.Stopped != StopEmpty {
		t.Errorf("Expected stop reason empty, got %s", res.Stopped)
	}

	counts, _ := f.db.LiveCounts(ctx, "pokemon")
	if counts.Cards != 15 || counts.Variants != 15 {
		t.Errorf("Expected 15 cards and 15 variants, got %+v", counts)
	}

	set, _ := f.db.GetSet(ctx, "pokemon", "pokemon-set-1")
	if set.SyncStatus != domain.SetSyncSynced || set.CardCount != 5 || set.LastSyncedAt == nil {
		t.Errorf("Expected set synced with 5 cards, got %s/%d", set.SyncStatus, set.CardCount)
	}

	stats, _ := f.db.GetQueueStats(ctx, "")
	if stats.Done != 3 || stats.Queued != 0 {
		t.Errorf("Expected 3 done entries, got %+v", stats)
	}

	jobs, _ := f.tracker.ListJobs(ctx, store.JobFilter{Type: domain.JobTypeCards})
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 card jobs, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Status != domain.JobStatusCompleted {
			t.Errorf("Expected job %s completed, got %s", j.ID, j.Status)
		}
	}
}

func TestDrainer_ConcurrencyCap(t *testing.T) {
	f := newDrainFixture(t, 3)
	f.provider.delay = 20 * time.Millisecond
	ctx := context.Background()
	for i := 1; i <= 8; i++ {
		f.seedSet(t, "mtg", i, 1, domain.QueueModeFull)
	}

	res, err := f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeFull, MaxConcurrency: 3, MaxBatches: 1, BatchSize: 5})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Claimed != 5 || res.Batches != 1 {
		t.Errorf("Expected 1 batch of 5, got %+v", res)
	}
	if res.Stopped != StopMaxBatches {
		t.Errorf("Expected stop reason max_batches, got %s", res.Stopped)
	}
	if f.provider.peak > 3 {
		t.Errorf("Expected at most 3 units in flight, got %d", f.provider.peak)
	}

	queued, _ := f.db.CountQueued(ctx, domain.QueueModeFull)
	if queued != 3 {
		t.Errorf("Expected 3 entries left, got %d", queued)
	}
}

func TestDrainer_FailureIsolation(t *testing.T) {
	f := newDrainFixture(t, 2)
	ctx := context.Background()
	f.seedSet(t, "pokemon", 1, 3, domain.QueueModeFull)
	badSet, badPID := f.seedSet(t, "pokemon", 2, 3, domain.QueueModeFull)
	f.seedSet(t, "pokemon", 3, 3, domain.QueueModeFull)
	f.provider.FailOn("cards:pokemon:"+badPID, errors.New("upstream 502"))

	res, err := f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeFull})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Succeeded != 2 || res.Requeued != 1 || res.Failed != 1 {
		t.Errorf("Expected 2 succeeded, 1 requeued then 1 failed, got %+v", res)
	}
	if res.Batches != 2 {
		t.Errorf("Expected the requeued entry to be retried in a second batch, got %d batches", res.Batches)
	}

	entries, _ := f.db.ListQueueEntries(ctx, domain.QueueStatusError, 10)
	if len(entries) != 1 || entries[0].SetID != badSet {
		t.Fatalf("Expected one errored entry for %s, got %d", badSet, len(entries))
	}
	if entries[0].Attempts != 2 || entries[0].Error == nil {
		t.Errorf("Expected 2 attempts with an error, got %d", entries[0].Attempts)
	}

	set, _ := f.db.GetSet(ctx, "pokemon", badSet)
	if set.SyncStatus != domain.SetSyncFailed {
		t.Errorf("Expected failed set status, got %s", set.SyncStatus)
	}
	counts, _ := f.db.LiveCounts(ctx, "pokemon")
	if counts.Cards != 6 {
		t.Errorf("Expected sibling cards to land, got %d", counts.Cards)
	}
}

func TestDrainer_TimeBudgetRequeuesWithCursor(t *testing.T) {
	f := newDrainFixture(t, 3)
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	f.drainer.now = clock.Now

	setID, pid := f.seedSet(t, "pokemon", 1, 6, domain.QueueModeFull)
	f.provider.onFetch = func() { clock.Advance(10 * time.Minute) }

	res, err := f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeFull, TimeBudget: time.Minute})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Requeued != 1 || res.Stopped != StopTimeBudget {
		t.Errorf("Expected 1 requeued and time_budget stop, got %+v", res)
	}

	entries, _ := f.db.ListQueueEntries(ctx, domain.QueueStatusQueued, 10)
	if len(entries) != 1 {
		t.Fatalf("Expected entry back in the queue, got %d", len(entries))
	}
	if entries[0].Cursor != 2 {
		t.Errorf("Expected cursor 2, got %d", entries[0].Cursor)
	}
	if entries[0].Attempts != 0 {
		t.Errorf("Expected interrupted claim not to count as an attempt, got %d", entries[0].Attempts)
	}
	set, _ := f.db.GetSet(ctx, "pokemon", setID)
	if set.SyncStatus != domain.SetSyncPartial {
		t.Errorf("Expected partial set status, got %s", set.SyncStatus)
	}

	jobs, _ := f.tracker.ListJobs(ctx, store.JobFilter{Status: []domain.JobStatus{domain.JobStatusPartial}})
	if len(jobs) != 1 {
		t.Errorf("Expected one partial job, got %d", len(jobs))
	}

	f.provider.onFetch = nil
	res, err = f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeFull, TimeBudget: time.Minute})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Succeeded != 1 {
		t.Errorf("Expected resumed unit to succeed, got %+v", res)
	}
	// One page before the interruption, two after resuming at offset 2.
	if calls := f.provider.Calls("cards:pokemon:" + pid); calls != 3 {
		t.Errorf("Expected 3 page fetches, got %d", calls)
	}
	counts, _ := f.db.LiveCounts(ctx, "pokemon")
	if counts.Cards != 6 {
		t.Errorf("Expected 6 cards, got %d", counts.Cards)
	}
}

func TestDrainer_IncrementalUsesLastSynced(t *testing.T) {
	f := newDrainFixture(t, 3)
	ctx := context.Background()

	setID, pid := f.seedSet(t, "yugioh", 1, 0, domain.QueueModeIncremental)
	if err := f.db.MarkSetSynced(ctx, "yugioh", setID, domain.SetSyncSynced); err != nil {
		t.Fatalf("MarkSetSynced failed: %v", err)
	}

	stale := catalog.MockCard("yugioh", "mock", pid, "old", "Old Card")
	stale.Card.UpdatedAt = time.Now().Add(-24 * time.Hour)
	fresh := catalog.MockCard("yugioh", "mock", pid, "new", "New Card")
	fresh.Card.UpdatedAt = time.Now().Add(time.Hour)
	f.provider.AddCards("yugioh", pid, stale, fresh)

	res, err := f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeIncremental})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Succeeded != 1 {
		t.Fatalf("Expected 1 succeeded, got %+v", res)
	}

	cards, _ := f.db.ListCards(ctx, "yugioh", setID)
	if len(cards) != 1 || cards[0].ProviderID != "new" {
		t.Errorf("Expected only the card changed since the last sync, got %d cards", len(cards))
	}
}

func TestDrainer_CancelledJobStopsUnit(t *testing.T) {
	f := newDrainFixture(t, 3)
	ctx := context.Background()
	f.seedSet(t, "lorcana", 1, 6, domain.QueueModeFull)

	f.provider.onFetch = func() {
		jobs, _ := f.tracker.ListJobs(ctx, store.JobFilter{Status: []domain.JobStatus{domain.JobStatusRunning}})
		for _, j := range jobs {
			_ = f.tracker.CancelJob(ctx, j.ID)
		}
	}

	res, err := f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeFull})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Failed != 1 {
		t.Errorf("Expected the cancelled unit to count as failed, got %+v", res)
	}

	entries, _ := f.db.ListQueueEntries(ctx, domain.QueueStatusError, 10)
	if len(entries) != 1 || entries[0].Error == nil || *entries[0].Error != ErrJobCancelled.Error() {
		t.Errorf("Expected entry errored as cancelled, got %d entries", len(entries))
	}
	counts, _ := f.db.LiveCounts(ctx, "lorcana")
	if counts.Cards != 2 {
		t.Errorf("Expected only the first page to land, got %d cards", counts.Cards)
	}
}

// A set queued while its game is being rebuilt waits for the rebuild so the
// swap cannot discard cards the unit wrote.
func TestDrainer_YieldsToRunningRebuild(t *testing.T) {
	f := newDrainFixture(t, 3)
	ctx := context.Background()
	f.seedSet(t, "pokemon", 1, 3, domain.QueueModeFull)
	f.seedSet(t, "mtg", 1, 2, domain.QueueModeFull)

	rebuild, err := f.tracker.BeginScope(ctx, domain.JobTypeFullRebuild, domain.Scope{Game: "pokemon"}, true)
	if err != nil {
		t.Fatalf("BeginScope failed: %v", err)
	}

	res, err := f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeFull, MaxBatches: 1})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Requeued != 1 || res.Succeeded != 1 || res.Failed != 0 {
		t.Errorf("Expected pokemon requeued and mtg synced, got %+v", res)
	}

	counts, _ := f.db.LiveCounts(ctx, "pokemon")
	if counts.Cards != 0 {
		t.Errorf("Expected no pokemon cards written during the rebuild, got %d", counts.Cards)
	}
	entries, _ := f.db.ListQueueEntries(ctx, domain.QueueStatusQueued, 10)
	if len(entries) != 1 || entries[0].Game != "pokemon" {
		t.Fatalf("Expected the pokemon entry back in the queue, got %d entries", len(entries))
	}
	if entries[0].Attempts != 0 || entries[0].Error != nil {
		t.Errorf("Expected the claim to be refunded, got attempts %d", entries[0].Attempts)
	}

	// The busy game is not claimed again within the same drain.
	res, _ = f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeFull})
	if res.Claimed != 1 || res.Stopped != StopGameBusy {
		t.Errorf("Expected one claim then a game_busy stop, got %+v", res)
	}

	_ = f.tracker.CompleteJob(ctx, rebuild.ID, domain.JobStatusCompleted, nil, nil, nil)
	res, _ = f.drainer.Drain(ctx, DrainOptions{Mode: domain.QueueModeFull})
	if res.Succeeded != 1 {
		t.Errorf("Expected the entry to sync after the rebuild, got %+v", res)
	}
	counts, _ = f.db.LiveCounts(ctx, "pokemon")
	if counts.Cards != 3 {
		t.Errorf("Expected 3 pokemon cards, got %d", counts.Cards)
	}
}

func TestDrainer_EmptyQueue(t *testing.T) {
	f := newDrainFixture(t, 3)

	res, err := f.drainer.Drain(context.Background(), DrainOptions{})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if res.Stopped != StopEmpty || res.Batches != 0 {
		t.Errorf("Expected empty stop with no batches, got %+v", res)
	}
}

package app

import (
	"fmt"
	"strings"

	"github.com/cesargomez89/catalogsync/internal/domain"
)

type reconcileStats struct {
	ProviderSets  int `json:"provider_sets"`
	MatchedByID   int `json:"matched_by_id"`
	MatchedByName int `json:"matched_by_name"`
	Created       int `json:"created"`
}

// reconcileSets merges the provider's set list into the locally known sets
// of one game and returns the rows to stage. Local ids and names are never
// changed: a set matched by provider id keeps its name so the guardrail can
// detect upstream renames. Unlinked local sets are matched by normalized
// name; anything else becomes a new set with a slug id.
func reconcileSets(game string, local, upstream []domain.Set) ([]domain.Set, reconcileStats) {
	stats := reconcileStats{ProviderSets: len(upstream)}

	byPID := make(map[string]int)
	byName := make(map[string]int)
	usedIDs := make(map[string]bool, len(local))
	for i, s := range local {
		usedIDs[s.ID] = true
		if pid := s.ProviderIDValue(); pid != "" {
			byPID[pid] = i
			continue
		}
		key := domain.NormalizeName(s.Name)
		if _, dup := byName[key]; !dup {
			byName[key] = i
		}
	}

	seen := make(map[string]bool, len(upstream))
	claimed := make(map[int]bool)
	out := make([]domain.Set, 0, len(upstream))
	for _, u := range upstream {
		pid := u.ProviderIDValue()
		if pid == "" || seen[pid] {
			continue
		}
		seen[pid] = true

		if i, ok := byPID[pid]; ok && !claimed[i] {
			claimed[i] = true
			out = append(out, mergeSet(local[i], u, pid))
			stats.MatchedByID++
			continue
		}
		if i, ok := byName[domain.NormalizeName(u.Name)]; ok && !claimed[i] {
			claimed[i] = true
			out = append(out, mergeSet(local[i], u, pid))
			stats.MatchedByName++
			continue
		}

		created := u
		created.Game = game
		created.ID = uniqueSetID(game, u.Name, pid, usedIDs)
		created.ProviderID = &pid
		created.SyncStatus = domain.SetSyncPending
		usedIDs[created.ID] = true
		out = append(out, created)
		stats.Created++
	}
	return out, stats
}

func mergeSet(local, upstream domain.Set, pid string) domain.Set {
	merged := local
	merged.ProviderID = &pid
	merged.Series = upstream.Series
	merged.PrintedTotal = upstream.PrintedTotal
	merged.Total = upstream.Total
	merged.ReleaseDate = upstream.ReleaseDate
	merged.Payload = upstream.Payload
	return merged
}

func uniqueSetID(game, name, pid string, used map[string]bool) string {
	id := domain.SetSlug(game, name)
	if !used[id] {
		return id
	}
	base := id + "-" + strings.ReplaceAll(domain.NormalizeName(pid), " ", "-")
	id = base
	for n := 2; used[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

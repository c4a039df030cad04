package engine

import (
	"sort"
	"strings"
)

// Consolidation tunables.
const (
	DefaultConsolidateJaccard = 0.8
	summaryContentCap         = 1000
	summaryCue                = "type:summary"
	summarySeparator          = "\n---\n"
)

// ConsolidateResult describes one summary produced by a consolidation
// pass.
type ConsolidateResult struct {
	SummaryID string
	SourceIDs []string
}

// Consolidate merges clusters of near-duplicate memories (pairwise cue
// Jaccard >= threshold, created within window seconds of the cluster
// anchor) into one additive summary each. Originals stay untouched;
// clusters that already have a live summary are skipped, so the pass is
// idempotent.
func (e *Engine) Consolidate(threshold, window float64) []ConsolidateResult {
	if threshold <= 0 {
		threshold = DefaultConsolidateJaccard
	}

	// Existing live summaries, keyed by their canonical source set.
	covered := make(map[string]struct{})
	var all []Memory
	e.store.each(func(m Memory) bool {
		if m.Summary {
			covered[sourceKey(m.SourceIDs)] = struct{}{}
		} else {
			all = append(all, m)
		}
		return true
	})
	// Deterministic walk order regardless of shard layout.
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	seen := make(map[string]struct{}, len(all))
	byID := make(map[string]*Memory, len(all))
	for i := range all {
		byID[all[i].ID] = &all[i]
	}

	var results []ConsolidateResult
	for i := range all {
		anchor := &all[i]
		if _, ok := seen[anchor.ID]; ok {
			continue
		}
		if len(anchor.Cues) == 0 {
			continue
		}

		// Candidates share the anchor's first cue; the index walk keeps
		// this pass well under O(N^2) for mixed corpora.
		group := []*Memory{anchor}
		for _, otherID := range e.cues.Recent(anchor.Cues[0], -1) {
			if otherID == anchor.ID {
				continue
			}
			if _, ok := seen[otherID]; ok {
				continue
			}
			other, ok := byID[otherID]
			if !ok {
				continue
			}
			if window > 0 && abs(other.CreatedAt-anchor.CreatedAt) > window {
				continue
			}
			member := true
			for _, g := range group {
				if jaccard(g.Cues, other.Cues) < threshold {
					member = false
					break
				}
			}
			if member {
				group = append(group, other)
			}
		}
		if len(group) < 2 {
			continue
		}

		sort.Slice(group, func(a, b int) bool { return group[a].CreatedAt < group[b].CreatedAt })
		ids := make([]string, len(group))
		for j, g := range group {
			ids[j] = g.ID
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
		if _, ok := covered[sourceKey(ids)]; ok {
			continue
		}

		summaryID, err := e.writeSummary(group, ids)
		if err != nil {
			e.log.Warn("consolidation skipped cluster", "anchor", anchor.ID, "error", err)
			continue
		}
		results = append(results, ConsolidateResult{SummaryID: summaryID, SourceIDs: ids})
	}
	return results
}

func (e *Engine) writeSummary(group []*Memory, ids []string) (string, error) {
	var contents []string
	cueUnion := make([]string, 0)
	cueSeen := make(map[string]struct{})
	var totalReinforcement uint64
	maxSalience := 0.0

	for _, g := range group {
		if text, err := e.DecodeContent(g.Payload); err == nil {
			contents = append(contents, text)
		}
		for _, c := range g.Cues {
			if _, ok := cueSeen[c]; ok {
				continue
			}
			cueSeen[c] = struct{}{}
			cueUnion = append(cueUnion, c)
		}
		totalReinforcement += g.ReinforcementCount
		if g.SalienceScore > maxSalience {
			maxSalience = g.SalienceScore
		}
	}
	sort.Strings(cueUnion)
	cueUnion = append(cueUnion, summaryCue)

	body := strings.Join(contents, summarySeparator)
	if runes := []rune(body); len(runes) > summaryContentCap {
		body = string(runes[:summaryContentCap]) + "... [truncated]"
	}

	summaryID, err := e.AddMemory(body, cueUnion)
	if err != nil {
		return "", err
	}
	e.store.update(summaryID, func(m *Memory) {
		m.Summary = true
		m.SourceIDs = append([]string(nil), ids...)
		m.ReinforcementCount = totalReinforcement
		// A gist ranks below the fresh originals it summarizes.
		m.SalienceScore = maxSalience * 0.8
	})
	return summaryID, nil
}

func sourceKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

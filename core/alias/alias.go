// Package alias implements the strict weighted cue-alias table. Expansion
// is exact-match only: no transitive chasing, no prefix fuzz.
package alias

import (
	"sort"
	"sync"

	"github.com/cuemap-dev/cuemap/core/engine"
)

// Target is one expansion of an aliased cue.
type Target struct {
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
}

// Table maps from-cue -> expansion targets. Safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries map[string][]Target
}

// NewTable returns an empty alias table.
func NewTable() *Table {
	return &Table{entries: make(map[string][]Target)}
}

// Add installs or updates one alias. Weights outside (0, 1] are replaced
// by 1. Self-aliases are ignored.
func (t *Table) Add(from, to string, weight float64) {
	if from == "" || to == "" || from == to {
		return
	}
	if weight <= 0 || weight > 1 {
		weight = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.put(from, to, weight)
}

// Merge atomically installs many-to-one aliases: every cue in froms
// expands to canonical at the given weight.
func (t *Table) Merge(froms []string, canonical string, weight float64) int {
	if canonical == "" {
		return 0
	}
	if weight <= 0 || weight > 1 {
		weight = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, from := range froms {
		if from == "" || from == canonical {
			continue
		}
		t.put(from, canonical, weight)
		n++
	}
	return n
}

func (t *Table) put(from, to string, weight float64) {
	targets := t.entries[from]
	for i := range targets {
		if targets[i].To == to {
			targets[i].Weight = weight
			return
		}
	}
	targets = append(targets, Target{To: to, Weight: weight})
	sort.Slice(targets, func(i, j int) bool { return targets[i].To < targets[j].To })
	t.entries[from] = targets
}

// Remove drops every expansion of from. Returns false if absent.
func (t *Table) Remove(from string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[from]; !ok {
		return false
	}
	delete(t.entries, from)
	return true
}

// Targets returns the expansions of from, or nil.
func (t *Table) Targets(from string) []Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Target(nil), t.entries[from]...)
}

// Expand emits each input cue at weight 1.0 followed by its alias
// targets. Expansion never chains: targets are not looked up again.
func (t *Table) Expand(cues []string) []engine.WeightedCue {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]engine.WeightedCue, 0, len(cues))
	for _, cue := range cues {
		if cue == "" {
			continue
		}
		out = append(out, engine.WeightedCue{Cue: cue, Weight: 1.0})
		for _, tgt := range t.entries[cue] {
			out = append(out, engine.WeightedCue{Cue: tgt.To, Weight: tgt.Weight})
		}
	}
	return out
}

// ExpandWeighted is Expand for cues that already carry weights (lexicon
// resolutions): each input keeps its weight and its alias targets emit at
// the product of both weights.
func (t *Table) ExpandWeighted(cues []engine.WeightedCue) []engine.WeightedCue {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]engine.WeightedCue, 0, len(cues))
	for _, q := range cues {
		if q.Cue == "" || q.Weight <= 0 {
			continue
		}
		out = append(out, q)
		for _, tgt := range t.entries[q.Cue] {
			out = append(out, engine.WeightedCue{Cue: tgt.To, Weight: q.Weight * tgt.Weight})
		}
	}
	return out
}

// Export returns the whole table for the snapshot codec.
func (t *Table) Export() map[string][]Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string][]Target, len(t.entries))
	for from, targets := range t.entries {
		out[from] = append([]Target(nil), targets...)
	}
	return out
}

// Import replaces the table contents.
func (t *Table) Import(entries map[string][]Target) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string][]Target, len(entries))
	for from, targets := range entries {
		t.entries[from] = append([]Target(nil), targets...)
	}
}

// Len returns the number of aliased from-cues.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

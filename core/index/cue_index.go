// Package index implements the sharded cue index: a concurrently mutable
// inverted map from cue strings to recency-ordered sets of memory IDs.
package index

import (
	"sync"
)

// DefaultShardCount is the number of independently locked shards.
const DefaultShardCount = 128

type shard struct {
	mu   sync.RWMutex
	sets map[string]*OrderedSet
}

// CueIndex maps cue -> OrderedSet of memory IDs. Writers take one shard's
// lock; readers on other shards are never blocked. An entry exists while
// at least one memory references the cue and is dropped when it empties.
type CueIndex struct {
	shards []*shard
}

// NewCueIndex creates an index with the given shard count (power of two;
// 0 means DefaultShardCount).
func NewCueIndex(shardCount int) *CueIndex {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	// Round up to a power of two so shard selection is a mask.
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{sets: make(map[string]*OrderedSet)}
	}
	return &CueIndex{shards: shards}
}

// fnv-1a
func (ci *CueIndex) shardFor(cue string) *shard {
	h := uint32(2166136261)
	for i := 0; i < len(cue); i++ {
		h ^= uint32(cue[i])
		h *= 16777619
	}
	return ci.shards[h&uint32(len(ci.shards)-1)]
}

// Add inserts id at the front of cue's set, creating the entry if needed.
// No-op if id is already listed.
func (ci *CueIndex) Add(cue, id string) {
	if cue == "" || id == "" {
		return
	}
	s := ci.shardFor(cue)
	s.mu.Lock()
	set, ok := s.sets[cue]
	if !ok {
		set = NewOrderedSet()
		s.sets[cue] = set
	}
	set.Add(id)
	s.mu.Unlock()
}

// Remove deletes id from cue's set, dropping the entry once empty.
func (ci *CueIndex) Remove(cue, id string) {
	s := ci.shardFor(cue)
	s.mu.Lock()
	if set, ok := s.sets[cue]; ok {
		set.Remove(id)
		if set.Len() == 0 {
			delete(s.sets, cue)
		}
	}
	s.mu.Unlock()
}

// MoveToFront promotes id in cue's set. No-op if either is unknown.
func (ci *CueIndex) MoveToFront(cue, id string) {
	s := ci.shardFor(cue)
	s.mu.Lock()
	if set, ok := s.sets[cue]; ok {
		set.MoveToFront(id)
	}
	s.mu.Unlock()
}

// PositionOf returns id's recency position in cue's set.
func (ci *CueIndex) PositionOf(cue, id string) (int, bool) {
	s := ci.shardFor(cue)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[cue]
	if !ok {
		return 0, false
	}
	return set.PositionOf(id)
}

// Contains reports whether id is listed under cue.
func (ci *CueIndex) Contains(cue, id string) bool {
	s := ci.shardFor(cue)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[cue]
	return ok && set.Contains(id)
}

// Len returns the number of IDs listed under cue; 0 for unknown cues.
func (ci *CueIndex) Len(cue string) int {
	s := ci.shardFor(cue)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set, ok := s.sets[cue]; ok {
		return set.Len()
	}
	return 0
}

// Has reports whether the cue has an entry.
func (ci *CueIndex) Has(cue string) bool {
	s := ci.shardFor(cue)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sets[cue]
	return ok
}

// Slice returns live IDs of cue from recency position start to end.
func (ci *CueIndex) Slice(cue string, start, end int) []string {
	s := ci.shardFor(cue)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set, ok := s.sets[cue]; ok {
		return set.Slice(start, end)
	}
	return nil
}

// Recent returns up to limit IDs of cue, most recent first; limit < 0
// returns everything.
func (ci *CueIndex) Recent(cue string, limit int) []string {
	s := ci.shardFor(cue)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if set, ok := s.sets[cue]; ok {
		return set.Recent(limit)
	}
	return nil
}

// Cues returns every indexed cue. Order is unspecified.
func (ci *CueIndex) Cues() []string {
	var out []string
	for _, s := range ci.shards {
		s.mu.RLock()
		for cue := range s.sets {
			out = append(out, cue)
		}
		s.mu.RUnlock()
	}
	return out
}

// CueCount returns the number of distinct indexed cues.
func (ci *CueIndex) CueCount() int {
	n := 0
	for _, s := range ci.shards {
		s.mu.RLock()
		n += len(s.sets)
		s.mu.RUnlock()
	}
	return n
}

// Fresh returns an empty index with the same shard layout.
func (ci *CueIndex) Fresh() *CueIndex {
	return NewCueIndex(len(ci.shards))
}

// Export returns every cue's IDs oldest-first, for the snapshot codec.
func (ci *CueIndex) Export() map[string][]string {
	out := make(map[string][]string)
	for _, s := range ci.shards {
		s.mu.RLock()
		for cue, set := range s.sets {
			out[cue] = set.Ordered()
		}
		s.mu.RUnlock()
	}
	return out
}

// Import replaces the index contents from an Export-shaped map. IDs are
// oldest-first within each cue.
func (ci *CueIndex) Import(entries map[string][]string) {
	for cue, ids := range entries {
		s := ci.shardFor(cue)
		s.mu.Lock()
		set := NewOrderedSet()
		for _, id := range ids {
			set.Add(id)
		}
		if set.Len() > 0 {
			s.sets[cue] = set
		}
		s.mu.Unlock()
	}
}

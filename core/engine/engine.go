// Package engine implements the temporal-associative memory engine: the
// sharded memory store, the cue index, the co-occurrence matrix, episode
// chunking, the recall algorithm and the consolidator. The lexicon is a
// second instance of this same type whose rows are canonical cues.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/cuemap-dev/cuemap/core/blob"
	"github.com/cuemap-dev/cuemap/core/index"
)

// Tunables with their defaults. All are overridable through Options.
const (
	DefaultShardCount        = 128
	DefaultHalfLifePositions = 32.0
	DefaultRecencyAlpha      = 0.5
	DefaultFrequencyBeta     = 0.3
	DefaultFastDepth         = 256
	DefaultCoOccurrenceTopK  = 8
	DefaultCoOccurrenceMin   = 2
	DefaultEpisodeJaccard    = 0.4
	DefaultEpisodeWindow     = 300.0 // seconds
)

// EpisodeCuePrefix tags members of a temporal episode.
const EpisodeCuePrefix = "episode:"

// Options configures an engine instance.
type Options struct {
	ShardCount        int
	HalfLifePositions float64
	RecencyAlpha      float64
	FrequencyBeta     float64
	FastDepth         int
	CoOccurrenceTopK  int
	CoOccurrenceMin   uint64
	EpisodeJaccard    float64
	EpisodeWindow     float64 // seconds

	// DeriveValueCues additionally tags a memory carrying "key:value"
	// with the bare "value" cue, so recall on the value alone hits. On
	// for the main engine, off for the lexicon instance.
	DeriveValueCues bool

	// EpisodeChunking links temporally close, cue-overlapping writes
	// into episodes. Only the main engine wants this.
	EpisodeChunking bool

	// SealKey, when non-nil, encrypts content at rest. Must be
	// blob.KeySize bytes.
	SealKey []byte

	Logger *slog.Logger
}

// DefaultOptions returns the main-engine configuration.
func DefaultOptions() Options {
	return Options{
		ShardCount:        DefaultShardCount,
		HalfLifePositions: DefaultHalfLifePositions,
		RecencyAlpha:      DefaultRecencyAlpha,
		FrequencyBeta:     DefaultFrequencyBeta,
		FastDepth:         DefaultFastDepth,
		CoOccurrenceTopK:  DefaultCoOccurrenceTopK,
		CoOccurrenceMin:   DefaultCoOccurrenceMin,
		EpisodeJaccard:    DefaultEpisodeJaccard,
		EpisodeWindow:     DefaultEpisodeWindow,
		DeriveValueCues:   true,
		EpisodeChunking:   true,
	}
}

// LexiconOptions returns the configuration for a lexicon instance: no
// value derivation, no episodes.
func LexiconOptions() Options {
	opts := DefaultOptions()
	opts.DeriveValueCues = false
	opts.EpisodeChunking = false
	return opts
}

// lastEvent remembers the previous write for episode chunking.
type lastEvent struct {
	ID        string
	EpisodeID string
	CreatedAt float64
	Cues      []string
}

// Engine is one tenant's memory engine. All methods are safe for
// concurrent use.
type Engine struct {
	opts Options
	log  *slog.Logger

	store *memoryStore
	cues  *index.CueIndex
	coocc *coMatrix

	epMu sync.Mutex
	last *lastEvent

	memoryCount atomic.Int64
	clk         clock
}

// New creates an engine with the given options.
func New(opts Options) *Engine {
	if opts.ShardCount <= 0 {
		opts.ShardCount = DefaultShardCount
	}
	if opts.HalfLifePositions <= 0 {
		opts.HalfLifePositions = DefaultHalfLifePositions
	}
	if opts.FastDepth <= 0 {
		opts.FastDepth = DefaultFastDepth
	}
	if opts.CoOccurrenceTopK <= 0 {
		opts.CoOccurrenceTopK = DefaultCoOccurrenceTopK
	}
	if opts.CoOccurrenceMin == 0 {
		opts.CoOccurrenceMin = DefaultCoOccurrenceMin
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		opts:  opts,
		log:   opts.Logger,
		store: newMemoryStore(opts.ShardCount),
		cues:  index.NewCueIndex(opts.ShardCount),
		coocc: newCoMatrix(),
	}
}

// CueIndex exposes the engine's cue index for read-side collaborators
// (alias proposer, snapshot codec).
func (e *Engine) CueIndex() *index.CueIndex { return e.cues }

// AddMemory stores content under the given canonical cues and returns the
// new memory ID. Cues must already be normalized; empty strings are
// skipped. Co-occurrence updates are the caller's deferred job, not part
// of the write.
func (e *Engine) AddMemory(content string, cues []string) (string, error) {
	payload, err := blob.Encode(content, e.opts.SealKey)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	m := &Memory{
		ID:        uuid.NewString(),
		Payload:   payload,
		CreatedAt: e.clk.now(),
		WordCount: countWords(content),
	}
	m.LastAccessed = m.CreatedAt
	m.Cues = e.expandCueSet(cues)

	if e.opts.EpisodeChunking {
		e.chunkEpisode(m)
	}

	m.SalienceScore = salience(len(m.Cues), m.WordCount, m.ReinforcementCount)

	if !e.store.insert(m) {
		return "", fmt.Errorf("%w: memory id %s", ErrConflict, m.ID)
	}
	e.memoryCount.Add(1)

	for _, cue := range m.Cues {
		e.cues.Add(cue, m.ID)
	}
	return m.ID, nil
}

// UpsertWithID inserts a memory under a caller-chosen ID, or attaches the
// cues to the existing record. Used by the lexicon (rows keyed by
// canonical cue) and the ingestion agent (rows keyed by file chunk).
func (e *Engine) UpsertWithID(id, content string, cues []string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidInput)
	}
	if e.store.contains(id) {
		e.AttachCues(id, cues)
		return nil
	}

	payload, err := blob.Encode(content, e.opts.SealKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	m := &Memory{
		ID:        id,
		Payload:   payload,
		CreatedAt: e.clk.now(),
		WordCount: countWords(content),
		Cues:      e.expandCueSet(cues),
	}
	m.LastAccessed = m.CreatedAt
	m.SalienceScore = salience(len(m.Cues), m.WordCount, 0)

	if !e.store.insert(m) {
		// Lost the race to a concurrent upsert of the same ID; fold the
		// cues into the winner.
		e.AttachCues(id, cues)
		return nil
	}
	e.memoryCount.Add(1)
	for _, cue := range m.Cues {
		e.cues.Add(cue, id)
	}
	return nil
}

// AttachCues adds any new cues to an existing memory and indexes them.
// Returns the cues that were actually new.
func (e *Engine) AttachCues(id string, cues []string) []string {
	expanded := e.expandCueSet(cues)
	var added []string
	ok := e.store.update(id, func(m *Memory) {
		for _, cue := range expanded {
			if m.hasCue(cue) {
				continue
			}
			m.Cues = append(m.Cues, cue)
			added = append(added, cue)
		}
		if len(added) > 0 {
			m.SalienceScore = salience(len(m.Cues), m.WordCount, m.ReinforcementCount)
		}
	})
	if !ok {
		return nil
	}
	for _, cue := range added {
		e.cues.Add(cue, id)
	}
	return added
}

// DetachCue removes one cue from a memory and unindexes it. Returns
// false when the memory or cue is unknown. Used by lexicon surgery.
func (e *Engine) DetachCue(id, cue string) bool {
	removed := false
	e.store.update(id, func(m *Memory) {
		for i, c := range m.Cues {
			if c == cue {
				m.Cues = append(m.Cues[:i], m.Cues[i+1:]...)
				m.SalienceScore = salience(len(m.Cues), m.WordCount, m.ReinforcementCount)
				removed = true
				return
			}
		}
	})
	if removed {
		e.cues.Remove(cue, id)
	}
	return removed
}

// Reinforce increments the memory's reinforcement count, recomputes its
// salience, attaches any extra cues, and promotes the memory to the
// front of every cue list it appears on. Returns the new count.
func (e *Engine) Reinforce(id string, extraCues []string) (uint64, error) {
	if len(extraCues) > 0 {
		e.AttachCues(id, extraCues)
	}

	var count uint64
	var current []string
	ok := e.store.update(id, func(m *Memory) {
		m.ReinforcementCount++
		m.LastAccessed = e.clk.now()
		m.SalienceScore = salience(len(m.Cues), m.WordCount, m.ReinforcementCount)
		count = m.ReinforcementCount
		current = m.cloneCues()
	})
	if !ok {
		return 0, fmt.Errorf("%w: memory %s", ErrNotFound, id)
	}

	for _, cue := range current {
		e.cues.MoveToFront(cue, id)
	}
	return count, nil
}

// Get returns a copy of the memory with decoded content.
func (e *Engine) Get(id string) (Memory, string, error) {
	m, ok := e.store.get(id)
	if !ok {
		return Memory{}, "", fmt.Errorf("%w: memory %s", ErrNotFound, id)
	}
	content, err := blob.Decode(m.Payload, e.opts.SealKey)
	if err != nil {
		return Memory{}, "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return m, content, nil
}

// Delete removes the memory and unindexes every cue.
func (e *Engine) Delete(id string) bool {
	m, ok := e.store.remove(id)
	if !ok {
		return false
	}
	e.memoryCount.Add(-1)
	for _, cue := range m.Cues {
		e.cues.Remove(cue, id)
	}
	return true
}

// ObserveCoOccurrence records one memory's cue set in the co-occurrence
// matrix. Invoked from the deferred UpdateGraph job.
func (e *Engine) ObserveCoOccurrence(cues []string) {
	e.coocc.observe(cues)
}

// CueFrequency returns how many memories carry the cue.
func (e *Engine) CueFrequency(cue string) int { return e.cues.Len(cue) }

// TotalMemories returns the live record count.
func (e *Engine) TotalMemories() int { return int(e.memoryCount.Load()) }

// TotalCues returns the number of distinct indexed cues.
func (e *Engine) TotalCues() int { return e.cues.CueCount() }

// Each visits a copy of every memory. The walk order is unspecified.
func (e *Engine) Each(fn func(Memory) bool) { e.store.each(fn) }

// DecodeContent opens a memory payload with this engine's key.
func (e *Engine) DecodeContent(payload []byte) (string, error) {
	return blob.Decode(payload, e.opts.SealKey)
}

// expandCueSet dedupes, drops empties, and (for value-deriving engines)
// appends the bare value of each key:value cue so the value alone
// recalls. Derived cues become part of the memory's cue set, keeping the
// memory/index cross-invariant intact.
func (e *Engine) expandCueSet(cues []string) []string {
	out := make([]string, 0, len(cues))
	seen := make(map[string]struct{}, len(cues)*2)
	push := func(cue string) {
		if cue == "" {
			return
		}
		if _, ok := seen[cue]; ok {
			return
		}
		seen[cue] = struct{}{}
		out = append(out, cue)
	}
	for _, cue := range cues {
		push(cue)
		if !e.opts.DeriveValueCues {
			continue
		}
		if _, value, found := strings.Cut(cue, ":"); found && value != "" && !strings.Contains(value, ":") {
			push(value)
		}
	}
	return out
}

// chunkEpisode links m with the previous write when they are close in
// time and overlap in cues. Both members end up carrying episode:<id>.
func (e *Engine) chunkEpisode(m *Memory) {
	e.epMu.Lock()
	prev := e.last
	if prev != nil &&
		m.CreatedAt-prev.CreatedAt < e.opts.EpisodeWindow &&
		jaccard(m.Cues, prev.Cues) > e.opts.EpisodeJaccard {

		episodeID := prev.EpisodeID
		if episodeID == "" {
			episodeID = prev.ID
		}
		cue := EpisodeCuePrefix + episodeID
		m.EpisodeID = episodeID
		m.Cues = append(m.Cues, cue)

		// The anchor gains the episode cue too, the first time.
		if prev.EpisodeID == "" {
			anchorID := prev.ID
			prev.EpisodeID = episodeID
			e.epMu.Unlock()
			e.store.update(anchorID, func(a *Memory) {
				if !a.hasCue(cue) {
					a.Cues = append(a.Cues, cue)
					a.EpisodeID = episodeID
				}
			})
			e.cues.Add(cue, anchorID)
			e.epMu.Lock()
		}
	}
	e.last = &lastEvent{
		ID:        m.ID,
		EpisodeID: m.EpisodeID,
		CreatedAt: m.CreatedAt,
		Cues:      append([]string(nil), m.Cues...),
	}
	e.epMu.Unlock()
}

// jaccard computes |a∩b| / |a∪b| over two cue slices.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, c := range a {
		set[c] = struct{}{}
	}
	inter := 0
	for _, c := range b {
		if _, ok := set[c]; ok {
			inter++
		}
	}
	union := len(set) + countDistinct(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func countDistinct(cues []string) int {
	set := make(map[string]struct{}, len(cues))
	for _, c := range cues {
		set[c] = struct{}{}
	}
	return len(set)
}

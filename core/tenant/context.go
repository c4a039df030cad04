// Package tenant owns the per-tenant engine bundle (main + lexicon +
// aliases) and the supervisor that routes tenant IDs to bundles. The
// write and read paths of the wire protocol land here.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"

	"github.com/cuemap-dev/cuemap/core/alias"
	"github.com/cuemap-dev/cuemap/core/engine"
	"github.com/cuemap-dev/cuemap/core/jobs"
	"github.com/cuemap-dev/cuemap/core/lexicon"
	"github.com/cuemap-dev/cuemap/core/normalize"
	"github.com/cuemap-dev/cuemap/core/taxonomy"
	"github.com/cuemap-dev/cuemap/core/tokenize"
)

// AgentMemoryPrefix marks memory IDs owned by the filesystem ingestion
// agent; only these may be pruned by VerifyFile.
const AgentMemoryPrefix = "file:"

// Cue proposal tunables.
const (
	proposeMaxAttached     = 10
	proposeFreqFloor       = 20
	proposeFreqCorpusShare = 0.10
	proposeMinConfidence   = 0.6
)

const recallCacheCounters = 1 << 16

// Context is one tenant's engine bundle. It implements jobs.Tenant so
// the pipeline worker can run deferred work against it.
type Context struct {
	ID string

	Main    *engine.Engine
	Lex     *lexicon.Lexicon
	Aliases *alias.Table

	Proposals *alias.Proposals
	Taxonomy  *taxonomy.Taxonomy
	Norm      *normalize.Normalizer

	pipeline *jobs.Pipeline
	log      *slog.Logger

	recallCache  *ristretto.Cache
	lastActivity atomic.Int64
	createdAt    float64
}

// AddResult is the outcome of one write.
type AddResult struct {
	ID           string
	AcceptedCues []string
	RejectedCues []taxonomy.Rejected
}

// RecallRequest is one read-path query at the tenant boundary.
type RecallRequest struct {
	Cues      []string
	QueryText string
	Limit     int

	Explain                     bool
	FastMode                    bool
	DisablePatternCompletion    bool
	DisableSalienceBias         bool
	DisableSystemsConsolidation bool

	// AutoReinforce enqueues deferred reinforcement of the returned
	// memories (and the lexicon rows that resolved the query text).
	AutoReinforce bool
}

func newContext(id string, pipeline *jobs.Pipeline, opts engine.Options, logger *slog.Logger) *Context {
	cache, _ := ristretto.NewCache(&ristretto.Config{
		NumCounters: recallCacheCounters,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	eng := engine.New(opts)
	c := &Context{
		ID:          id,
		Main:        eng,
		Lex:         lexicon.New(logger),
		Aliases:     alias.NewTable(),
		Proposals:   alias.NewProposals(),
		Taxonomy:    &taxonomy.Taxonomy{},
		Norm:        normalize.NewNormalizer(nil),
		pipeline:    pipeline,
		log:         logger.With("tenant", id),
		recallCache: cache,
	}
	return c
}

// AddMemory is the write path: normalize and validate cues (tokenizing
// content when none are given), insert, index, then defer enrichment to
// the job pipeline. The write is visible to reads when this returns.
func (c *Context) AddMemory(ctx context.Context, content string, cues []string) (AddResult, error) {
	if strings.TrimSpace(content) == "" {
		return AddResult{}, fmt.Errorf("%w: empty content", engine.ErrInvalidInput)
	}

	normalized := c.normalizeCues(cues)
	if len(normalized) == 0 {
		normalized = tokenize.Cues(content)
	}
	report := c.Taxonomy.Validate(normalized)

	id, err := c.Main.AddMemory(content, report.Accepted)
	if err != nil {
		return AddResult{}, err
	}
	c.invalidateRecall()

	c.pipeline.NoteWrite(c.ID)
	c.enqueue(ctx, jobs.Job{Kind: jobs.KindProposeCues, Tenant: c.ID, MemoryID: id, Content: content})
	c.enqueue(ctx, jobs.Job{Kind: jobs.KindTrainLexicon, Tenant: c.ID, MemoryID: id})
	c.enqueue(ctx, jobs.Job{Kind: jobs.KindUpdateGraph, Tenant: c.ID, MemoryID: id})

	mem, _, gerr := c.Main.Get(id)
	accepted := report.Accepted
	if gerr == nil {
		accepted = mem.Cues
	}
	return AddResult{ID: id, AcceptedCues: accepted, RejectedCues: report.Rejected}, nil
}

// Recall is the read path: resolve text through the lexicon when no cues
// are given, expand aliases, run the engine, optionally enqueue
// reinforcement. Never mutates engine state inline.
func (c *Context) Recall(ctx context.Context, req RecallRequest) []engine.Result {
	if req.Limit <= 0 {
		return nil
	}

	cues := c.normalizeCues(req.Cues)
	var resolvedRows []string
	var expanded []engine.WeightedCue
	if len(cues) > 0 {
		expanded = c.Aliases.Expand(cues)
	} else if req.QueryText != "" {
		resolved := c.Lex.Resolve(req.QueryText, lexicon.DefaultResolveLimit)
		for _, r := range resolved {
			resolvedRows = append(resolvedRows, r.Cue)
			cues = append(cues, r.Cue)
		}
		expanded = c.Aliases.ExpandWeighted(resolved)
	}
	if len(expanded) == 0 {
		return nil
	}
	opts := engine.RecallOptions{
		Limit:                       req.Limit,
		FastMode:                    req.FastMode,
		Explain:                     req.Explain,
		DisablePatternCompletion:    req.DisablePatternCompletion,
		DisableSalienceBias:         req.DisableSalienceBias,
		DisableSystemsConsolidation: req.DisableSystemsConsolidation,
	}

	cacheKey := ""
	if !req.Explain && !req.AutoReinforce {
		cacheKey = recallKey(expanded, opts)
		if hit, ok := c.recallCache.Get(cacheKey); ok {
			if results, ok := hit.([]engine.Result); ok {
				return results
			}
		}
	}

	results := c.Main.Recall(expanded, opts)

	if cacheKey != "" {
		c.recallCache.Set(cacheKey, results, int64(len(results)+1))
	}

	if req.AutoReinforce && len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.ID
		}
		c.enqueue(ctx, jobs.Job{Kind: jobs.KindReinforceMemories, Tenant: c.ID, MemoryIDs: ids, Cues: cues})
		if len(resolvedRows) > 0 {
			c.enqueue(ctx, jobs.Job{
				Kind:      jobs.KindReinforceLexicon,
				Tenant:    c.ID,
				MemoryIDs: resolvedRows,
				Cues:      tokenize.Cues(req.QueryText),
			})
		}
	}
	return results
}

// Reinforce applies a direct reinforcement inline (the wire endpoint is
// explicit about wanting the new count back).
func (c *Context) Reinforce(id string, extraCues []string) (uint64, error) {
	count, err := c.Main.Reinforce(id, c.normalizeCues(extraCues))
	if err == nil {
		c.invalidateRecall()
	}
	return count, err
}

// GetMemory returns one record with decoded content.
func (c *Context) GetMemory(id string) (engine.Memory, string, error) {
	return c.Main.Get(id)
}

// DeleteMemory removes a record and its index entries.
func (c *Context) DeleteMemory(id string) bool {
	ok := c.Main.Delete(id)
	if ok {
		c.invalidateRecall()
	}
	return ok
}

// Stats reports the tenant's size counters.
func (c *Context) Stats() map[string]any {
	return map[string]any{
		"tenant":         c.ID,
		"total_memories": c.Main.TotalMemories(),
		"total_cues":     c.Main.TotalCues(),
		"lexicon_rows":   c.Lex.Engine().TotalMemories(),
		"alias_entries":  c.Aliases.Len(),
		"created_at":     c.createdAt,
		"last_activity":  c.lastActivity.Load(),
	}
}

func (c *Context) normalizeCues(cues []string) []string {
	out := make([]string, 0, len(cues))
	seen := make(map[string]struct{}, len(cues))
	for _, cue := range cues {
		n, _ := c.Norm.Apply(cue)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func (c *Context) enqueue(ctx context.Context, job jobs.Job) {
	if err := c.pipeline.Enqueue(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		c.log.Warn("enqueue failed", "kind", string(job.Kind), "error", err)
	}
}

func (c *Context) invalidateRecall() {
	c.recallCache.Clear()
}

func recallKey(query []engine.WeightedCue, opts engine.RecallOptions) string {
	var b strings.Builder
	for _, q := range query {
		fmt.Fprintf(&b, "%s@%.4f;", q.Cue, q.Weight)
	}
	fmt.Fprintf(&b, "|%d%t%t%t%t%t", opts.Limit, opts.FastMode,
		opts.DisablePatternCompletion, opts.DisableSalienceBias,
		opts.DisableSystemsConsolidation, opts.Explain)
	return b.String()
}

// --- jobs.Tenant ---

// ProposeCues derives additional canonical cues for a memory from its
// content via the lexicon's learned associations, filtered by corpus
// frequency so common cues never attach. Richer expansion sources
// (thesauri, embedding neighborhoods, LLMs) are external collaborators
// that feed the same attach path. Idempotent: attach skips cues already
// present.
func (c *Context) ProposeCues(memoryID, content string) int {
	mem, _, err := c.Main.Get(memoryID)
	if err != nil || mem.Summary {
		return 0
	}

	resolved := c.Lex.Resolve(content, lexicon.DefaultResolveLimit)
	if len(resolved) == 0 {
		return 0
	}

	// Only canonicals whose surface form is explicitly in the content
	// may attach; association alone is recall's job, not tagging's.
	inContent := make(map[string]struct{})
	for _, w := range tokenize.Words(content) {
		inContent[w] = struct{}{}
	}

	// Frequency gate: a cue carried by a large share of the corpus has
	// no selectivity left to offer.
	threshold := proposeFreqFloor
	if share := int(float64(c.Main.TotalMemories()) * proposeFreqCorpusShare); share > threshold {
		threshold = share
	}

	var filtered []string
	seen := make(map[string]struct{})
	for _, cand := range resolved {
		if cand.Weight < proposeMinConfidence {
			continue
		}
		n, _ := c.Norm.Apply(cand.Cue)
		if len(n) < 3 {
			continue
		}
		if _, present := inContent[n]; !present {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if c.Main.CueFrequency(n) > threshold {
			continue
		}
		filtered = append(filtered, n)
		if len(filtered) >= proposeMaxAttached {
			break
		}
	}
	if len(filtered) == 0 {
		return 0
	}

	report := c.Taxonomy.Validate(filtered)
	added := c.Main.AttachCues(memoryID, report.Accepted)
	if len(added) > 0 {
		c.invalidateRecall()
		// New canonicals want lexicon rows of their own.
		c.Lex.Train(added, content)
	}
	return len(added)
}

// TrainLexicon wires the memory's canonical cues to its content tokens.
func (c *Context) TrainLexicon(memoryID string) int {
	mem, content, err := c.Main.Get(memoryID)
	if err != nil {
		return 0
	}
	return c.Lex.Train(mem.Cues, content)
}

// UpdateGraph folds the memory's cue set into the co-occurrence matrix.
func (c *Context) UpdateGraph(memoryID string) {
	mem, _, err := c.Main.Get(memoryID)
	if err != nil {
		return
	}
	c.Main.ObserveCoOccurrence(mem.Cues)
}

// ReinforceMemories applies deferred recall reinforcement.
func (c *Context) ReinforceMemories(ids, cues []string) int {
	n := 0
	for _, id := range ids {
		if _, err := c.Main.Reinforce(id, nil); err == nil {
			n++
		}
	}
	if n > 0 {
		c.Main.ObserveCoOccurrence(cues)
		c.invalidateRecall()
	}
	return n
}

// ReinforceLexicon promotes the lexicon rows that won a resolution.
func (c *Context) ReinforceLexicon(ids, tokens []string) {
	c.Lex.ReinforceRows(ids, tokens)
}

// ProposeAliases runs the overlap scan over the cue index.
func (c *Context) ProposeAliases() int {
	added := c.Proposals.Scan(c.Main.CueIndex(), c.Aliases, alias.DefaultProposeJaccard)
	return len(added)
}

// Consolidate runs one additive consolidation pass.
func (c *Context) Consolidate() int {
	results := c.Main.Consolidate(engine.DefaultConsolidateJaccard, engine.DefaultEpisodeWindow*24)
	if len(results) > 0 {
		c.invalidateRecall()
	}
	return len(results)
}

// ExtractAndIngest upserts an agent-extracted memory for a file chunk
// and trains the lexicon on it.
func (c *Context) ExtractAndIngest(memoryID, content, filePath string) {
	cues := tokenize.Cues(content)
	cues = append(cues, "path:"+normalize.Normalize(filePath), "source:agent")
	if err := c.Main.UpsertWithID(memoryID, content, cues); err != nil {
		c.log.Warn("ingest upsert failed", "memory", memoryID, "error", err)
		return
	}
	c.invalidateRecall()
	if mem, _, err := c.Main.Get(memoryID); err == nil {
		c.Lex.Train(mem.Cues, content)
	}
}

// VerifyFile prunes agent-owned memories of filePath that are no longer
// in the valid set. Caller-authored memories are never touched.
func (c *Context) VerifyFile(filePath string, validIDs []string) int {
	pathCue := "path:" + normalize.Normalize(filePath)
	valid := make(map[string]struct{}, len(validIDs))
	for _, id := range validIDs {
		valid[id] = struct{}{}
	}
	pruned := 0
	for _, id := range c.Main.CueIndex().Recent(pathCue, -1) {
		if !strings.HasPrefix(id, AgentMemoryPrefix) {
			continue
		}
		if _, ok := valid[id]; ok {
			continue
		}
		if c.Main.Delete(id) {
			pruned++
		}
	}
	if pruned > 0 {
		c.invalidateRecall()
	}
	return pruned
}

// LexiconRows returns the canonical rows sorted by ID.
func (c *Context) LexiconRows() []string {
	var rows []string
	c.Lex.Engine().Each(func(m engine.Memory) bool {
		rows = append(rows, m.ID)
		return true
	})
	sort.Strings(rows)
	return rows
}


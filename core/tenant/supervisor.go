package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuemap-dev/cuemap/core/alias"
	"github.com/cuemap-dev/cuemap/core/engine"
	"github.com/cuemap-dev/cuemap/core/jobs"
	"github.com/cuemap-dev/cuemap/core/snapshot"
)

// DefaultTenant is used when a request names no tenant.
const DefaultTenant = "default"

// Supervisor defaults.
const (
	DefaultSnapshotInterval    = 60 * time.Second
	DefaultConsolidateInterval = 24 * time.Hour
)

// Options configures a Supervisor.
type Options struct {
	SnapshotsDir        string
	SnapshotInterval    time.Duration
	ConsolidateInterval time.Duration
	Engine              engine.Options
	Jobs                jobs.Config
	Logger              *slog.Logger
}

// Supervisor owns the tenant map and the shared job pipeline. It
// implements jobs.Provider.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	mu       sync.RWMutex
	contexts map[string]*Context

	pipeline *jobs.Pipeline

	stopOnce sync.Once
	stopCh   chan struct{}
	tickerWG sync.WaitGroup
}

// aliasSnapshot is the on-disk record of one tenant's alias table.
type aliasSnapshot struct {
	Entries map[string][]alias.Target
}

// NewSupervisor creates the supervisor and its job worker.
func NewSupervisor(opts Options) *Supervisor {
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	if opts.ConsolidateInterval <= 0 {
		opts.ConsolidateInterval = DefaultConsolidateInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Engine.ShardCount == 0 {
		opts.Engine = engine.DefaultOptions()
	}
	s := &Supervisor{
		opts:     opts,
		log:      opts.Logger,
		contexts: make(map[string]*Context),
		stopCh:   make(chan struct{}),
	}
	jcfg := opts.Jobs
	if jcfg.Logger == nil {
		jcfg.Logger = opts.Logger
	}
	s.pipeline = jobs.NewPipeline(s, jcfg)
	return s
}

// Pipeline exposes the shared job pipeline (telemetry, test quiescence).
func (s *Supervisor) Pipeline() *jobs.Pipeline { return s.pipeline }

// ValidTenantID reports whether id is an acceptable tenant identifier:
// 3..64 characters of [A-Za-z0-9_-].
func ValidTenantID(id string) bool {
	if len(id) < 3 || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// Get returns the tenant context, creating it on first use. An empty id
// maps to DefaultTenant; malformed IDs are rejected.
func (s *Supervisor) Get(id string) (*Context, error) {
	if id == "" {
		id = DefaultTenant
	}
	if !ValidTenantID(id) {
		return nil, fmt.Errorf("%w: tenant id %q", engine.ErrInvalidInput, id)
	}

	s.mu.RLock()
	c, ok := s.contexts[id]
	s.mu.RUnlock()
	if ok {
		c.touch()
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contexts[id]; ok {
		return c, nil
	}
	c = newContext(id, s.pipeline, s.opts.Engine, s.log)
	c.createdAt = float64(time.Now().UnixNano()) / 1e9
	c.touch()
	s.contexts[id] = c
	s.log.Info("tenant created", "tenant", id)
	return c, nil
}

// Peek returns the tenant context without creating it.
func (s *Supervisor) Peek(id string) (*Context, bool) {
	if id == "" {
		id = DefaultTenant
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[id]
	return c, ok
}

// Delete drops a tenant from memory. Snapshot files stay on disk.
func (s *Supervisor) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contexts[id]; !ok {
		return false
	}
	delete(s.contexts, id)
	return true
}

// Tenants returns the live tenant IDs, sorted.
func (s *Supervisor) Tenants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.contexts))
	for id := range s.contexts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// JobTenant implements jobs.Provider. Deferred work never creates
// tenants.
func (s *Supervisor) JobTenant(id string) (jobs.Tenant, bool) {
	c, ok := s.Peek(id)
	if !ok {
		return nil, false
	}
	return c, true
}

// GlobalStats aggregates size counters across tenants.
func (s *Supervisor) GlobalStats() map[string]any {
	ids := s.Tenants()
	totalMemories, totalCues := 0, 0
	for _, id := range ids {
		if c, ok := s.Peek(id); ok {
			totalMemories += c.Main.TotalMemories()
			totalCues += c.Main.TotalCues()
		}
	}
	return map[string]any{
		"total_projects": len(ids),
		"total_memories": totalMemories,
		"total_cues":     totalCues,
		"projects":       ids,
	}
}

// SaveAll snapshots every live tenant to the snapshots directory. Errors
// are collected per tenant, not short-circuited.
func (s *Supervisor) SaveAll() map[string]error {
	out := make(map[string]error)
	for _, id := range s.Tenants() {
		c, ok := s.Peek(id)
		if !ok {
			continue
		}
		out[id] = s.save(c)
	}
	return out
}

func (s *Supervisor) save(c *Context) error {
	dir := s.opts.SnapshotsDir
	if err := snapshot.Save(snapshot.MainPath(dir, c.ID), c.Main.Export()); err != nil {
		return fmt.Errorf("%w: main: %v", engine.ErrPersistence, err)
	}
	if err := snapshot.Save(snapshot.LexiconPath(dir, c.ID), c.Lex.Engine().Export()); err != nil {
		return fmt.Errorf("%w: lexicon: %v", engine.ErrPersistence, err)
	}
	if err := snapshot.Save(snapshot.AliasPath(dir, c.ID), aliasSnapshot{Entries: c.Aliases.Export()}); err != nil {
		return fmt.Errorf("%w: aliases: %v", engine.ErrPersistence, err)
	}
	return nil
}

// LoadAll restores every tenant snapshot found in the snapshots
// directory. Missing lexicon or alias files are tolerated.
func (s *Supervisor) LoadAll() map[string]error {
	out := make(map[string]error)
	dir := s.opts.SnapshotsDir
	for _, id := range snapshot.ListTenants(dir) {
		out[id] = s.load(id)
	}
	return out
}

func (s *Supervisor) load(id string) error {
	c, err := s.Get(id)
	if err != nil {
		return err
	}
	dir := s.opts.SnapshotsDir

	var mainState engine.State
	if err := snapshot.Load(snapshot.MainPath(dir, id), &mainState); err != nil {
		return fmt.Errorf("%w: main: %v", engine.ErrPersistence, err)
	}
	c.Main.Import(mainState)

	var lexState engine.State
	if err := snapshot.Load(snapshot.LexiconPath(dir, id), &lexState); err == nil {
		c.Lex.Engine().Import(lexState)
	}
	var aliases aliasSnapshot
	if err := snapshot.Load(snapshot.AliasPath(dir, id), &aliases); err == nil {
		c.Aliases.Import(aliases.Entries)
	}
	c.invalidateRecall()
	s.log.Info("tenant loaded", "tenant", id, "memories", c.Main.TotalMemories())
	return nil
}

// Start launches the periodic snapshot and consolidation tickers.
func (s *Supervisor) Start() {
	s.tickerWG.Add(2)
	go func() {
		defer s.tickerWG.Done()
		ticker := time.NewTicker(s.opts.SnapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for id, err := range s.SaveAll() {
					if err != nil {
						// Logged and retried next interval.
						s.log.Warn("periodic snapshot failed", "tenant", id, "error", err)
					}
				}
			case <-s.stopCh:
				return
			}
		}
	}()
	go func() {
		defer s.tickerWG.Done()
		ticker := time.NewTicker(s.opts.ConsolidateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, id := range s.Tenants() {
					s.pipeline.TryEnqueue(jobs.Job{Kind: jobs.KindConsolidate, Tenant: id})
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Shutdown quiesces the pipeline, dumps a final snapshot of every
// tenant, and stops the tickers.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.tickerWG.Wait()

	if err := s.pipeline.Shutdown(ctx); err != nil {
		return err
	}
	var firstErr error
	for id, err := range s.SaveAll() {
		if err != nil {
			s.log.Error("shutdown snapshot failed", "tenant", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (c *Context) touch() {
	c.lastActivity.Store(time.Now().Unix())
}

// LastActivity returns the unix time of the tenant's last routing.
func (c *Context) LastActivity() int64 { return c.lastActivity.Load() }

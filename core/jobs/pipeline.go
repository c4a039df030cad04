package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Pipeline defaults.
const (
	DefaultQueueCapacity = 1000
	DefaultSessionIdle   = 500 * time.Millisecond
)

// ErrQueueFull is returned by TryEnqueue when the caller opted out of
// blocking and the queue is at capacity.
var ErrQueueFull = errors.New("jobs: queue full")

// Pipeline is the bounded multi-producer single-consumer job queue plus
// the ingestion-session buffer. One dedicated worker drains the channel
// serially; handler failures are logged and dropped, never propagated.
type Pipeline struct {
	provider Provider
	log      *slog.Logger

	ch          chan Job
	sessionIdle time.Duration

	mu       sync.Mutex
	sessions map[string]*session

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	telemetry Telemetry
}

// session buffers one tenant's enrichment jobs while its ingestion batch
// is still hot.
type session struct {
	buffered []Job
	timer    *time.Timer
}

// Config configures a Pipeline.
type Config struct {
	QueueCapacity int
	SessionIdle   time.Duration
	Logger        *slog.Logger
}

// NewPipeline creates the pipeline and starts its worker.
func NewPipeline(provider Provider, cfg Config) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = DefaultSessionIdle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Pipeline{
		provider:    provider,
		log:         cfg.Logger,
		ch:          make(chan Job, cfg.QueueCapacity),
		sessionIdle: cfg.SessionIdle,
		sessions:    make(map[string]*session),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	go p.work()
	return p
}

// NoteWrite opens (or renews) the tenant's ingestion session. The first
// write in a batch opens it; it auto-closes and flushes after the idle
// window passes with no further writes.
func (p *Pipeline) NoteWrite(tenant string) {
	p.telemetry.writesTotal.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[tenant]
	if !ok {
		s = &session{}
		s.timer = time.AfterFunc(p.sessionIdle, func() { p.closeSession(tenant) })
		p.sessions[tenant] = s
		return
	}
	s.timer.Reset(p.sessionIdle)
}

// Enqueue submits a job, blocking while the queue is full (bounded
// backpressure) unless ctx is done first. Bufferable jobs go to the
// tenant's open ingestion session instead.
func (p *Pipeline) Enqueue(ctx context.Context, job Job) error {
	if p.bufferIntoSession(job) {
		return nil
	}
	select {
	case p.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return errors.New("jobs: pipeline stopped")
	}
}

// TryEnqueue submits without blocking; ErrQueueFull when at capacity.
func (p *Pipeline) TryEnqueue(job Job) error {
	if p.bufferIntoSession(job) {
		return nil
	}
	select {
	case p.ch <- job:
		return nil
	default:
		p.telemetry.dropped.Add(1)
		return ErrQueueFull
	}
}

func (p *Pipeline) bufferIntoSession(job Job) bool {
	if !job.bufferable() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[job.Tenant]
	if !ok {
		return false
	}
	s.buffered = append(s.buffered, job)
	p.telemetry.buffered.Add(1)
	return true
}

// closeSession flushes a tenant's buffered jobs in one batch.
func (p *Pipeline) closeSession(tenant string) {
	p.mu.Lock()
	s, ok := p.sessions[tenant]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, tenant)
	batch := s.buffered
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	p.log.Debug("ingestion session closed", "tenant", tenant, "jobs", len(batch))
	for _, job := range batch {
		select {
		case p.ch <- job:
		case <-p.stopCh:
			return
		}
	}
}

// flushSessions force-closes every open session. Used by Quiesce and
// Shutdown.
func (p *Pipeline) flushSessions() {
	p.mu.Lock()
	tenants := make([]string, 0, len(p.sessions))
	for t, s := range p.sessions {
		s.timer.Stop()
		tenants = append(tenants, t)
	}
	p.mu.Unlock()
	for _, t := range tenants {
		p.closeSession(t)
	}
}

// Quiesce flushes open sessions and blocks until every job enqueued
// before the call has been processed. Test hook for asserting on
// deferred state.
func (p *Pipeline) Quiesce(ctx context.Context) error {
	p.flushSessions()
	barrier := Job{Kind: kindBarrier, barrier: make(chan struct{})}
	select {
	case p.ch <- barrier:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stopCh:
		return nil
	}
	select {
	case <-barrier.barrier:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.doneCh:
		return nil
	}
}

// Shutdown flushes sessions, lets the worker finish the current job and
// drain the queue, then stops it.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if err := p.Quiesce(ctx); err != nil {
		return err
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Telemetry returns a snapshot of the progress counters.
func (p *Pipeline) Telemetry() map[string]uint64 {
	return p.telemetry.snapshot()
}

func (p *Pipeline) work() {
	defer close(p.doneCh)
	for {
		select {
		case job := <-p.ch:
			p.handle(job)
		case <-p.stopCh:
			// Drain what is already queued, then exit.
			for {
				select {
				case job := <-p.ch:
					p.handle(job)
				default:
					return
				}
			}
		}
	}
}

func (p *Pipeline) handle(job Job) {
	if job.Kind == kindBarrier {
		close(job.barrier)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.telemetry.failed.Add(1)
			p.log.Error("job handler panicked", "kind", string(job.Kind), "tenant", job.Tenant, "panic", r)
		}
	}()

	tenant, ok := p.provider.JobTenant(job.Tenant)
	if !ok {
		p.log.Warn("job for unknown tenant dropped", "kind", string(job.Kind), "tenant", job.Tenant)
		return
	}

	switch job.Kind {
	case KindProposeCues:
		n := tenant.ProposeCues(job.MemoryID, job.Content)
		p.telemetry.proposeCues.Add(1)
		if n > 0 {
			p.log.Debug("cues proposed", "tenant", job.Tenant, "memory", job.MemoryID, "attached", n)
		}
	case KindTrainLexicon:
		tenant.TrainLexicon(job.MemoryID)
		p.telemetry.trainLexicon.Add(1)
	case KindUpdateGraph:
		tenant.UpdateGraph(job.MemoryID)
		p.telemetry.updateGraph.Add(1)
	case KindReinforceMemories:
		tenant.ReinforceMemories(job.MemoryIDs, job.Cues)
		p.telemetry.reinforce.Add(1)
	case KindReinforceLexicon:
		tenant.ReinforceLexicon(job.MemoryIDs, job.Cues)
		p.telemetry.reinforceLexicon.Add(1)
	case KindProposeAliases:
		n := tenant.ProposeAliases()
		p.telemetry.proposeAliases.Add(1)
		if n > 0 {
			p.log.Info("alias proposals added", "tenant", job.Tenant, "count", n)
		}
	case KindConsolidate:
		n := tenant.Consolidate()
		p.telemetry.consolidate.Add(1)
		if n > 0 {
			p.log.Info("memories consolidated", "tenant", job.Tenant, "summaries", n)
		}
	case KindExtractAndIngest:
		tenant.ExtractAndIngest(job.MemoryID, job.Content, job.FilePath)
		p.telemetry.extractIngest.Add(1)
	case KindVerifyFile:
		pruned := tenant.VerifyFile(job.FilePath, job.ValidIDs)
		p.telemetry.verifyFile.Add(1)
		if pruned > 0 {
			p.log.Info("stale file memories pruned", "tenant", job.Tenant, "path", job.FilePath, "count", pruned)
		}
	default:
		p.log.Warn("unknown job kind dropped", "kind", string(job.Kind))
	}
}

// Package jobs runs the deferred side of the write path: cue proposal,
// lexicon training, co-occurrence updates, reinforcement, alias
// proposal, ingestion and consolidation all happen here, off the
// caller's latency path.
package jobs

// Kind tags a job for dispatch and telemetry.
type Kind string

// Job kinds.
const (
	KindProposeCues       Kind = "propose_cues"
	KindTrainLexicon      Kind = "train_lexicon"
	KindUpdateGraph       Kind = "update_graph"
	KindReinforceMemories Kind = "reinforce_memories"
	KindReinforceLexicon  Kind = "reinforce_lexicon"
	KindProposeAliases    Kind = "propose_aliases"
	KindExtractAndIngest  Kind = "extract_and_ingest"
	KindVerifyFile        Kind = "verify_file"
	KindConsolidate       Kind = "consolidate_memories"

	kindBarrier Kind = "barrier"
)

// Job is one deferred unit of work. Re-running a job converges to the
// same state, except for the two reinforcement kinds: each run of one of
// those reinforces again.
type Job struct {
	Kind   Kind
	Tenant string

	MemoryID  string
	Content   string
	FilePath  string
	MemoryIDs []string
	Cues      []string
	ValidIDs  []string

	barrier chan struct{}
}

// bufferable kinds are held in the ingestion-session buffer while a
// session is open, then flushed in one batch.
func (j Job) bufferable() bool {
	switch j.Kind {
	case KindProposeCues, KindTrainLexicon, KindUpdateGraph:
		return true
	}
	return false
}

// Tenant is what a job handler may do to one tenant's engines. The
// supervisor implements it; the pipeline never reaches around it.
type Tenant interface {
	// ProposeCues derives and attaches additional cues for a memory
	// from its content. Returns the number attached.
	ProposeCues(memoryID, content string) int
	// TrainLexicon wires the memory's canonical cues to its content
	// tokens. Returns the number of rows touched.
	TrainLexicon(memoryID string) int
	// UpdateGraph folds the memory's cue set into the co-occurrence
	// matrix.
	UpdateGraph(memoryID string)
	// ReinforceMemories applies deferred recall reinforcement.
	ReinforceMemories(ids, cues []string) int
	// ReinforceLexicon promotes winning lexicon rows.
	ReinforceLexicon(ids, cues []string)
	// ProposeAliases runs the overlap scan. Returns new proposals.
	ProposeAliases() int
	// Consolidate runs one consolidation pass. Returns summaries made.
	Consolidate() int
	// ExtractAndIngest upserts an agent-extracted memory for a file
	// chunk.
	ExtractAndIngest(memoryID, content, filePath string)
	// VerifyFile prunes agent-owned memories of a file that are no
	// longer backed by a live chunk.
	VerifyFile(filePath string, validIDs []string) int
}

// Provider resolves tenant IDs for the worker.
type Provider interface {
	JobTenant(id string) (Tenant, bool)
}

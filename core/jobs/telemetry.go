package jobs

import "sync/atomic"

// Telemetry is the pipeline's read-only progress counters.
type Telemetry struct {
	writesTotal      atomic.Uint64
	buffered         atomic.Uint64
	dropped          atomic.Uint64
	failed           atomic.Uint64
	proposeCues      atomic.Uint64
	trainLexicon     atomic.Uint64
	updateGraph      atomic.Uint64
	reinforce        atomic.Uint64
	reinforceLexicon atomic.Uint64
	proposeAliases   atomic.Uint64
	consolidate      atomic.Uint64
	extractIngest    atomic.Uint64
	verifyFile       atomic.Uint64
}

func (t *Telemetry) snapshot() map[string]uint64 {
	return map[string]uint64{
		"writes_total": t.writesTotal.Load(),
		"session_buffered": t.buffered.Load(),
		"dropped": t.dropped.Load(),
		"failed": t.failed.Load(),
		"propose_cues_completed": t.proposeCues.Load(),
		"train_lexicon_completed": t.trainLexicon.Load(),
		"update_graph_completed": t.updateGraph.Load(),
		"reinforce_completed": t.reinforce.Load(),
		"reinforce_lexicon_completed": t.reinforceLexicon.Load(),
		"propose_aliases_completed": t.proposeAliases.Load(),
		"consolidate_completed": t.consolidate.Load(),
		"extract_ingest_completed": t.extractIngest.Load(),
		"verify_file_completed": t.verifyFile.Load(),
	}
}

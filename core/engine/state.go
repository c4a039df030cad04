package engine

// State is the full serializable engine state. Export/Import round-trip
// exactly: an engine imported from an exported state answers every query
// identically.
type State struct {
	Memories     map[string]Memory
	CueIndex     map[string][]string // IDs oldest-first per cue
	CoOccurrence map[string]map[string]uint64
	LastEvent    *LastEventState
}

// LastEventState persists the episode-chunking anchor so a restart does
// not split an in-flight episode.
type LastEventState struct {
	ID        string
	EpisodeID string
	CreatedAt float64
	Cues      []string
}

// Export captures a consistent copy of the engine state.
func (e *Engine) Export() State {
	st := State{
		Memories:     make(map[string]Memory),
		CueIndex:     e.cues.Export(),
		CoOccurrence: e.coocc.export(),
	}
	e.store.each(func(m Memory) bool {
		st.Memories[m.ID] = m
		return true
	})

	e.epMu.Lock()
	if e.last != nil {
		st.LastEvent = &LastEventState{
			ID:        e.last.ID,
			EpisodeID: e.last.EpisodeID,
			CreatedAt: e.last.CreatedAt,
			Cues:      append([]string(nil), e.last.Cues...),
		}
	}
	e.epMu.Unlock()
	return st
}

// Import replaces the engine's state with st. Meant for startup loading;
// not safe to run concurrently with traffic.
func (e *Engine) Import(st State) {
	e.store = newMemoryStore(e.opts.ShardCount)
	e.cues = e.cues.Fresh()
	e.coocc = newCoMatrix()
	e.memoryCount.Store(0)

	var maxCreated float64
	for id, m := range st.Memories {
		cp := m
		cp.ID = id
		cp.Cues = append([]string(nil), m.Cues...)
		rec := cp
		if e.store.insert(&rec) {
			e.memoryCount.Add(1)
		}
		if m.CreatedAt > maxCreated {
			maxCreated = m.CreatedAt
		}
	}
	e.cues.Import(st.CueIndex)
	e.coocc.replace(st.CoOccurrence)

	e.epMu.Lock()
	if st.LastEvent != nil {
		e.last = &lastEvent{
			ID:        st.LastEvent.ID,
			EpisodeID: st.LastEvent.EpisodeID,
			CreatedAt: st.LastEvent.CreatedAt,
			Cues:      append([]string(nil), st.LastEvent.Cues...),
		}
	} else {
		e.last = nil
	}
	e.epMu.Unlock()

	// Keep created_at monotonic across the restart.
	e.clk.lastNanos.Store(int64(maxCreated * 1e9))
}

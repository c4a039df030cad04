package engine

import (
	"math"
	"sort"
)

// WeightedCue is a query cue with its contribution weight. Direct query
// cues carry 1.0; alias expansion and pattern completion inject lower
// weights.
type WeightedCue struct {
	Cue    string  `json:"cue"`
	Weight float64 `json:"weight"`
}

// RecallOptions are the per-request flags of the recall engine. The zero
// value is a normal query.
type RecallOptions struct {
	Limit                       int
	FastMode                    bool
	Explain                     bool
	DisablePatternCompletion    bool
	DisableSalienceBias         bool
	DisableSystemsConsolidation bool
}

// Explanation carries the score components of one result plus the
// expanded query, returned when explain is requested.
type Explanation struct {
	ExpandedQuery        []WeightedCue `json:"expanded_query"`
	MinPosition          int           `json:"min_position"`
	IntersectionWeighted float64       `json:"intersection_weighted"`
	Recency              float64       `json:"recency"`
	Frequency            float64       `json:"frequency"`
	Salience             float64       `json:"salience"`
}

// Result is one ranked recall hit.
type Result struct {
	ID                   string       `json:"id"`
	Content              string       `json:"content"`
	Score                float64      `json:"score"`
	IntersectionCount    int          `json:"intersection_count"`
	IntersectionWeighted float64      `json:"intersection_weighted"`
	RecencyScore         float64      `json:"recency_score"`
	ReinforcementScore   float64      `json:"reinforcement_score"`
	SalienceScore        float64      `json:"salience_score"`
	MatchIntegrity       float64      `json:"match_integrity"`
	CreatedAt            float64      `json:"created_at"`
	Explain              *Explanation `json:"explain,omitempty"`

	minPosition int
	memCues     []string
}

// Match-integrity weights.
const (
	integrityIntersection = 0.4
	integrityFrequency    = 0.3
	integrityContext      = 0.3
)

const patternCompletionDamping = 0.5

// Recall runs the continuous-gradient recall algorithm. It never writes
// engine state; reinforcement is the caller's deferred job. Empty or
// fully unknown queries and non-positive limits return nil, not errors.
func (e *Engine) Recall(query []WeightedCue, opts RecallOptions) []Result {
	if opts.Limit <= 0 || len(query) == 0 {
		return nil
	}

	// Keep only known cues; merge duplicates by summed, clamped weight.
	active := mergeWeighted(nil, query, func(c string) bool { return e.cues.Has(c) })
	if len(active) == 0 {
		return nil
	}

	// Pattern completion: pull in strongly co-occurring cues at reduced
	// weight. Only the caller's cues seed the expansion.
	if !opts.DisablePatternCompletion {
		var inferred []WeightedCue
		for _, q := range active {
			for _, n := range e.coocc.neighbors(q.Cue, e.opts.CoOccurrenceTopK, e.opts.CoOccurrenceMin) {
				inferred = append(inferred, WeightedCue{
					Cue:    n.cue,
					Weight: q.Weight * patternCompletionDamping * n.strength,
				})
			}
		}
		active = mergeWeighted(active, inferred, func(c string) bool { return e.cues.Has(c) })
	}

	// Selectivity ordering: rarest cue first; it becomes the seed list.
	sort.SliceStable(active, func(i, j int) bool {
		li, lj := e.cues.Len(active[i].Cue), e.cues.Len(active[j].Cue)
		if li != lj {
			return li < lj
		}
		return active[i].Cue < active[j].Cue
	})

	// Selective scan: walk every query cue's list, most selective first,
	// so rare cues surface their candidates before broad ones. Each new
	// candidate is probed against every query cue in O(1). Partial
	// matches stay in: a memory hit by only one of three cues is still a
	// (low-scoring) result.
	var candidates []Result
	seen := make(map[string]struct{})

	for _, q := range active {
		depth := e.cues.Len(q.Cue)
		if opts.FastMode && depth > e.opts.FastDepth {
			depth = e.opts.FastDepth
		}
		for _, id := range e.cues.Slice(q.Cue, 0, depth) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			weighted := 0.0
			hits := 0
			minPos := -1
			for _, probe := range active {
				pos, ok := e.cues.PositionOf(probe.Cue, id)
				if !ok {
					continue
				}
				weighted += probe.Weight
				hits++
				if minPos < 0 || pos < minPos {
					minPos = pos
				}
			}
			if hits == 0 {
				continue
			}

			m, ok := e.store.get(id)
			if !ok {
				continue
			}
			if opts.DisableSystemsConsolidation && m.Summary {
				continue
			}

			recency := math.Exp(-math.Ln2 * float64(minPos) / e.opts.HalfLifePositions)
			frequency := math.Log10(1 + float64(m.ReinforcementCount))
			salienceTerm := 1.0
			if !opts.DisableSalienceBias {
				salienceTerm = m.SalienceScore
			}
			score := weighted * (1 + e.opts.RecencyAlpha*recency + e.opts.FrequencyBeta*frequency) * salienceTerm

			candidates = append(candidates, Result{
				ID:                   id,
				Score:                score,
				IntersectionCount:    hits,
				IntersectionWeighted: weighted,
				RecencyScore:         recency,
				ReinforcementScore:   frequency,
				SalienceScore:        m.SalienceScore,
				CreatedAt:            m.CreatedAt,
				minPosition:          minPos,
				memCues:              m.Cues,
			})
		}
	}

	// Deterministic total order: score, then freshness, then ID.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].CreatedAt != candidates[j].CreatedAt {
			return candidates[i].CreatedAt > candidates[j].CreatedAt
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}

	e.finishResults(candidates, active, opts)
	return candidates
}

// finishResults computes match integrity over the final result set and
// decodes content only for the memories actually returned.
func (e *Engine) finishResults(results []Result, active []WeightedCue, opts RecallOptions) {
	maxFreq := 0.0
	for i := range results {
		if results[i].ReinforcementScore > maxFreq {
			maxFreq = results[i].ReinforcementScore
		}
	}

	querySet := make(map[string]struct{}, len(active))
	for _, q := range active {
		querySet[q.Cue] = struct{}{}
	}

	for i := range results {
		r := &results[i]

		intersectionRatio := float64(r.IntersectionCount) / float64(len(active))
		freqRatio := 0.0
		if maxFreq > 0 {
			freqRatio = r.ReinforcementScore / maxFreq
		}
		agreement := 0.0
		if len(r.memCues) > 0 {
			matched := 0
			for _, c := range r.memCues {
				if _, ok := querySet[c]; ok {
					matched++
				}
			}
			agreement = float64(matched) / float64(len(r.memCues))
		}
		r.MatchIntegrity = integrityIntersection*intersectionRatio +
			integrityFrequency*freqRatio +
			integrityContext*agreement

		if m, ok := e.store.get(r.ID); ok {
			if content, err := e.DecodeContent(m.Payload); err == nil {
				r.Content = content
			}
		}
		if opts.Explain {
			r.Explain = &Explanation{
				ExpandedQuery:        append([]WeightedCue(nil), active...),
				MinPosition:          r.minPosition,
				IntersectionWeighted: r.IntersectionWeighted,
				Recency:              r.RecencyScore,
				Frequency:            r.ReinforcementScore,
				Salience:             r.SalienceScore,
			}
		}
		r.memCues = nil
	}
}

// mergeWeighted folds extra into base, summing weights of repeated cues
// and clamping to 1.0. keep filters which cues are admitted; insertion
// order of first occurrence is preserved so downstream ordering stays
// deterministic.
func mergeWeighted(base, extra []WeightedCue, keep func(string) bool) []WeightedCue {
	out := base
	pos := make(map[string]int, len(base)+len(extra))
	for i, q := range base {
		pos[q.Cue] = i
	}
	for _, q := range extra {
		if q.Cue == "" || q.Weight <= 0 || !keep(q.Cue) {
			continue
		}
		if i, ok := pos[q.Cue]; ok {
			w := out[i].Weight + q.Weight
			if w > 1.0 {
				w = 1.0
			}
			out[i].Weight = w
			continue
		}
		pos[q.Cue] = len(out)
		if q.Weight > 1.0 {
			q.Weight = 1.0
		}
		out = append(out, q)
	}
	return out
}

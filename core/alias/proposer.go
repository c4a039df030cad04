package alias

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cuemap-dev/cuemap/core/index"
)

// Proposer tunables.
const (
	DefaultProposeJaccard = 0.9
	DefaultProposeWeight  = 0.95

	proposeMinMemories  = 20
	proposeMaxMemories  = 50000
	proposeMaxCands     = 1500
	proposeSampleSize   = 512
	proposeMinCueLen    = 3
	sampleSlack         = 0.15
	minSignificantToken = 3
)

// Proposal is one suggested alias, produced by overlap analysis and held
// until an operator accepts it.
type Proposal struct {
	ID     string  `json:"id"`
	From   string  `json:"from"`
	To     string  `json:"to"`
	Weight float64 `json:"weight"`
	Score  float64 `json:"score"`
}

// Proposals is the pending-proposal set. IDs are deterministic (UUIDv5
// over "from->to") so re-running the proposer converges instead of
// duplicating.
type Proposals struct {
	mu      sync.Mutex
	pending map[string]Proposal
}

// NewProposals returns an empty pending set.
func NewProposals() *Proposals {
	return &Proposals{pending: make(map[string]Proposal)}
}

// List returns pending proposals sorted by ID.
func (p *Proposals) List() []Proposal {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Proposal, 0, len(p.pending))
	for _, pr := range p.pending {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Accept installs the proposal into the table and removes it from the
// pending set. Returns false for unknown IDs.
func (p *Proposals) Accept(id string, table *Table) bool {
	p.mu.Lock()
	pr, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	table.Add(pr.From, pr.To, pr.Weight)
	return true
}

// Scan walks the cue index looking for cue pairs whose memory-ID sets
// overlap with Jaccard >= threshold, and proposes the smaller-support cue
// as an alias of the larger at DefaultProposeWeight. Already-pending and
// already-aliased pairs are skipped. Returns freshly added proposals.
func (p *Proposals) Scan(ci *index.CueIndex, table *Table, threshold float64) []Proposal {
	if threshold <= 0 {
		threshold = DefaultProposeJaccard
	}

	type candidate struct {
		cue    string
		count  int
		sample map[string]struct{}
	}

	var cands []candidate
	for _, cue := range ci.Cues() {
		n := ci.Len(cue)
		if len(cue) < proposeMinCueLen || n < proposeMinMemories || n > proposeMaxMemories {
			continue
		}
		cands = append(cands, candidate{cue: cue, count: n})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].count != cands[j].count {
			return cands[i].count > cands[j].count
		}
		return cands[i].cue < cands[j].cue
	})
	if len(cands) > proposeMaxCands {
		cands = cands[:proposeMaxCands]
	}
	for i := range cands {
		sample := make(map[string]struct{}, proposeSampleSize)
		for _, id := range ci.Recent(cands[i].cue, proposeSampleSize) {
			sample[id] = struct{}{}
		}
		cands[i].sample = sample
	}

	var added []Proposal
	for i := range cands {
		for j := i + 1; j < len(cands); j++ {
			a, b := &cands[i], &cands[j]
			if !lexicalGate(a.cue, b.cue) {
				continue
			}

			// Cheap sample screen before the exact set comparison.
			if sampleOverlap(a.sample, b.sample) < threshold-sampleSlack {
				continue
			}
			score := exactJaccard(ci, a.cue, b.cue)
			if score < threshold {
				continue
			}

			from, to := a.cue, b.cue
			if a.count > b.count {
				from, to = b.cue, a.cue
			}
			if hasTarget(table, from, to) {
				continue
			}

			id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(from+"->"+to)).String()
			p.mu.Lock()
			if _, dup := p.pending[id]; !dup {
				pr := Proposal{ID: id, From: from, To: to, Weight: DefaultProposeWeight, Score: score}
				p.pending[id] = pr
				added = append(added, pr)
			}
			p.mu.Unlock()
		}
	}
	return added
}

// lexicalGate requires the pair to share surface form: containment or at
// least one significant token, splitting on the cue separators.
func lexicalGate(a, b string) bool {
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	ta := cueTokens(a)
	if len(ta) == 0 {
		return false
	}
	tb := cueTokens(b)
	for _, x := range ta {
		for _, y := range tb {
			if x == y {
				return true
			}
		}
	}
	return false
}

func cueTokens(cue string) []string {
	var tokens []string
	for _, part := range strings.FieldsFunc(cue, func(r rune) bool {
		return r == ':' || r == '-' || r == '_' || r == '.' || r == '/'
	}) {
		if len(part) >= minSignificantToken {
			tokens = append(tokens, part)
		}
	}
	return tokens
}

func sampleOverlap(a, b map[string]struct{}) float64 {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	if len(small) == 0 {
		return 0
	}
	inter := 0
	for id := range small {
		if _, ok := large[id]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(small))
}

func exactJaccard(ci *index.CueIndex, a, b string) float64 {
	la, lb := ci.Len(a), ci.Len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	small, other := a, b
	if lb < la {
		small, other = b, a
	}
	inter := 0
	for _, id := range ci.Recent(small, -1) {
		if ci.Contains(other, id) {
			inter++
		}
	}
	union := la + lb - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func hasTarget(table *Table, from, to string) bool {
	for _, tgt := range table.Targets(from) {
		if tgt.To == to {
			return true
		}
	}
	return false
}

// Package lexicon maps free-text tokens to canonical cues using a second
// instance of the memory engine. Rows are keyed by canonical cue (the
// row's content IS the cue); row cues are the tok:/phr: cues extracted
// from the content of every real memory tagged with that canonical.
// Resolution is literally a recall against this engine.
package lexicon

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemap-dev/cuemap/core/engine"
	"github.com/cuemap-dev/cuemap/core/tokenize"
)

// DefaultResolveLimit bounds how many canonical cues one text resolves to.
const DefaultResolveLimit = 8

const resolveCacheSize = 4096

// Cue prefixes excluded from training: high-cardinality or synthetic
// keys that would pollute token rows.
var untrainablePrefixes = []string{
	"path:", "id:", "memory_id:", "file:", "alias_id:", "source:",
	"episode:", tokenize.TokenPrefix, tokenize.PhrasePrefix, "type:",
}

// Trainable reports whether a canonical cue should get a lexicon row.
func Trainable(cue string) bool {
	for _, p := range untrainablePrefixes {
		if strings.HasPrefix(cue, p) {
			return false
		}
	}
	return true
}

// Lexicon owns the token->canonical engine instance.
type Lexicon struct {
	eng   *engine.Engine
	cache *lru.Cache[string, []engine.WeightedCue]
	log   *slog.Logger
}

// New creates an empty lexicon.
func New(logger *slog.Logger) *Lexicon {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, []engine.WeightedCue](resolveCacheSize)
	return &Lexicon{
		eng:   engine.New(engine.LexiconOptions()),
		cache: cache,
		log:   logger,
	}
}

// Engine exposes the underlying instance for snapshotting and recall.
func (l *Lexicon) Engine() *engine.Engine { return l.eng }

// Train extends the lexicon from one main-engine memory: for each
// trainable canonical cue, ensure the row exists and wire it to the
// token and bigram cues of the memory's content. Idempotent: re-training
// the same memory converges to the same rows.
func (l *Lexicon) Train(canonicalCues []string, content string) int {
	tokens := tokenize.Cues(content)
	if len(tokens) == 0 {
		return 0
	}
	trained := 0
	for _, cue := range canonicalCues {
		if !Trainable(cue) {
			continue
		}
		// Identity wiring first: a bare-word canonical always resolves
		// from its own surface form, even before any content mentions it.
		rowTokens := make([]string, 0, len(tokens)+1)
		if !strings.Contains(cue, ":") {
			rowTokens = append(rowTokens, tokenize.TokenPrefix+cue)
		}
		rowTokens = append(rowTokens, tokens...)
		if err := l.eng.UpsertWithID(cue, cue, rowTokens); err != nil {
			l.log.Warn("lexicon train failed", "cue", cue, "error", err)
			continue
		}
		trained++
	}
	if trained > 0 {
		l.cache.Purge()
	}
	return trained
}

// Resolve tokenizes text and recalls the best canonical cues for it.
// Ambiguity resolves through the engine's recency and reinforcement
// ordering: the canonical used most recently in this tenant wins. Each
// canonical carries its resolution confidence (row score relative to the
// best row) as the weight it contributes to the main query.
func (l *Lexicon) Resolve(text string, limit int) []engine.WeightedCue {
	if limit <= 0 {
		limit = DefaultResolveLimit
	}
	tokens := tokenize.Cues(text)
	if len(tokens) == 0 {
		return nil
	}
	key := cacheKey(tokens, limit)
	if hit, ok := l.cache.Get(key); ok {
		return append([]engine.WeightedCue(nil), hit...)
	}

	query := make([]engine.WeightedCue, len(tokens))
	for i, t := range tokens {
		query[i] = engine.WeightedCue{Cue: t, Weight: 1.0}
	}
	// Row salience is left out so rows matching the same tokens are
	// ordered by recency and reinforcement alone.
	results := l.eng.Recall(query, engine.RecallOptions{
		Limit:                    limit,
		DisablePatternCompletion: true,
		DisableSalienceBias:      true,
	})
	if len(results) == 0 {
		return nil
	}
	top := results[0].Score
	canonical := make([]engine.WeightedCue, 0, len(results))
	for _, r := range results {
		w := 1.0
		if top > 0 {
			w = r.Score / top
		}
		canonical = append(canonical, engine.WeightedCue{Cue: r.ID, Weight: w})
	}
	l.cache.Add(key, append([]engine.WeightedCue(nil), canonical...))
	return canonical
}

// ReinforceRows promotes the given canonical rows, wiring the recall
// loop: a canonical that keeps winning keeps winning faster.
func (l *Lexicon) ReinforceRows(canonicalCues []string, tokens []string) {
	for _, cue := range canonicalCues {
		if _, err := l.eng.Reinforce(cue, tokens); err == nil {
			l.cache.Purge()
		}
	}
}

// Inspection describes one lexicon row and its reverse edges.
type Inspection struct {
	Cue      string   `json:"cue"`
	Incoming []string `json:"incoming"` // tokens that trigger this canonical
	Outgoing []string `json:"outgoing"` // canonicals this string triggers as a token
}

// Inspect reports the wiring around a cue string.
func (l *Lexicon) Inspect(cue string) Inspection {
	insp := Inspection{Cue: cue}
	if row, _, err := l.eng.Get(cue); err == nil {
		insp.Incoming = append(insp.Incoming, row.Cues...)
		sort.Strings(insp.Incoming)
	}
	outgoing := l.eng.CueIndex().Recent(tokenize.TokenPrefix+cue, -1)
	insp.Outgoing = append(insp.Outgoing, outgoing...)
	return insp
}

// Wire manually attaches a token to a canonical row, creating the row if
// needed. The token is stored in tok: form.
func (l *Lexicon) Wire(token, canonical string) error {
	if token == "" || canonical == "" {
		return engine.ErrInvalidInput
	}
	if !strings.HasPrefix(token, tokenize.TokenPrefix) && !strings.HasPrefix(token, tokenize.PhrasePrefix) {
		token = tokenize.TokenPrefix + token
	}
	if err := l.eng.UpsertWithID(canonical, canonical, []string{token}); err != nil {
		return err
	}
	l.cache.Purge()
	return nil
}

// Unwire detaches a token from a canonical row. An empty token removes
// the whole row.
func (l *Lexicon) Unwire(token, canonical string) bool {
	var ok bool
	if token == "" {
		ok = l.eng.Delete(canonical)
	} else {
		if !strings.HasPrefix(token, tokenize.TokenPrefix) && !strings.HasPrefix(token, tokenize.PhrasePrefix) {
			token = tokenize.TokenPrefix + token
		}
		ok = l.eng.DetachCue(canonical, token)
	}
	if ok {
		l.cache.Purge()
	}
	return ok
}

func cacheKey(tokens []string, limit int) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t)
		b.WriteByte('\x00')
	}
	b.WriteString(strconv.Itoa(limit))
	return b.String()
}

// Package tokenize converts free text into token and phrase cues for
// lexicon training and natural-language recall.
package tokenize

import (
	"strings"
	"unicode"
)

const (
	// TokenPrefix marks single-word cues emitted by the tokenizer.
	TokenPrefix = "tok:"
	// PhrasePrefix marks adjacent-bigram cues emitted by the tokenizer.
	PhrasePrefix = "phr:"

	minTokenLen = 2
)

// Cues tokenizes content and returns tok:<lemma> cues for every
// non-stopword word plus phr:<lemma1>_<lemma2> cues for every adjacent
// non-stopword bigram. Order is first-occurrence order; duplicates are
// suppressed. Empty content yields nil.
func Cues(content string) []string {
	words := Words(content)
	if len(words) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(words)*2)
	cues := make([]string, 0, len(words)*2)
	emit := func(cue string) {
		if _, ok := seen[cue]; ok {
			return
		}
		seen[cue] = struct{}{}
		cues = append(cues, cue)
	}

	for _, w := range words {
		emit(TokenPrefix + w)
	}
	for i := 0; i+1 < len(words); i++ {
		emit(PhrasePrefix + words[i] + "_" + words[i+1])
	}
	return cues
}

// Words returns the lemmatized, stopword-filtered word stream of content
// in text order. Duplicates are kept; callers that need a set use Cues.
func Words(content string) []string {
	if content == "" {
		return nil
	}

	var words []string
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		w := b.String()
		b.Reset()
		if len(w) < minTokenLen || isStopword(w) {
			return
		}
		w = lemma(w)
		if len(w) < minTokenLen || isStopword(w) {
			return
		}
		words = append(words, w)
	}

	for _, r := range strings.ToLower(content) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if r < 128 {
				b.WriteRune(r)
			}
			continue
		}
		// Keep intra-word apostrophes so "don't" matches the stopword
		// table before lemmatization strips it.
		if r == '\'' && b.Len() > 0 {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return words
}

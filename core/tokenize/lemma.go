package tokenize

import "strings"

// lemmaExceptions maps irregular forms straight to their lemma.
var lemmaExceptions = map[string]string{
	"children": "child",
	"feet":     "foot",
	"geese":    "goose",
	"men":      "man",
	"mice":     "mouse",
	"people":   "person",
	"teeth":    "tooth",
	"women":    "woman",
	"went":     "go",
	"ran":      "run",
	"said":     "say",
	"made":     "make",
	"better":   "good",
	"best":     "good",
	"worse":    "bad",
	"worst":    "bad",
}

// suffixRules are applied in order; the first match wins. A rule only
// fires when the stem it leaves behind is at least three characters, which
// keeps short words ("bus", "was", "his") intact.
var suffixRules = []struct {
	suffix  string
	replace string
}{
	{"ations", "ate"},
	{"ization", "ize"},
	{"nesses", "ness"},
	{"ingly", ""},
	{"edly", ""},
	{"ies", "y"},
	{"ives", "ive"},
	{"sses", "ss"},
	{"ments", "ment"},
	{"ing", ""},
	{"ed", ""},
	{"es", "e"},
	{"s", ""},
}

// lemma reduces word to a canonical dictionary-ish form. The rules are a
// fixed table, not a full stemmer: the goal is that "payments",
// "payment" and arguably "paying" land on shared keys, not linguistic
// correctness.
func lemma(word string) string {
	word = strings.TrimSuffix(word, "'")
	if i := strings.IndexByte(word, '\''); i >= 0 {
		word = word[:i]
	}
	if l, ok := lemmaExceptions[word]; ok {
		return l
	}
	for _, rule := range suffixRules {
		if !strings.HasSuffix(word, rule.suffix) {
			continue
		}
		stem := word[:len(word)-len(rule.suffix)] + rule.replace
		if len(stem) < 3 {
			continue
		}
		// Undouble a trailing consonant left by -ing/-ed stripping
		// ("running" -> "runn" -> "run").
		if rule.replace == "" && len(stem) >= 4 && stem[len(stem)-1] == stem[len(stem)-2] && !isVowel(stem[len(stem)-1]) {
			stem = stem[:len(stem)-1]
		}
		return stem
	}
	return word
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

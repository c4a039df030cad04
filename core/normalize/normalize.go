// Package normalize canonicalizes cue and token strings. The normalized
// form is the exact byte sequence used as an index key everywhere
// downstream, so Normalize must be idempotent: Normalize(Normalize(s)) ==
// Normalize(s).
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Canonical keys are restricted to [a-z0-9_:./-]. Anything else is dropped
// after NFKC folding; internal whitespace runs become a single '-' so a
// multi-word cue stays one key.
var allowed = func() [128]bool {
	var t [128]bool
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	for _, c := range "_:./-" {
		t[c] = true
	}
	return t
}()

// Normalize folds s to its canonical form: NFKC, lowercase, trimmed,
// internal whitespace collapsed, charset-filtered.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	pendingSep := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSep = true
			continue
		}
		if r >= 128 || !allowed[r] {
			continue
		}
		if pendingSep && b.Len() > 0 {
			b.WriteByte('-')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}

// RewriteRule is a named regex substitution applied after canonical
// folding. Rules come from tenant configuration.
type RewriteRule struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Replace string `yaml:"replace" json:"replace"`

	re *regexp.Regexp
}

// Trace records what a normalization pass did to one input.
type Trace struct {
	Raw          string   `json:"raw"`
	Normalized   string   `json:"normalized"`
	AppliedRules []string `json:"applied_rules,omitempty"`
}

// Normalizer applies canonical folding plus an ordered set of rewrite
// rules. The zero value normalizes with no rules.
type Normalizer struct {
	rules []RewriteRule
}

// NewNormalizer compiles the given rewrite rules. Rules that fail to
// compile are skipped.
func NewNormalizer(rules []RewriteRule) *Normalizer {
	n := &Normalizer{}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			continue
		}
		r.re = re
		n.rules = append(n.rules, r)
	}
	return n
}

// Apply normalizes raw and runs the rewrite rules in order, returning the
// canonical string and a trace of the rules that changed it.
func (n *Normalizer) Apply(raw string) (string, Trace) {
	current := Normalize(raw)
	trace := Trace{Raw: raw}

	for _, rule := range n.rules {
		if rule.re == nil || !rule.re.MatchString(current) {
			continue
		}
		next := rule.re.ReplaceAllString(current, rule.Replace)
		if next != current {
			// Rewrites may introduce characters outside the key charset;
			// re-fold so the output stays canonical.
			current = Normalize(next)
			trace.AppliedRules = append(trace.AppliedRules, rule.Name)
		}
	}

	trace.Normalized = current
	return current, trace
}

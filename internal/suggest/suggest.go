// Package suggest finds the registered name closest to a mistyped one, for
// "did you mean" hints on unknown module kinds and worldgen names.
//
// Names are split into tokens on any non-alphanumeric rune, so
// "simple_square" and "simple-sqare" compare token by token. Ranking works in
// two stages:
//
//  1. Phonetic candidates: names sharing a Double Metaphone code with the
//     input are accepted at a lower Jaro-Winkler threshold (default 0.70).
//
//  2. Fuzzy fallback: when no phonetic candidate exists, the best plain
//     Jaro-Winkler score must reach the fuzzy threshold (default 0.85).
package suggest

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum score for phonetic candidates.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum score for non-phonetic candidates.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher ranks candidate names against a query. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

var defaultMatcher = New()

// Closest returns the candidate most similar to name using the default
// thresholds. ok is false when nothing is close enough or name is itself a
// candidate.
func Closest(name string, candidates []string) (string, bool) {
	return defaultMatcher.Closest(name, candidates)
}

// Hint formats the result of [Closest] as a suffix for error messages:
// `; did you mean "x"?` or the empty string.
func Hint(name string, candidates []string) string {
	if s, ok := Closest(name, candidates); ok {
		return "; did you mean \"" + s + "\"?"
	}
	return ""
}

// Closest returns the candidate most similar to name.
func (m *Matcher) Closest(name string, candidates []string) (string, bool) {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" || len(candidates) == 0 {
		return "", false
	}
	queryTokens := tokens(query)
	queryCodes := codesForTokens(queryTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, c := range candidates {
		lower := strings.ToLower(c)
		if lower == query {
			return "", false
		}
		candTokens := tokens(lower)
		score := similarity(queryTokens, candTokens, query, lower)

		if codesOverlap(queryCodes, codesForTokens(candTokens)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = c, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, best != ""
}

func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity takes the highest Jaro-Winkler score over the full strings and
// the token-concatenated strings. The single-token score only applies when
// neither side has more than one token.
func similarity(queryTokens, candTokens []string, query, cand string) float64 {
	score := matchr.JaroWinkler(query, cand, false)

	if s := matchr.JaroWinkler(strings.Join(queryTokens, ""), strings.Join(candTokens, ""), false); s > score {
		score = s
	}
	if len(queryTokens) == 1 && len(candTokens) == 1 {
		if s := matchr.JaroWinkler(queryTokens[0], candTokens[0], false); s > score {
			score = s
		}
	}
	return score
}

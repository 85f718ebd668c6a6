// Package trigger resolves the leading phrase of a user message to a
// configured backend model.
//
// Matching is deterministic longest-prefix: triggers are compared
// case-insensitively against the start of the message, longest trigger
// first, and a match only counts when the trigger is followed by a
// non-alphanumeric rune (so "gptx ..." does not hit the "gpt" trigger).
package trigger

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// remainderCutset is trimmed from the left of the text that follows a
// matched trigger: whitespace plus the separator punctuation users type
// between trigger and query ("gpt: hello", "gpt, hello", "gpt - hello").
const remainderCutset = " \t,.:;|/-"

// clearSynonyms are the phrases that mean "reset this backend's context",
// in English and Russian.
var clearSynonyms = map[string]bool{
	"clear context":     true,
	"clear":             true,
	"reset":             true,
	"очистить контекст": true,
	"очистить":          true,
	"сброс":             true,
}

// Match is the result of resolving a trigger prefix.
type Match struct {
	Trigger   string // lower-cased trigger phrase that matched
	Backend   string // backend model identifier
	Remainder string // original-case text after the trigger, left-trimmed
}

// Registry holds the immutable trigger → backend mapping. Safe for
// concurrent reads after construction.
type Registry struct {
	byTrigger map[string]string
	ordered   []string // triggers sorted by descending length
}

// NewRegistry builds a registry from trigger-set → backend pairs.
// A trigger appearing in two sets with different backends is a
// configuration error and fails fast.
func NewRegistry(sets map[string][]string) (*Registry, error) {
	byTrigger := make(map[string]string)
	for backend, triggers := range sets {
		for _, t := range triggers {
			key := strings.ToLower(strings.TrimSpace(t))
			if key == "" {
				return nil, fmt.Errorf("backend %q has an empty trigger", backend)
			}
			if prev, ok := byTrigger[key]; ok && prev != backend {
				return nil, fmt.Errorf("trigger %q is mapped to both %q and %q", key, prev, backend)
			}
			byTrigger[key] = backend
		}
	}

	ordered := make([]string, 0, len(byTrigger))
	for t := range byTrigger {
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if len(ordered[i]) != len(ordered[j]) {
			return len(ordered[i]) > len(ordered[j])
		}
		return ordered[i] < ordered[j]
	})

	return &Registry{byTrigger: byTrigger, ordered: ordered}, nil
}

// Match resolves the leading trigger of text. The second return value is
// false when no trigger matches — that is not an error, the message is
// simply not addressed to the bot.
func (r *Registry) Match(text string) (Match, bool) {
	if text == "" {
		return Match{}, false
	}

	for _, trig := range r.ordered {
		n := foldPrefixLen(text, trig)
		if n < 0 {
			continue
		}
		if n < len(text) {
			next, _ := utf8.DecodeRuneInString(text[n:])
			if unicode.IsLetter(next) || unicode.IsDigit(next) {
				continue
			}
		}
		return Match{
			Trigger:   trig,
			Backend:   r.byTrigger[trig],
			Remainder: strings.TrimLeft(text[n:], remainderCutset),
		}, true
	}
	return Match{}, false
}

// foldPrefixLen reports the byte length of the prefix of text that matches
// trig case-insensitively, comparing rune by rune, or -1 when text does not
// start with trig. The offset is computed against text itself: lowercasing
// can change a rune's byte length (İ), so offsets into a lowered copy are
// not safe.
func foldPrefixLen(text, trig string) int {
	n := 0
	for _, tr := range trig {
		r, size := utf8.DecodeRuneInString(text[n:])
		if size == 0 || unicode.ToLower(r) != tr {
			return -1
		}
		n += size
	}
	return n
}

// Resolve maps a trigger phrase or a backend model name (case-insensitive)
// to the backend identifier. Used by the /clear command, which accepts both.
func (r *Registry) Resolve(nameOrTrigger string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(nameOrTrigger))
	if backend, ok := r.byTrigger[key]; ok {
		return backend, true
	}
	for _, backend := range r.byTrigger {
		if strings.EqualFold(backend, key) {
			return backend, true
		}
	}
	return "", false
}

// Triggers returns all triggers for one backend, sorted.
func (r *Registry) Triggers(backend string) []string {
	var out []string
	for t, b := range r.byTrigger {
		if b == backend {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Backends returns the distinct backend identifiers, sorted.
func (r *Registry) Backends() []string {
	seen := make(map[string]bool)
	var out []string
	for _, b := range r.byTrigger {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

// IsClearCommand reports whether the remainder of a matched trigger is a
// context-reset request ("clear", "сброс", "reset.", ...).
func IsClearCommand(remainder string) bool {
	s := strings.ToLower(strings.TrimSpace(remainder))
	s = strings.Trim(s, ",. \t")
	return clearSynonyms[s]
}

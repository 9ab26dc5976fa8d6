// Package safety softens forbidden words in generated lines to PG-13 equivalents.
package safety

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// DefaultReplacements is the PG-13 word map applied to every spoken line.
var DefaultReplacements = map[string]string{
	"damn":    "darn",
	"damned":  "darned",
	"dammit":  "dang it",
	"shit":    "shoot",
	"shitty":  "crummy",
	"ass":     "butt",
	"hell":    "heck",
	"crap":    "crud",
	"bastard": "rascal",
	"pissed":  "ticked",
}

var defaultFilter = MustNew(DefaultReplacements)

var tokenPattern = regexp.MustCompile(`\S+`)

// Filter replaces forbidden whitespace-delimited tokens. A Filter is immutable
// and safe for concurrent use.
type Filter struct {
	replacements map[string]string
}

// New builds a Filter. Keys are matched case-insensitively. A replacement may
// not itself contain a forbidden word, otherwise Sanitize would not be idempotent.
func New(replacements map[string]string) (*Filter, error) {
	m := make(map[string]string, len(replacements))
	for k, v := range replacements {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		m[k] = v
	}
	for k, v := range m {
		for _, word := range strings.Fields(v) {
			if _, bad := m[strings.ToLower(trimPunct(word))]; bad {
				return nil, fmt.Errorf("replacement %q for %q contains forbidden word %q", v, k, word)
			}
		}
	}
	return &Filter{replacements: m}, nil
}

// MustNew is New that panics on an invalid map.
func MustNew(replacements map[string]string) *Filter {
	f, err := New(replacements)
	if err != nil {
		panic(err)
	}
	return f
}

// Sanitize applies DefaultReplacements.
func Sanitize(text string) string {
	return defaultFilter.Sanitize(text)
}

// Sanitize returns text with every forbidden token replaced exactly once.
// Whitespace and all other tokens are left byte-for-byte intact.
func (f *Filter) Sanitize(text string) string {
	if f == nil || len(f.replacements) == 0 || text == "" {
		return text
	}
	return tokenPattern.ReplaceAllStringFunc(text, f.replaceToken)
}

func (f *Filter) replaceToken(token string) string {
	start := strings.IndexFunc(token, isWordRune)
	if start < 0 {
		return token
	}
	end := strings.LastIndexFunc(token, isWordRune)
	core := token[start : end+1]
	repl, ok := f.replacements[strings.ToLower(core)]
	if !ok {
		return token
	}
	return token[:start] + matchCase(core, repl) + token[end+1:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool { return !isWordRune(r) })
}

// matchCase copies the capitalisation style of word onto repl.
func matchCase(word, repl string) string {
	switch {
	case len(word) > 1 && word == strings.ToUpper(word):
		return strings.ToUpper(repl)
	case startsUpper(word):
		r := []rune(repl)
		if len(r) > 0 {
			r[0] = unicode.ToUpper(r[0])
		}
		return string(r)
	default:
		return repl
	}
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}

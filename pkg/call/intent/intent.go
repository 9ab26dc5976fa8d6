// Package intent maps one user utterance to the action the director takes.
package intent

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/call/scene"
)

// Kind is the closed set of intents.
type Kind int

const (
	SmallTalk Kind = iota
	EndCall
	AskHandoff
	CreateAgent
	LowerBackground
	TalkDefault
)

func (k Kind) String() string {
	switch k {
	case EndCall:
		return "end_call"
	case AskHandoff:
		return "ask_handoff"
	case CreateAgent:
		return "create_agent"
	case LowerBackground:
		return "lower_bg"
	case TalkDefault:
		return "talk_default"
	default:
		return "smalltalk"
	}
}

// DefaultVibe is used when a create request names nobody's personality.
const DefaultVibe = "casual, friendly acquaintance"

// Intent is the classifier result. Target is set for AskHandoff; AgentID and
// Vibe for CreateAgent.
type Intent struct {
	Kind    Kind
	Target  string
	AgentID string
	Vibe    string
}

// Roster is what the classifier needs to know about the call.
type Roster interface {
	StopWords() []string
	Triggers() []scene.Trigger
	Foreground() string
	DefaultCharacter() string
	// Resolve maps a spoken name or nickname to a known character id.
	Resolve(name string) (string, bool)
	Nicknames(id string) []string
}

var (
	endCallPhrases = []string{"hang up", "goodbye", "bye", "end call", "end the call"}
	quietPhrases   = []string{
		"quiet", "quieter", "too loud", "turn it down",
		"lower the background", "less noise", "keep it down",
	}

	talkRequest = regexp.MustCompile(`\b(?:talk|speak|chat)\s+(?:to|with)\s+`)
	putRequest  = regexp.MustCompile(`\bput\s+([^,.!?;:]+?)\s+(?:on|through)\b`)
	getRequest  = regexp.MustCompile(`\b(?:get|grab)\s+`)
)

var determiners = map[string]bool{"my": true, "the": true, "your": true, "our": true}

var pronouns = map[string]bool{
	"you": true, "him": true, "her": true, "them": true, "me": true, "us": true,
	"someone": true, "somebody": true, "anyone": true, "anybody": true,
	"everyone": true, "everybody": true, "whoever": true, "it": true,
}

// Words that end the name part of "talk to <name> ...".
var nameStops = map[string]bool{
	"about": true, "for": true, "who": true, "that": true, "and": true,
	"because": true, "if": true, "when": true, "so": true, "real": true,
	"right": true, "again": true, "please": true, "now": true, "instead": true,
}

const maxNameWords = 3

// Classify applies the fixed precedence EndCall > AskHandoff > CreateAgent >
// LowerBackground > TalkDefault > SmallTalk. It is total and deterministic.
func Classify(text string, roster Roster) Intent {
	norm := normalize(text)
	if norm == "" {
		return Intent{Kind: SmallTalk}
	}

	if matchesAny(norm, endCallPhrases) || matchesAny(norm, roster.StopWords()) {
		return Intent{Kind: EndCall}
	}

	req := findRequest(norm, roster)
	if req.target != "" {
		return Intent{Kind: AskHandoff, Target: req.target}
	}

	scan := norm
	if req.unknown != "" {
		scan = mask(norm, req.start, req.end)
	}
	if target, ok := triggerTarget(scan, roster); ok {
		return Intent{Kind: AskHandoff, Target: target}
	}

	if req.unknown != "" {
		vibe := req.vibe
		if vibe == "" {
			vibe = DefaultVibe
		}
		return Intent{Kind: CreateAgent, AgentID: req.unknown, Vibe: vibe}
	}

	if matchesAny(norm, quietPhrases) {
		return Intent{Kind: LowerBackground}
	}

	def := roster.DefaultCharacter()
	if def != "" {
		names := append([]string{def}, roster.Nicknames(def)...)
		if matchesAny(norm, names) {
			return Intent{Kind: TalkDefault, Target: def}
		}
	}

	return Intent{Kind: SmallTalk}
}

type request struct {
	target string

	// unknown is the normalised id of a "talk to <name>" request naming
	// nobody the roster knows; start and end delimit the request.
	unknown    string
	vibe       string
	start, end int
}

func findRequest(text string, roster Roster) request {
	if loc := talkRequest.FindStringIndex(text); loc != nil {
		head, vibe, headEnd := splitClause(text[loc[1]:])
		words := nameWords(head)
		if id, ok := resolvePrefix(words, roster); ok {
			return request{target: id}
		}
		if name := unknownName(words); name != "" {
			if id := persona.NormalizeID(name); id != "" {
				return request{
					unknown: id,
					vibe:    vibe,
					start:   loc[0],
					end:     loc[1] + headEnd,
				}
			}
		}
	}
	if m := putRequest.FindStringSubmatch(text); m != nil {
		if id, ok := resolvePrefix(nameWords(m[1]), roster); ok {
			return request{target: id}
		}
	}
	if loc := getRequest.FindStringIndex(text); loc != nil {
		head, _, _ := splitClause(text[loc[1]:])
		if id, ok := resolvePrefix(nameWords(head), roster); ok {
			return request{target: id}
		}
	}
	return request{}
}

// splitClause cuts s at the first clause punctuation. A comma introduces a
// vibe description.
func splitClause(s string) (head, vibe string, headEnd int) {
	i := strings.IndexAny(s, ",.!?;:")
	if i < 0 {
		return s, "", len(s)
	}
	head = s[:i]
	if s[i] == ',' {
		vibe = strings.TrimSpace(strings.TrimRight(s[i+1:], ".!?;: "))
	}
	return head, vibe, i
}

func nameWords(head string) []string {
	words := strings.Fields(head)
	for len(words) > 0 && determiners[words[0]] {
		words = words[1:]
	}
	for i, w := range words {
		if nameStops[w] {
			return words[:i]
		}
	}
	return words
}

// resolvePrefix tries the longest leading run of words first so
// "uncle joe" wins over "uncle" when both are known.
func resolvePrefix(words []string, roster Roster) (string, bool) {
	for n := min(len(words), maxNameWords); n > 0; n-- {
		if id, ok := roster.Resolve(strings.Join(words[:n], " ")); ok {
			return id, true
		}
	}
	return "", false
}

func unknownName(words []string) string {
	if len(words) == 0 || len(words) > maxNameWords || pronouns[words[0]] {
		return ""
	}
	return strings.Join(words, " ")
}

// triggerTarget scans the triggers leaving the current foreground in
// configuration order. Triggers from other characters do not fire.
func triggerTarget(text string, roster Roster) (string, bool) {
	fg := roster.Foreground()
	for _, tr := range roster.Triggers() {
		if tr.From != fg {
			continue
		}
		if matchesAny(text, tr.WhenUserMentions) {
			return tr.To, true
		}
	}
	return "", false
}

func normalize(s string) string {
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(s)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func matchesAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(text, normalize(p)) {
			return true
		}
	}
	return false
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], phrase)
		if i < 0 {
			return false
		}
		start := off + i
		end := start + len(phrase)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		off = start + size
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func mask(s string, start, end int) string {
	return s[:start] + strings.Repeat(" ", end-start) + s[end:]
}

package director

import (
	"fmt"
	"strings"

	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/call/scene"
)

// CharacterPrompt is the base instruction for every character line.
const CharacterPrompt = `You are <character>. Stay strictly in persona.

Style: contractions, short sentences, casual, warm, PG-13, minimal filler. No politics or advice. Use universal, low-stakes details only. For handoffs, include a brief affectionate line if appropriate. Return plain text of at most 7 seconds of speech. If asked for someone else, acknowledge and keep it short.
`

// DirectorPrompt documents the plan contract for an LLM-driven director.
// make-agents writes it next to the character prompt.
const DirectorPrompt = `You are the Scene Director for a simulated family group call.

**Objectives**
- Natural handoffs, light overlaps (<=600ms), warm tone, PG-13.
- Obey scene rules: must-hit lines and handoff triggers.
- Keep *one* foreground speaker; others may do brief, short asides.

**Handoff plan when user asks for someone**
1) Foreground filler by current speaker (<=3s).
2) Brief off-mic background shout to target.
3) New speaker entrance within 4-8 seconds.

**Output JSON only**
{
  "foreground": {"speaker": "<id>", "line": "<speakable text <=7s>", "transcript": "<text>"},
  "background": [{"speaker":"<id>","line":"<very short>","proximity":"near|far"}],
  "controls": {"ducking_db": -14, "overlap_ms": 350, "handoff_to": "<id|none>"}
}

Constraints: natural, affectionate, no advice, no real-world claims about the user. Keep lines short and speakable. If user says a stop word, return {"controls":{"end_call":true}}.
`

type promptInput struct {
	persona  persona.Persona
	safety   scene.Safety
	mustHit  []string
	entrance bool
	preamble string
}

func buildCharacterPrompt(in promptInput) string {
	p := in.persona
	var b strings.Builder

	preamble := in.preamble
	if preamble == "" {
		preamble = CharacterPrompt
	}
	who := p.ID
	if p.Archetype != "" {
		who = fmt.Sprintf("%s, %s", p.ID, p.Archetype)
	}
	b.WriteString(strings.Replace(preamble, "<character>", who, 1))
	b.WriteString("\n")

	if p.Relationship.ToUser != "" {
		fmt.Fprintf(&b, "The caller is %s to you.", p.Relationship.ToUser)
		if len(p.Relationship.Nicknames) > 0 {
			fmt.Fprintf(&b, " You call them %s.", joinQuoted(p.Relationship.Nicknames))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Your manner: politeness %s, pace %s, asides %s.\n",
		p.Style.Politeness, p.Style.Pace, p.Style.Asides)
	if len(p.Signature) > 0 {
		fmt.Fprintf(&b, "Signature phrases: %s.\n", joinQuoted(p.Signature))
	}
	if len(p.Smalltalk) > 0 {
		fmt.Fprintf(&b, "Things you might bring up: %s.\n", joinQuoted(p.Smalltalk))
	}

	limits := append([]string{}, p.Boundaries...)
	if in.safety.PG13 {
		limits = append(limits, "keep everything PG-13")
	}
	for _, topic := range in.safety.BlockedTopics {
		limits = append(limits, "never discuss "+topic)
	}
	if len(limits) > 0 {
		fmt.Fprintf(&b, "Boundaries: %s.\n", strings.Join(limits, "; "))
	}

	if in.entrance && len(p.Entrances) > 0 {
		fmt.Fprintf(&b, "You just got handed the phone. Open the way you usually do, e.g. %s.\n", joinQuoted(p.Entrances))
	}
	for _, hint := range in.mustHit {
		fmt.Fprintf(&b, "Work this in naturally: %q\n", hint)
	}
	return b.String()
}

func handoffRequest(target string) string {
	return fmt.Sprintf("The user wants to talk to %s. Let them know you're getting them.", target)
}

func joinQuoted(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, s := range items {
		quoted = append(quoted, fmt.Sprintf("%q", s))
	}
	return strings.Join(quoted, ", ")
}

// Package persona defines character records and how they are built, stored
// and cached.
package persona

import "slices"

// Persona is a character's personality record. JSON names match the agent
// files written by make-agents.
type Persona struct {
	ID           string       `json:"id"`
	Archetype    string       `json:"archetype"`
	Signature    []string     `json:"signature"`
	Style        Style        `json:"style"`
	Boundaries   []string     `json:"boundaries"`
	Relationship Relationship `json:"relationship"`
	Entrances    []string     `json:"entrances"`
	HandoffLines []string     `json:"handoff_lines"`
	Smalltalk    []string     `json:"smalltalk"`
	Goodbyes     []string     `json:"goodbyes"`
}

type Style struct {
	Politeness string `json:"politeness"`
	Pace       string `json:"pace"`
	Asides     string `json:"asides"`
}

type Relationship struct {
	ToUser    string   `json:"to_user"`
	Nicknames []string `json:"nicknames"`
}

const DefaultVibe = "casual, friendly acquaintance"

// DefaultBoundaries apply to every generated persona.
var DefaultBoundaries = []string{"no politics", "no medical or financial advice", "PG-13 only"}

// Default is the persona used when generation fails or returns nothing
// usable.
func Default(id, vibe string) Persona {
	if vibe == "" {
		vibe = DefaultVibe
	}
	return Persona{
		ID:           id,
		Archetype:    vibe,
		Signature:    []string{},
		Style:        Style{Politeness: "casual", Pace: "medium", Asides: "light"},
		Boundaries:   slices.Clone(DefaultBoundaries),
		Relationship: Relationship{ToUser: "acquaintance", Nicknames: []string{}},
		Entrances:    []string{"Hey, I'm here."},
		HandoffLines: []string{"One second, I'll go get them."},
		Smalltalk:    []string{"How's it going?"},
		Goodbyes:     []string{"Okay, talk soon.", "Alright, I'll let you go."},
	}
}

// Normalized fills empty fields from Default so the record always
// round-trips with arrays rather than nulls.
func (p Persona) Normalized() Persona {
	def := Default(p.ID, p.Archetype)
	if p.Archetype == "" {
		p.Archetype = def.Archetype
	}
	if p.Style.Politeness == "" {
		p.Style.Politeness = def.Style.Politeness
	}
	if p.Style.Pace == "" {
		p.Style.Pace = def.Style.Pace
	}
	if p.Style.Asides == "" {
		p.Style.Asides = def.Style.Asides
	}
	if p.Relationship.ToUser == "" {
		p.Relationship.ToUser = def.Relationship.ToUser
	}
	p.Signature = orEmpty(p.Signature, nil)
	p.Relationship.Nicknames = orEmpty(p.Relationship.Nicknames, nil)
	p.Boundaries = orEmpty(p.Boundaries, def.Boundaries)
	p.Entrances = orEmpty(p.Entrances, def.Entrances)
	p.HandoffLines = orEmpty(p.HandoffLines, def.HandoffLines)
	p.Smalltalk = orEmpty(p.Smalltalk, def.Smalltalk)
	p.Goodbyes = orEmpty(p.Goodbyes, def.Goodbyes)
	return p
}

func orEmpty(v, fallback []string) []string {
	out := make([]string, 0, len(v))
	for _, s := range v {
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 && fallback != nil {
		return slices.Clone(fallback)
	}
	return out
}

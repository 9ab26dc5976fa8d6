package persona

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ScaffoldEntry is one seed persona in agents/_scaffold.yaml.
type ScaffoldEntry struct {
	ID        string   `yaml:"id"`
	Vibe      string   `yaml:"vibe"`
	Anchors   []string `yaml:"anchors"`
	Nicknames []string `yaml:"nicknames"`
}

type scaffoldFile struct {
	Personas []ScaffoldEntry `yaml:"personas"`
}

// LoadScaffold reads the seed list. Entries without an id are dropped.
func LoadScaffold(path string) ([]ScaffoldEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaffold: %w", err)
	}
	var f scaffoldFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode scaffold: %w", err)
	}
	out := make([]ScaffoldEntry, 0, len(f.Personas))
	for _, e := range f.Personas {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("scaffold %s has no personas", path)
	}
	return out, nil
}

type role int

const (
	roleGeneric role = iota
	roleMother
	roleBrother
	roleUncle
	roleKid
)

func roleFor(id string) role {
	switch {
	case strings.Contains(id, "mom"), strings.Contains(id, "mother"):
		return roleMother
	case strings.Contains(id, "brother"):
		return roleBrother
	case strings.Contains(id, "uncle"):
		return roleUncle
	case strings.Contains(id, "kid"):
		return roleKid
	default:
		return roleGeneric
	}
}

// FromScaffold expands a seed entry using role defaults keyed off the id.
func FromScaffold(e ScaffoldEntry) Persona {
	id := strings.TrimSpace(e.ID)
	r := roleFor(id)
	anchors := e.Anchors
	nicknames := slices.Clone(e.Nicknames)
	if nicknames == nil {
		nicknames = []string{}
	}

	p := Persona{
		ID:           id,
		Archetype:    archetypeFor(r, e.Vibe),
		Signature:    append([]string{}, anchors[:min(4, len(anchors))]...),
		Style:        styleFor(r),
		Boundaries:   slices.Clone(DefaultBoundaries),
		Relationship: Relationship{ToUser: "their adult child", Nicknames: nicknames},
		Entrances:    []string{entranceFor(r, anchors)},
		HandoffLines: []string{handoffLineFor(r)},
		Smalltalk:    smalltalkFor(r),
		Goodbyes: []string{
			"Okay, love you, talk soon.",
			"Alright, I'll let you go. Eat something real, okay?",
		},
	}
	if r == roleBrother {
		p.Relationship.ToUser = "younger sibling"
		if len(p.Relationship.Nicknames) == 0 {
			p.Relationship.Nicknames = []string{"broham"}
		}
	}
	return p
}

func archetypeFor(r role, vibe string) string {
	switch r {
	case roleMother:
		return "warm, slightly nosy Midwestern mom"
	case roleBrother:
		return "rowdy but loving older brother"
	case roleUncle:
		return "dad-jokey relative with sports takes"
	case roleKid:
		return "excited kid with short attention span"
	}
	if v := strings.ToLower(strings.TrimSpace(vibe)); v != "" {
		return v
	}
	return DefaultVibe
}

func styleFor(r role) Style {
	switch r {
	case roleMother:
		return Style{Politeness: "high", Pace: "medium", Asides: "gentle"}
	case roleBrother:
		return Style{Politeness: "casual", Pace: "fast", Asides: "blurted"}
	case roleUncle:
		return Style{Politeness: "casual", Pace: "medium", Asides: "muttered"}
	case roleKid:
		return Style{Politeness: "casual", Pace: "fast", Asides: "excited"}
	default:
		return Style{Politeness: "casual", Pace: "medium", Asides: "light"}
	}
}

func smalltalkFor(r role) []string {
	switch r {
	case roleMother:
		return []string{"How's work treating you?", "Did you get enough sleep?", "I found that casserole recipe you liked."}
	case roleBrother:
		return []string{"You still lifting or just lifting snacks?", "You catch the game?", "I'm making wings, don't judge me."}
	case roleUncle:
		return []string{"How 'bout them Lions?", "Anyone want more chips?", "This remote is haunted."}
	case roleKid:
		return []string{"Where's the charger?", "Can I show you something?", "I didn't touch it!"}
	default:
		return []string{"How's your week?", "All good on your end?"}
	}
}

func entranceFor(r role, anchors []string) string {
	switch r {
	case roleMother:
		return "Oh hi, sweetie! We've got everyone here. Jared, not on the cushions! Okay, I'm back."
	case roleBrother:
		return "Broham, what it be?! Hey, put that down. Sorry, okay I'm here."
	}
	if len(anchors) > 0 {
		return anchors[0] + " Okay, I'm here."
	}
	return "Hey! Okay, I'm here."
}

// TargetPlaceholder in a handoff line is replaced with the name of the
// character being handed the phone.
const TargetPlaceholder = "{target}"

func handoffLineFor(r role) string {
	switch r {
	case roleMother:
		return "Just a sec, I'll grab " + TargetPlaceholder + ". Love you, are you eating ok?"
	case roleBrother:
		return "Yo, " + TargetPlaceholder + "! Phone's for you. Okay, hold up."
	default:
		return "One sec, I'll grab " + TargetPlaceholder + " for you."
	}
}

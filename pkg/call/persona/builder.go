package persona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"golang.org/x/sync/singleflight"

	"github.com/vango-go/partyline/pkg/core/textgen"
)

const DefaultBuildTimeout = 8 * time.Second

const buildInstruction = `You are a creative writer. Your task is to generate a detailed character persona based on a short "vibe" description.
The user will provide a vibe, and you must return a JSON object with the following keys: "archetype", "smalltalk", "nicknames", "entrances", and "handoff_lines".

Example vibe: "a grumpy old man who loves to complain about the weather"
Example output:
{
  "archetype": "a grumpy old man who loves to complain about the weather",
  "smalltalk": ["Here we go with the rain again.", "My joints are aching, must be a storm coming."],
  "nicknames": ["old timer", "grumpy"],
  "entrances": ["Alright, what's all this racket?", "Don't mind me, just here to complain."],
  "handoff_lines": ["Fine, I'll go get them.", "Yeah, yeah, I'm going."]
}

Return JSON only. No markdown, no commentary.`

type generatedDetails struct {
	Archetype    string   `json:"archetype"`
	Smalltalk    []string `json:"smalltalk"`
	Nicknames    []string `json:"nicknames"`
	Entrances    []string `json:"entrances"`
	HandoffLines []string `json:"handoff_lines"`
}

// Builder synthesizes personas from a vibe and persists them once.
type Builder struct {
	gen     textgen.Generator
	store   Store
	logger  *slog.Logger
	timeout time.Duration

	// OnCreate, when set, runs after a new persona is saved.
	OnCreate func(id string)

	group singleflight.Group
}

func NewBuilder(gen textgen.Generator, store Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{gen: gen, store: store, logger: logger, timeout: DefaultBuildTimeout}
}

// WithTimeout sets the generation budget.
func (b *Builder) WithTimeout(d time.Duration) *Builder {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// BuildPersona asks the generator for persona details. Malformed output is
// repaired when possible; otherwise the default persona is returned.
func (b *Builder) BuildPersona(ctx context.Context, id, vibe string) Persona {
	vibe = strings.TrimSpace(vibe)
	if vibe == "" {
		vibe = DefaultVibe
	}
	if b.gen == nil {
		return Default(id, vibe)
	}

	genCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	raw, err := b.gen.Generate(genCtx, buildInstruction, fmt.Sprintf("Vibe: %q", vibe))
	if err != nil {
		b.logger.Warn("persona generation failed", "persona_id", id, "error", err)
		return Default(id, vibe)
	}

	details, err := parseDetails(raw)
	if err != nil {
		b.logger.Warn("persona output malformed", "persona_id", id, "error", err)
		return Default(id, vibe)
	}
	return fromDetails(id, vibe, details)
}

// CreateIfAbsent returns the stored persona for id, building and saving one
// only when none exists. Concurrent calls for the same id share one build.
func (b *Builder) CreateIfAbsent(ctx context.Context, id, vibe string) (Persona, bool, error) {
	if !ValidID(id) {
		return Persona{}, false, fmt.Errorf("%w: %q", ErrInvalid, id)
	}
	if p, err := b.store.Load(ctx, id); err == nil {
		return p, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Persona{}, false, err
	}

	type result struct {
		p       Persona
		created bool
	}
	v, err, _ := b.group.Do(id, func() (any, error) {
		if p, err := b.store.Load(ctx, id); err == nil {
			return result{p: p}, nil
		}
		p := b.BuildPersona(ctx, id, vibe)
		err := b.store.Save(ctx, p, SaveOptions{})
		switch {
		case err == nil:
			b.logger.Info("persona created", "persona_id", id)
			if b.OnCreate != nil {
				b.OnCreate(id)
			}
			return result{p: p, created: true}, nil
		case errors.Is(err, ErrExists):
			existing, lerr := b.store.Load(ctx, id)
			if lerr != nil {
				return nil, lerr
			}
			return result{p: existing}, nil
		default:
			return result{p: p}, err
		}
	})
	if err != nil {
		if r, ok := v.(result); ok {
			return r.p, false, err
		}
		return Persona{}, false, err
	}
	r := v.(result)
	return r.p, r.created, nil
}

func parseDetails(raw string) (generatedDetails, error) {
	text := stripFences(raw)
	var d generatedDetails
	if err := json.Unmarshal([]byte(text), &d); err == nil {
		return d, nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return generatedDetails{}, err
	}
	if err := json.Unmarshal([]byte(repaired), &d); err != nil {
		return generatedDetails{}, err
	}
	return d, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func fromDetails(id, vibe string, d generatedDetails) Persona {
	p := Default(id, vibe)
	if a := strings.TrimSpace(d.Archetype); a != "" {
		p.Archetype = a
	}
	p.Relationship.Nicknames = d.Nicknames
	p.Entrances = d.Entrances
	p.HandoffLines = d.HandoffLines
	p.Smalltalk = d.Smalltalk
	return p.Normalized()
}

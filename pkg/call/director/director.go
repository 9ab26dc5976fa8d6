// Package director runs one orchestration step per user utterance: classify
// the utterance, update the scene cursor, produce a line through the text
// generator and hand the result to the composer.
package director

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/vango-go/partyline/pkg/call/compose"
	"github.com/vango-go/partyline/pkg/call/intent"
	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/call/plan"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/core/textgen"
	"github.com/vango-go/partyline/pkg/observability"
)

const (
	DefaultGenerationTimeout = 8 * time.Second
	DefaultStoreTimeout      = 2 * time.Second
)

// Fallback lines used when generation is unavailable.
const (
	FallbackLine        = "We're here! Can you hear us?"
	FallbackReply       = "Sorry, you cut out for a second. What was that?"
	FallbackHandoffLine = "One sec, I'll grab them for you."
	UnknownSpeakerLine  = "Hang on, who is this? Say that again?"
)

// Deps are the collaborators shared by every call. Only Composer is
// required.
type Deps struct {
	Generator textgen.Generator
	Personas  persona.Store
	Builder   *persona.Builder
	Composer  *compose.Composer

	// CharacterPreamble replaces CharacterPrompt when non-empty.
	CharacterPreamble string

	GenerationTimeout time.Duration
	StoreTimeout      time.Duration
	Logger            *slog.Logger
	Metrics           *observability.Metrics
	Now               func() time.Time
}

// Director owns one call's scene state. It is not safe for concurrent use;
// callers serialize steps per call.
type Director struct {
	deps    Deps
	state   *scene.State
	started time.Time
	turns   int

	// adhoc holds personas created during this call that could not be
	// persisted.
	adhoc map[string]persona.Persona
}

func New(st *scene.State, deps Deps) *Director {
	if deps.Composer == nil {
		deps.Composer = compose.New(compose.Config{Logger: deps.Logger, Metrics: deps.Metrics})
	}
	if deps.GenerationTimeout <= 0 {
		deps.GenerationTimeout = DefaultGenerationTimeout
	}
	if deps.StoreTimeout <= 0 {
		deps.StoreTimeout = DefaultStoreTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Director{
		deps:    deps,
		state:   st,
		started: deps.Now(),
		adhoc:   make(map[string]persona.Persona),
	}
}

// State exposes the call's scene state.
func (d *Director) State() *scene.State {
	return d.state
}

// Step processes one user utterance and returns the plan for the turn. It
// always returns a plan; collaborator failures degrade to fallback lines.
func (d *Director) Step(ctx context.Context, userText string) plan.Plan {
	start := d.deps.Now()
	st := d.state
	d.turns++
	st.Cursor.LastUserText = userText

	in := intent.Classify(userText, d.roster(ctx))
	defer func() {
		elapsed := d.deps.Now().Sub(start)
		d.deps.Metrics.ObserveStep(in.Kind.String(), elapsed)
		d.deps.Logger.Debug("step",
			"intent", in.Kind.String(),
			"target", in.Target,
			"foreground", st.Cursor.Foreground,
			"stage", string(st.Cursor.Stage),
			"duration_ms", elapsed.Milliseconds(),
		)
	}()

	var target string
	switch in.Kind {
	case intent.EndCall:
		return plan.EndCall()
	case intent.AskHandoff:
		target = in.Target
		st.RegisterBackground(target)
	case intent.CreateAgent:
		target = d.ensurePersona(ctx, in.AgentID, in.Vibe)
	case intent.LowerBackground:
		st.LowerBackground()
	}

	if target != "" && target != st.Cursor.Foreground {
		return d.handoff(ctx, target)
	}

	previous := st.Cursor.Stage
	switch previous {
	case scene.StageGreeting, scene.StageForegroundTalk, scene.StageHandoff:
		st.Cursor.Stage = scene.StageForegroundTalk
	default:
		d.deps.Logger.Warn("unknown stage", "stage", string(previous))
		return d.deps.Composer.PackPlan(ctx, st.Cursor.Foreground, FallbackLine, st, "")
	}

	speaker := st.Cursor.Foreground
	line := d.reply(ctx, speaker, userText, previous == scene.StageHandoff)
	return d.deps.Composer.PackPlan(ctx, speaker, line, st, "")
}

func (d *Director) roster(ctx context.Context) intent.SceneRoster {
	return intent.SceneRoster{
		State: d.state,
		Persisted: func(id string) bool {
			if _, ok := d.adhoc[id]; ok {
				return true
			}
			if d.deps.Personas == nil || !persona.ValidID(id) {
				return false
			}
			lctx, cancel := context.WithTimeout(ctx, d.deps.StoreTimeout)
			defer cancel()
			_, err := d.deps.Personas.Load(lctx, id)
			return err == nil
		},
	}
}

// ensurePersona makes id a known character, creating its persona when
// none exists. It returns the id to hand off to.
func (d *Director) ensurePersona(ctx context.Context, id, vibe string) string {
	st := d.state
	if vibe == "" {
		vibe = persona.DefaultVibe
	}
	st.Note(vibeKey(id), vibe)
	if st.RegisterBackground(id) {
		d.deps.Logger.Info("character joined", "character", id)
	}

	if d.deps.Builder == nil {
		d.adhoc[id] = persona.Default(id, vibe)
		return id
	}
	p, created, err := d.deps.Builder.CreateIfAbsent(ctx, id, vibe)
	if err != nil {
		d.deps.Logger.Warn("persona not persisted", "character", id, "error", err)
		if p.ID == "" {
			p = persona.Default(id, vibe)
		}
		d.adhoc[id] = p
		return id
	}
	d.deps.Logger.Debug("persona ready", "character", id, "created", created)
	return id
}

func (d *Director) handoff(ctx context.Context, target string) plan.Plan {
	st := d.state
	speaker := st.Cursor.Foreground
	st.Cursor.Stage = scene.StageHandoff

	line := d.handoffLine(ctx, speaker, target)
	st.Cursor.Foreground = target
	d.deps.Metrics.Handoff()
	d.deps.Logger.Info("handoff", "from", speaker, "to", target)
	return d.deps.Composer.PackPlan(ctx, speaker, line, st, target)
}

func (d *Director) handoffLine(ctx context.Context, speaker, target string) string {
	p, known := d.persona(ctx, speaker)
	line, err := d.generate(ctx, speaker, buildCharacterPrompt(promptInput{
		persona:  p,
		safety:   d.state.Scene.Safety,
		preamble: d.deps.CharacterPreamble,
	}), handoffRequest(target))
	if err == nil {
		return line
	}
	d.recordFallback(speaker, fallbackReason(err), err)
	if known {
		return d.cannedHandoff(p, speaker, target)
	}
	return FallbackHandoffLine
}

// cannedHandoff picks the first stored handoff line that fits target. A
// {target} placeholder is filled in; a line naming some other character is
// skipped.
func (d *Director) cannedHandoff(p persona.Persona, speaker, target string) string {
	for _, line := range p.HandoffLines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, persona.TargetPlaceholder) {
			return strings.ReplaceAll(line, persona.TargetPlaceholder, displayName(target))
		}
		if !d.namesOther(line, speaker, target) {
			return line
		}
	}
	return FallbackHandoffLine
}

// namesOther reports whether line mentions a character, by id or nickname,
// other than speaker and target.
func (d *Director) namesOther(line, speaker, target string) bool {
	words := " " + strings.Join(strings.FieldsFunc(strings.ToLower(line), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "
	mentions := func(name string) bool {
		name = strings.ToLower(strings.TrimSpace(displayName(name)))
		return name != "" && strings.Contains(words, " "+name+" ")
	}
	sc := d.state.Scene
	for _, id := range d.state.AllCharacters() {
		if id == speaker || id == target {
			continue
		}
		if mentions(id) {
			return true
		}
		for _, nick := range sc.Aliases[id] {
			if mentions(nick) {
				return true
			}
		}
	}
	return false
}

func displayName(id string) string {
	return strings.ReplaceAll(id, "_", " ")
}

func (d *Director) reply(ctx context.Context, speaker, userText string, entrance bool) string {
	p, known := d.persona(ctx, speaker)
	hints := d.pendingMustHit(speaker)
	system := buildCharacterPrompt(promptInput{
		persona:  p,
		safety:   d.state.Scene.Safety,
		mustHit:  hints,
		entrance: entrance,
		preamble: d.deps.CharacterPreamble,
	})
	user := strings.TrimSpace(userText)
	if user == "" {
		user = "(The caller is quiet. Say something short to keep the call going.)"
	}

	line, err := d.generate(ctx, speaker, system, user)
	if err == nil {
		for _, h := range hints {
			d.state.Remember(mustHitKey(speaker, h))
		}
		return line
	}
	if !known {
		d.recordFallback(speaker, "persona_missing", err)
		return UnknownSpeakerLine
	}
	d.recordFallback(speaker, fallbackReason(err), err)
	if n := len(p.Smalltalk); n > 0 {
		return p.Smalltalk[(d.turns-1)%n]
	}
	return FallbackReply
}

var errNoGenerator = errors.New("no generator configured")

func (d *Director) generate(ctx context.Context, speaker, system, user string) (string, error) {
	if d.deps.Generator == nil {
		return "", errNoGenerator
	}
	gctx, cancel := context.WithTimeout(ctx, d.deps.GenerationTimeout)
	defer cancel()
	out, err := d.deps.Generator.Generate(gctx, system, user)
	if err != nil {
		return "", err
	}
	line := cleanLine(out, speaker)
	if line == "" {
		return "", errEmptyGeneration
	}
	return line, nil
}

var errEmptyGeneration = errors.New("empty generation")

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, errNoGenerator):
		return "disabled"
	case errors.Is(err, errEmptyGeneration):
		return "empty"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func (d *Director) recordFallback(speaker, reason string, err error) {
	d.deps.Metrics.GenerationFallback(reason)
	if !errors.Is(err, errNoGenerator) {
		d.deps.Logger.Warn("generation fallback", "speaker", speaker, "reason", reason, "error", err)
	}
}

// persona returns the record for id and whether one was actually found.
// Missing or unreadable records yield the generic persona.
func (d *Director) persona(ctx context.Context, id string) (persona.Persona, bool) {
	if p, ok := d.adhoc[id]; ok {
		return p, true
	}
	vibe := d.state.NotedString(vibeKey(id))
	if d.deps.Personas == nil {
		return persona.Default(id, vibe), false
	}
	lctx, cancel := context.WithTimeout(ctx, d.deps.StoreTimeout)
	defer cancel()
	p, err := d.deps.Personas.Load(lctx, id)
	if err != nil {
		if !errors.Is(err, persona.ErrNotFound) {
			d.deps.Logger.Warn("persona unreadable", "character", id, "error", err)
		}
		return persona.Default(id, vibe), false
	}
	return p.Normalized(), true
}

func (d *Director) pendingMustHit(speaker string) []string {
	elapsed := d.deps.Now().Sub(d.started)
	var hints []string
	for _, m := range d.state.Scene.MustHitLines {
		if m.Character != speaker || m.LineHint == "" {
			continue
		}
		if d.state.Remembers(mustHitKey(speaker, m.LineHint)) {
			continue
		}
		if m.WithinSeconds > 0 && elapsed > time.Duration(m.WithinSeconds)*time.Second {
			continue
		}
		hints = append(hints, m.LineHint)
	}
	return hints
}

func mustHitKey(speaker, hint string) string {
	return fmt.Sprintf("must_hit:%s:%s", speaker, hint)
}

// cleanLine trims whitespace, wrapping quotes and a leading "speaker:" tag.
func cleanLine(s, speaker string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, ":"); i > 0 && strings.EqualFold(strings.TrimSpace(s[:i]), speaker) {
		s = strings.TrimSpace(s[i+1:])
	}
	s = strings.Trim(s, "\"“”")
	return strings.TrimSpace(s)
}

func vibeKey(id string) string { return "vibe:" + id }

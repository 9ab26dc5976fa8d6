package director

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/partyline/pkg/call/compose"
	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/call/plan"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/core/textgen"
)

func loadState(t *testing.T) *scene.State {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	sc, err := scene.Load(filepath.Join(filepath.Dir(file), "..", "..", "..", "scenes", "family_party.yaml"))
	require.NoError(t, err)
	return scene.NewState(sc)
}

type call struct {
	system string
	user   string
}

// recordingGen answers every prompt with reply and keeps the prompts.
type recordingGen struct {
	mu    sync.Mutex
	reply string
	err   error
	calls []call
}

func (g *recordingGen) Generate(ctx context.Context, system, user string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{system: system, user: user})
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

func (g *recordingGen) last() call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}

func (g *recordingGen) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func familyStore() *persona.MemoryStore {
	mother := persona.FromScaffold(persona.ScaffoldEntry{ID: "mother", Vibe: "warm, caring", Anchors: []string{"honey"}})
	brother := persona.FromScaffold(persona.ScaffoldEntry{ID: "brother", Vibe: "teasing", Anchors: []string{"yo"}})
	return persona.NewMemoryStore(mother, brother)
}

func newDirector(t *testing.T, gen textgen.Generator, store persona.Store) *Director {
	t.Helper()
	return New(loadState(t), Deps{
		Generator: gen,
		Personas:  store,
		Composer:  compose.New(compose.Config{}),
	})
}

func TestStep_GreetingReply(t *testing.T) {
	gen := &recordingGen{reply: "Hi honey! Are you eating ok?"}
	d := newDirector(t, gen, familyStore())

	p := d.Step(context.Background(), "hi mom")

	require.NotNil(t, p.Foreground)
	assert.Equal(t, "mother", p.Foreground.Speaker)
	assert.Equal(t, "Hi honey! Are you eating ok?", p.Foreground.Transcript)
	assert.Equal(t, plan.NoHandoff, p.Controls.HandoffTo)
	assert.Equal(t, -14, p.Controls.DuckingDB)
	assert.Equal(t, 600, p.Controls.OverlapMS)
	assert.Equal(t, scene.StageForegroundTalk, d.State().Cursor.Stage)
	assert.Equal(t, "mother", d.State().Cursor.Foreground)
	assert.Equal(t, "hi mom", d.State().Cursor.LastUserText)
	assert.Equal(t, "hi mom", gen.last().user)
	assert.Contains(t, gen.last().system, "You are mother")
}

func TestStep_HandoffToBrother(t *testing.T) {
	gen := &recordingGen{reply: "Hold on, I'll get him."}
	d := newDirector(t, gen, familyStore())

	p := d.Step(context.Background(), "can I talk to my brother")

	require.NotNil(t, p.Foreground)
	assert.Equal(t, "mother", p.Foreground.Speaker)
	assert.Equal(t, "brother", p.Controls.HandoffTo)
	assert.Equal(t, "brother", p.HandoffTarget())
	assert.Equal(t, "brother", d.State().Cursor.Foreground)
	assert.Equal(t, scene.StageHandoff, d.State().Cursor.Stage)
	assert.Contains(t, gen.last().user, "wants to talk to brother")

	gen.reply = "Yo! What's up?"
	p = d.Step(context.Background(), "hey")
	assert.Equal(t, "brother", p.Foreground.Speaker)
	assert.Equal(t, plan.NoHandoff, p.Controls.HandoffTo)
	assert.Equal(t, scene.StageForegroundTalk, d.State().Cursor.Stage)
	assert.Contains(t, gen.last().system, "You just got handed the phone")
	for _, a := range p.Background {
		assert.NotEqual(t, "brother", a.Speaker)
	}
}

func TestStep_TriggerKeyword(t *testing.T) {
	gen := &recordingGen{reply: "Sure, one sec."}
	d := newDirector(t, gen, familyStore())

	p := d.Step(context.Background(), "hand me to him please")

	assert.Equal(t, "brother", p.HandoffTarget())
	assert.Equal(t, "brother", d.State().Cursor.Foreground)
}

func TestStep_EndCallSkipsCollaborators(t *testing.T) {
	gen := &recordingGen{reply: "unused"}
	store := familyStore()
	builder := persona.NewBuilder(gen, store, nil)
	d := New(loadState(t), Deps{Generator: gen, Personas: store, Builder: builder})

	for _, text := range []string{"end call", "ok goodbye", "please STOP"} {
		p := d.Step(context.Background(), text)
		assert.True(t, p.Terminal(), text)
		assert.Nil(t, p.Foreground, text)
	}
	assert.Equal(t, 0, gen.count())
	assert.Equal(t, scene.StageGreeting, d.State().Cursor.Stage)
	assert.Equal(t, "mother", d.State().Cursor.Foreground)
}

func TestStep_SelfHandoffIsReply(t *testing.T) {
	gen := &recordingGen{reply: "I'm right here, sweetie."}
	d := newDirector(t, gen, familyStore())

	p := d.Step(context.Background(), "can I talk to mom")

	assert.Equal(t, "mother", p.Foreground.Speaker)
	assert.Equal(t, plan.NoHandoff, p.Controls.HandoffTo)
	assert.Equal(t, scene.StageForegroundTalk, d.State().Cursor.Stage)
}

func TestStep_CreateAgentOnce(t *testing.T) {
	store := familyStore()
	builder := persona.NewBuilder(&textgen.Static{Replies: []string{
		`{"archetype":"a retired sailor","smalltalk":["The sea was rough today."],"nicknames":["kiddo"],"entrances":["Ahoy there!"],"handoff_lines":["Aye, fetching them."]}`,
	}}, store, nil)
	gen := &recordingGen{reply: "Ahoy!"}
	deps := Deps{Generator: gen, Personas: store, Builder: builder}

	d := New(loadState(t), deps)
	p := d.Step(context.Background(), "Can I talk to Grandpa Joe, a retired sailor")

	assert.Equal(t, "grandpa_joe", p.HandoffTarget())
	assert.Equal(t, "mother", p.Foreground.Speaker)
	assert.True(t, d.State().Known("grandpa_joe"))
	assert.Equal(t, "a retired sailor", d.State().Cursor.Memory["vibe:grandpa_joe"])
	assert.Equal(t, 1, store.Saves())

	saved, err := store.Load(context.Background(), "grandpa_joe")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ahoy there!"}, saved.Entrances)

	d.Step(context.Background(), "hey")
	assert.Contains(t, gen.last().system, "a retired sailor")

	d.Step(context.Background(), "can I talk to mom")
	assert.Equal(t, "mother", d.State().Cursor.Foreground)
	p = d.Step(context.Background(), "talk to Grandpa Joe, a retired sailor")
	assert.Equal(t, "grandpa_joe", p.HandoffTarget())
	assert.Equal(t, 1, store.Saves())

	// A new call finds the persona through the store.
	other := New(loadState(t), deps)
	p = other.Step(context.Background(), "talk to grandpa joe")
	assert.Equal(t, "grandpa_joe", p.HandoffTarget())
	assert.Equal(t, 1, store.Saves())
}

type brokenStore struct{ persona.MemoryStore }

func (s *brokenStore) Save(context.Context, persona.Persona, persona.SaveOptions) error {
	return errors.New("disk full")
}

func TestStep_CreateAgentStoreFailureKeepsPersona(t *testing.T) {
	store := &brokenStore{}
	builder := persona.NewBuilder(nil, store, nil)
	gen := &recordingGen{err: errors.New("offline")}
	d := New(loadState(t), Deps{Generator: gen, Personas: store, Builder: builder})

	p := d.Step(context.Background(), "talk to Aunt Sue")
	assert.Equal(t, "aunt_sue", p.HandoffTarget())

	p = d.Step(context.Background(), "so how are you")
	require.NotNil(t, p.Foreground)
	assert.Equal(t, "aunt_sue", p.Foreground.Speaker)
	assert.Equal(t, "How's it going?", p.Foreground.Transcript)
}

func TestStep_LowerBackground(t *testing.T) {
	gen := &recordingGen{reply: "Sorry, it's a zoo in here."}
	d := newDirector(t, gen, familyStore())

	p := d.Step(context.Background(), "it's too loud, can you keep it down")

	assert.Equal(t, "mother", p.Foreground.Speaker)
	assert.Equal(t, -20, p.Controls.DuckingDB)
	assert.InDelta(t, 0.35, d.State().Cursor.Intensity, 1e-9)
	assert.LessOrEqual(t, len(p.Background), 1)
}

func TestStep_GeneratorAlwaysFails(t *testing.T) {
	gen := &recordingGen{err: errors.New("boom")}
	d := newDirector(t, gen, familyStore())

	inputs := []string{"hi mom", "", "what's for dinner", "can I talk to my brother", "hey bro", "talk to Cousin Vinny"}
	for _, text := range inputs {
		p := d.Step(context.Background(), text)
		require.NotNil(t, p.Foreground, text)
		assert.NotEmpty(t, strings.TrimSpace(p.Foreground.Line), text)
		assert.NotEmpty(t, p.Foreground.Speaker, text)
		assert.NotEmpty(t, p.Controls.HandoffTo, text)
	}
}

func TestStep_FallbackLines(t *testing.T) {
	gen := &recordingGen{err: errors.New("boom")}
	d := newDirector(t, gen, persona.NewMemoryStore())

	p := d.Step(context.Background(), "hello?")
	assert.Equal(t, UnknownSpeakerLine, p.Foreground.Transcript)

	p = d.Step(context.Background(), "can I talk to my brother")
	assert.Equal(t, FallbackHandoffLine, p.Foreground.Transcript)

	d = newDirector(t, gen, familyStore())
	p = d.Step(context.Background(), "hello?")
	mother, err := familyStore().Load(context.Background(), "mother")
	require.NoError(t, err)
	assert.Equal(t, mother.Smalltalk[0], p.Foreground.Transcript)
}

func TestStep_HandoffFallbackNamesTarget(t *testing.T) {
	gen := &recordingGen{err: errors.New("boom")}
	d := newDirector(t, gen, familyStore())

	p := d.Step(context.Background(), "can I talk to uncle")

	assert.Equal(t, "uncle", p.Controls.HandoffTo)
	assert.Equal(t, "mother", p.Foreground.Speaker)
	assert.Contains(t, p.Foreground.Transcript, "grab uncle")
	assert.NotContains(t, p.Foreground.Transcript, "brother")
}

func TestStep_HandoffFallbackSkipsLineForOtherCharacter(t *testing.T) {
	mother := persona.FromScaffold(persona.ScaffoldEntry{ID: "mother", Vibe: "warm"})
	mother.HandoffLines = []string{"Hold on, here's your brother!"}
	gen := &recordingGen{err: errors.New("boom")}
	d := newDirector(t, gen, persona.NewMemoryStore(mother))

	p := d.Step(context.Background(), "can I talk to uncle")
	assert.Equal(t, "uncle", p.Controls.HandoffTo)
	assert.Equal(t, FallbackHandoffLine, p.Foreground.Transcript)

	d = newDirector(t, gen, persona.NewMemoryStore(mother))
	p = d.Step(context.Background(), "can I talk to my brother")
	assert.Equal(t, "brother", p.Controls.HandoffTo)
	assert.Equal(t, "Hold on, here's your brother!", p.Foreground.Transcript)
}

func TestStep_GenerationTimeout(t *testing.T) {
	gen := textgen.GeneratorFunc(func(ctx context.Context, _, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	d := New(loadState(t), Deps{Generator: gen, Personas: familyStore(), GenerationTimeout: 20 * time.Millisecond})

	start := time.Now()
	p := d.Step(context.Background(), "hi mom")
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NotNil(t, p.Foreground)
	assert.NotEmpty(t, p.Foreground.Line)
}

func TestStep_NoGenerator(t *testing.T) {
	d := newDirector(t, nil, familyStore())
	p := d.Step(context.Background(), "hi mom")
	require.NotNil(t, p.Foreground)
	assert.NotEmpty(t, p.Foreground.Transcript)
}

func TestStep_UnknownStageFallsBack(t *testing.T) {
	gen := &recordingGen{reply: "unused"}
	d := newDirector(t, gen, familyStore())
	d.State().Cursor.Stage = scene.Stage("wandering")

	p := d.Step(context.Background(), "hello")

	assert.Equal(t, FallbackLine, p.Foreground.Transcript)
	assert.Equal(t, 0, gen.count())
}

func TestStep_MustHitHintUntilDelivered(t *testing.T) {
	gen := &recordingGen{reply: "Hi sweetie."}
	d := newDirector(t, gen, familyStore())

	d.Step(context.Background(), "hi")
	assert.Contains(t, gen.last().system, "Are you eating ok?")

	d.Step(context.Background(), "good, you?")
	assert.NotContains(t, gen.last().system, "Are you eating ok?")
}

func TestStep_MustHitWindowExpires(t *testing.T) {
	gen := &recordingGen{reply: "Hi sweetie."}
	now := time.Unix(1000, 0)
	d := New(loadState(t), Deps{
		Generator: gen,
		Personas:  familyStore(),
		Now:       func() time.Time { return now },
	})
	now = now.Add(2 * time.Minute)

	d.Step(context.Background(), "hi")
	assert.NotContains(t, gen.last().system, "Are you eating ok?")
}

func TestStep_SanitizesGeneratedLine(t *testing.T) {
	gen := &recordingGen{reply: `mother: "Oh damn, I burned the roast."`}
	d := newDirector(t, gen, familyStore())

	p := d.Step(context.Background(), "what's cooking")
	assert.Equal(t, "Oh darn, I burned the roast.", p.Foreground.Transcript)
}

func TestStep_SessionsIndependent(t *testing.T) {
	gen := &recordingGen{reply: "ok"}
	a := newDirector(t, gen, familyStore())
	b := newDirector(t, gen, familyStore())

	a.Step(context.Background(), "can I talk to my brother")
	assert.Equal(t, "brother", a.State().Cursor.Foreground)
	assert.Equal(t, "mother", b.State().Cursor.Foreground)
	assert.Equal(t, scene.StageGreeting, b.State().Cursor.Stage)
}

func TestCleanLine(t *testing.T) {
	assert.Equal(t, "hi there", cleanLine(`  "hi there" `, "mother"))
	assert.Equal(t, "hi there", cleanLine("Mother: hi there", "mother"))
	assert.Equal(t, "Note: hi", cleanLine("Note: hi", "mother"))
	assert.Equal(t, "", cleanLine(`""`, "mother"))
}

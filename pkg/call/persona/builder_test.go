package persona

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/partyline/pkg/core/textgen"
)

const pirateJSON = `{
  "archetype": "salty retired pirate",
  "smalltalk": ["Arr, how be the weather?"],
  "nicknames": ["matey"],
  "entrances": ["Ahoy!"],
  "handoff_lines": ["I'll fetch 'em."]
}`

func TestBuildPersona_ParsesGeneratorJSON(t *testing.T) {
	gen := &textgen.Static{Replies: []string{pirateJSON}}
	b := NewBuilder(gen, NewMemoryStore(), nil)

	p := b.BuildPersona(context.Background(), "pirate", "a pirate")

	assert.Equal(t, "pirate", p.ID)
	assert.Equal(t, "salty retired pirate", p.Archetype)
	assert.Equal(t, []string{"Arr, how be the weather?"}, p.Smalltalk)
	assert.Equal(t, []string{"matey"}, p.Relationship.Nicknames)
	assert.Equal(t, []string{"Ahoy!"}, p.Entrances)
	assert.Equal(t, []string{"I'll fetch 'em."}, p.HandoffLines)
	assert.Equal(t, DefaultBoundaries, p.Boundaries)
	assert.NotEmpty(t, p.Goodbyes)
	assert.Equal(t, 1, gen.Calls())
}

func TestBuildPersona_StripsCodeFence(t *testing.T) {
	gen := &textgen.Static{Replies: []string{"```json\n" + pirateJSON + "\n```"}}
	p := NewBuilder(gen, nil, nil).BuildPersona(context.Background(), "pirate", "a pirate")
	assert.Equal(t, "salty retired pirate", p.Archetype)
}

func TestBuildPersona_RepairsTruncatedJSON(t *testing.T) {
	gen := &textgen.Static{Replies: []string{`{"archetype": "night owl", "smalltalk": ["Still up?"`}}
	p := NewBuilder(gen, nil, nil).BuildPersona(context.Background(), "owl", "insomniac")

	assert.Equal(t, "night owl", p.Archetype)
	assert.Equal(t, []string{"Still up?"}, p.Smalltalk)
	assert.NotEmpty(t, p.Entrances)
}

func TestBuildPersona_FallsBackOnGarbage(t *testing.T) {
	gen := &textgen.Static{Replies: []string{"I am not going to do that."}}
	p := NewBuilder(gen, nil, nil).BuildPersona(context.Background(), "owl", "insomniac")
	assert.Equal(t, Default("owl", "insomniac"), p)
}

func TestBuildPersona_FallsBackOnGeneratorError(t *testing.T) {
	gen := &textgen.Static{Err: errors.New("backend down")}
	p := NewBuilder(gen, nil, nil).BuildPersona(context.Background(), "owl", "")

	assert.Equal(t, DefaultVibe, p.Archetype)
	assert.Equal(t, Default("owl", ""), p)
}

func TestBuildPersona_NoGenerator(t *testing.T) {
	p := NewBuilder(nil, nil, nil).BuildPersona(context.Background(), "owl", "insomniac")
	assert.Equal(t, "insomniac", p.Archetype)
}

func TestCreateIfAbsent_ExistingIsUntouched(t *testing.T) {
	existing := Default("grandpa", "grumpy")
	store := NewMemoryStore(existing)
	gen := &textgen.Static{Replies: []string{pirateJSON}}
	b := NewBuilder(gen, store, nil)

	p, created, err := b.CreateIfAbsent(context.Background(), "grandpa", "pirate")
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, existing, p)
	assert.Equal(t, 0, gen.Calls())
	assert.Equal(t, 0, store.Saves())
}

func TestCreateIfAbsent_SecondCreateDoesNotWrite(t *testing.T) {
	store := NewMemoryStore()
	gen := &textgen.Static{Replies: []string{pirateJSON}}
	var hooked []string
	b := NewBuilder(gen, store, nil)
	b.OnCreate = func(id string) { hooked = append(hooked, id) }

	p, created, err := b.CreateIfAbsent(context.Background(), "pirate", "a pirate")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "salty retired pirate", p.Archetype)

	again, created, err := b.CreateIfAbsent(context.Background(), "pirate", "something else")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p, again)

	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, 1, store.Saves())
	assert.Equal(t, []string{"pirate"}, hooked)
}

func TestCreateIfAbsent_RejectsInvalidID(t *testing.T) {
	b := NewBuilder(nil, NewMemoryStore(), nil)
	_, _, err := b.CreateIfAbsent(context.Background(), "../etc", "x")
	assert.ErrorIs(t, err, ErrInvalid)
}

type blockingGen struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (g *blockingGen) Generate(ctx context.Context, _, _ string) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	select {
	case <-g.release:
		return pirateJSON, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCreateIfAbsent_ConcurrentCollapse(t *testing.T) {
	store := NewMemoryStore()
	gen := &blockingGen{release: make(chan struct{})}
	b := NewBuilder(gen, store, nil)

	const n = 8
	var wg sync.WaitGroup
	results := make([]Persona, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, _, err := b.CreateIfAbsent(context.Background(), "pirate", "a pirate")
			assert.NoError(t, err)
			results[i] = p
		}()
	}
	close(gen.release)
	wg.Wait()

	assert.Equal(t, 1, store.Saves())
	gen.mu.Lock()
	assert.Equal(t, 1, gen.calls)
	gen.mu.Unlock()
	for _, p := range results {
		assert.Equal(t, "salty retired pirate", p.Archetype)
	}
}

// racingStore reports ErrExists on save as if another process won.
type racingStore struct {
	*MemoryStore
	winner Persona
}

func (s *racingStore) Save(ctx context.Context, p Persona, opts SaveOptions) error {
	_ = s.MemoryStore.Save(ctx, s.winner, SaveOptions{Overwrite: true})
	return ErrExists
}

func TestCreateIfAbsent_RacingWriterResolvesToReload(t *testing.T) {
	winner := Default("pirate", "the other pirate")
	store := &racingStore{MemoryStore: NewMemoryStore(), winner: winner}
	b := NewBuilder(&textgen.Static{Replies: []string{pirateJSON}}, store, nil)

	p, created, err := b.CreateIfAbsent(context.Background(), "pirate", "a pirate")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner, p)
}

type failingStore struct{ *MemoryStore }

func (failingStore) Save(context.Context, Persona, SaveOptions) error {
	return errors.New("disk full")
}

func TestCreateIfAbsent_StoreErrorStillReturnsPersona(t *testing.T) {
	b := NewBuilder(&textgen.Static{Replies: []string{pirateJSON}}, failingStore{NewMemoryStore()}, nil)

	p, created, err := b.CreateIfAbsent(context.Background(), "pirate", "a pirate")
	require.Error(t, err)
	assert.False(t, created)
	assert.Equal(t, "salty retired pirate", p.Archetype)
}

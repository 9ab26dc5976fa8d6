package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vango-go/partyline/pkg/call/director"
	"github.com/vango-go/partyline/pkg/call/plan"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/gateway/live/protocol"
)

// Call is one simulated phone call. It owns its scene state. stepMu keeps
// steps strictly sequential when a transport delivers overlapping turns and
// is held for the whole turn. mu guards the bookkeeping that status reads,
// idle sweeps and End need, so they never wait on a running turn.
type Call struct {
	ID        string
	Principal string

	stepMu   sync.Mutex
	director *director.Director
	hello    protocol.ServerHello
	now      func() time.Time
	created  time.Time

	mu         sync.Mutex
	history    *history
	view       callView
	lastActive time.Time
	ended      bool
}

// callView is the cursor as of the last completed turn.
type callView struct {
	stage      scene.Stage
	foreground string
	intensity  float64
	characters []string
}

// Snapshot is a read-only view of a call for status endpoints.
type Snapshot struct {
	ID         string       `json:"id"`
	SceneID    string       `json:"scene_id"`
	Title      string       `json:"title"`
	Stage      scene.Stage  `json:"stage"`
	Foreground string       `json:"foreground"`
	Intensity  float64      `json:"intensity"`
	Characters []string     `json:"characters"`
	Ended      bool         `json:"ended"`
	CreatedAt  time.Time    `json:"created_at"`
	Transcript []HistoryRow `json:"transcript"`
}

func NewCall(id, principal string, st *scene.State, deps director.Deps) *Call {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	t := now()
	c := &Call{
		ID:        id,
		Principal: principal,
		director:  director.New(st, deps),
		hello: protocol.ServerHello{
			Type:            protocol.TypeHello,
			ProtocolVersion: protocol.Version,
			SessionID:       id,
			SceneID:         st.Scene.ID,
			Title:           st.Scene.Title,
			Timing: protocol.HelloTiming{
				HandoffMinS: st.Scene.Timing.HandoffMinS,
				HandoffMaxS: st.Scene.Timing.HandoffMaxS,
			},
			OverlapMS: st.OverlapMS(),
		},
		history:    newHistory(maxHistoryRows),
		now:        now,
		created:    t,
		lastActive: t,
	}
	c.view = viewOf(st)
	return c
}

func viewOf(st *scene.State) callView {
	return callView{
		stage:      st.Cursor.Stage,
		foreground: st.Cursor.Foreground,
		intensity:  st.Cursor.Intensity,
		characters: st.AllCharacters(),
	}
}

// Step runs one turn. Once a call has ended every further step returns the
// terminal plan without touching collaborators.
func (c *Call) Step(ctx context.Context, userText string) plan.Plan {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	c.mu.Lock()
	c.lastActive = c.now()
	if c.ended {
		c.mu.Unlock()
		return plan.EndCall()
	}
	c.history.appendUser(userText)
	c.mu.Unlock()

	p := c.director.Step(ctx, userText)
	view := viewOf(c.director.State())

	c.mu.Lock()
	defer c.mu.Unlock()
	c.view = view
	c.lastActive = c.now()
	if c.ended {
		// Ended by another caller while the turn was running.
		return plan.EndCall()
	}
	if p.Terminal() {
		c.ended = true
		return p
	}
	if p.Foreground != nil {
		c.history.appendLine(p.Foreground.Speaker, p.Foreground.Transcript)
	}
	return p
}

// End marks the call finished and returns the terminal plan. It does not
// wait for a running turn.
func (c *Call) End() plan.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ended = true
	c.lastActive = c.now()
	return plan.EndCall()
}

func (c *Call) SetIntensity(v float64) {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	st := c.director.State()
	st.SetIntensity(v)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActive = c.now()
	c.view.intensity = st.Cursor.Intensity
}

func (c *Call) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

// IdleFor reports how long the call has gone without a turn.
func (c *Call) IdleFor(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastActive)
}

func (c *Call) Hello() protocol.ServerHello {
	return c.hello
}

func (c *Call) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		ID:         c.ID,
		SceneID:    c.hello.SceneID,
		Title:      c.hello.Title,
		Stage:      c.view.stage,
		Foreground: c.view.foreground,
		Intensity:  c.view.intensity,
		Characters: slices.Clone(c.view.characters),
		Ended:      c.ended,
		CreatedAt:  c.created,
		Transcript: c.history.snapshot(),
	}
}

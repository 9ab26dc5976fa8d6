// Package compose turns a chosen speaker and line into a playback plan.
package compose

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vango-go/partyline/pkg/call/plan"
	"github.com/vango-go/partyline/pkg/call/safety"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/core/audio"
	"github.com/vango-go/partyline/pkg/core/voice/tts"
	"github.com/vango-go/partyline/pkg/observability"
)

const (
	DefaultSynthesisTimeout = 5 * time.Second
	maxAsides               = 2
)

// Config wires a Composer. Every field is optional: without TTS or Clips
// the foreground line is plain text.
type Config struct {
	TTS              tts.Provider
	Clips            *audio.Cache
	Filter           *safety.Filter
	SynthesisTimeout time.Duration
	Format           string
	Rand             *rand.Rand
	Logger           *slog.Logger
	Metrics          *observability.Metrics
}

// Composer is shared across calls; it holds no per-call state.
type Composer struct {
	tts     tts.Provider
	clips   *audio.Cache
	filter  *safety.Filter
	timeout time.Duration
	format  string
	logger  *slog.Logger
	metrics *observability.Metrics

	mu  sync.Mutex
	rng *rand.Rand
}

func New(cfg Config) *Composer {
	c := &Composer{
		tts:     cfg.TTS,
		clips:   cfg.Clips,
		filter:  cfg.Filter,
		timeout: cfg.SynthesisTimeout,
		format:  cfg.Format,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		rng:     cfg.Rand,
	}
	if c.filter == nil {
		c.filter = safety.MustNew(safety.DefaultReplacements)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultSynthesisTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return c
}

// PackPlan builds the plan for one turn. It never fails: synthesis problems
// degrade the foreground line to text.
func (c *Composer) PackPlan(ctx context.Context, speaker, line string, st *scene.State, handoffTo string) plan.Plan {
	text := c.filter.Sanitize(line)

	fg := &plan.Foreground{Speaker: speaker, Line: text, Transcript: text}
	if ref, ok := c.synthesize(ctx, speaker, text, st.Scene.Voice(speaker)); ok {
		fg.Line = ref
	}

	if handoffTo == "" {
		handoffTo = plan.NoHandoff
	}
	return plan.Plan{
		Foreground: fg,
		Background: c.pickAsides(st, speaker),
		Controls: plan.Controls{
			DuckingDB: st.DuckingDB(),
			OverlapMS: st.OverlapMS(),
			HandoffTo: handoffTo,
		},
	}
}

func (c *Composer) synthesize(ctx context.Context, speaker, text, voice string) (string, bool) {
	if c.tts == nil || c.clips == nil {
		c.metrics.SynthesisFallback("disabled")
		return "", false
	}
	if text == "" {
		return "", false
	}

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	syn, err := c.tts.Synthesize(sctx, text, tts.SynthesizeOptions{Voice: voice, Format: c.format})
	if err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		c.metrics.SynthesisFallback(reason)
		c.logger.Warn("synthesis failed, sending text",
			"provider", c.tts.Name(),
			"speaker", speaker,
			"reason", reason,
			"error", err,
		)
		return "", false
	}
	if syn == nil || len(syn.Audio) == 0 {
		c.metrics.SynthesisFallback("empty")
		return "", false
	}
	return c.clips.Put(speaker, syn.ContentType(), syn.Audio), true
}

type candidate struct {
	speaker   string
	line      string
	proximity string
}

// pickAsides draws k distinct lines, k uniform in [0, min(2, n)], scaled
// down by background intensity. The foreground speaker never gets one.
func (c *Composer) pickAsides(st *scene.State, foreground string) []plan.Aside {
	out := []plan.Aside{}
	if st.Cursor.Intensity <= 0 {
		return out
	}

	var pool []candidate
	for _, set := range st.Scene.BackgroundAsides {
		if set.Speaker == foreground {
			continue
		}
		prox := set.Proximity
		if prox != plan.ProximityNear && prox != plan.ProximityFar {
			prox = plan.ProximityFar
			if st.Nearby(set.Speaker) {
				prox = plan.ProximityNear
			}
		}
		for _, line := range set.Lines {
			pool = append(pool, candidate{speaker: set.Speaker, line: line, proximity: prox})
		}
	}

	limit := min(maxAsides, len(pool))
	if st.Cursor.Intensity < 0.5 {
		limit = min(limit, 1)
	}
	if limit == 0 {
		return out
	}

	c.mu.Lock()
	k := c.rng.IntN(limit + 1)
	perm := c.rng.Perm(len(pool))
	c.mu.Unlock()

	for _, i := range perm[:k] {
		cand := pool[i]
		out = append(out, plan.Aside{
			Speaker:   cand.speaker,
			Line:      c.filter.Sanitize(cand.line),
			Proximity: cand.proximity,
		})
	}
	return out
}

package handlers

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/vango-go/partyline/pkg/call/director"
	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/core/textgen"
	"github.com/vango-go/partyline/pkg/gateway/auth"
	"github.com/vango-go/partyline/pkg/gateway/config"
	"github.com/vango-go/partyline/pkg/gateway/live/sessions"
	"github.com/vango-go/partyline/pkg/gateway/ratelimit"
)

func scenePath(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime.Caller failed")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "scenes", "family_party.yaml")
}

func testOpener(t *testing.T, maxCalls int) CallOpener {
	t.Helper()
	path := scenePath(t)
	mother := persona.FromScaffold(persona.ScaffoldEntry{ID: "mother", Vibe: "warm"})
	brother := persona.FromScaffold(persona.ScaffoldEntry{ID: "brother", Vibe: "teasing"})
	return CallOpener{
		Scene: func() (*scene.Scene, error) { return scene.Load(path) },
		Deps: director.Deps{
			Generator: &textgen.Static{Replies: []string{"Hi honey!"}},
			Personas:  persona.NewMemoryStore(mother, brother),
		},
		Calls:   sessions.NewManager(sessions.Options{}),
		Limiter: ratelimit.New(ratelimit.Config{MaxConcurrentCalls: maxCalls}),
	}
}

func testHandlerConfig() config.Config {
	return config.Config{
		AuthMode:           config.AuthModeDisabled,
		APIKeys:            map[string]struct{}{},
		CORSAllowedOrigins: map[string]struct{}{},
		CallIdleTimeout:    time.Minute,
		WSPingInterval:     time.Hour,
		WSWriteTimeout:     time.Second,
		WSMaxMessageBytes:  64 * 1024,
		MaxBodyBytes:       64 * 1024,
		GenerationTimeout:  time.Second,
		SynthesisTimeout:   time.Second,
	}
}

func principalForLoopback() string {
	return auth.KeyFromIP("127.0.0.1")
}

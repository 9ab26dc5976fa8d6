package handlers

import (
	"fmt"
	"time"

	"github.com/vango-go/partyline/pkg/call/director"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/core"
	"github.com/vango-go/partyline/pkg/gateway/live/session"
	"github.com/vango-go/partyline/pkg/gateway/live/sessions"
	"github.com/vango-go/partyline/pkg/gateway/ratelimit"
	"github.com/vango-go/partyline/pkg/observability"
)

// CallOpener starts a call for a principal: it takes an open-call slot,
// loads the scene and registers the call with the manager.
type CallOpener struct {
	Scene   func() (*scene.Scene, error)
	Deps    director.Deps
	Calls   *sessions.Manager
	Limiter *ratelimit.Limiter
	Metrics *observability.Metrics
	Now     func() time.Time
}

func (o CallOpener) Open(principalKey string) (*session.Call, error) {
	if o.Calls == nil || o.Scene == nil {
		return nil, core.NewConfigError("call runtime is not configured", "")
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}

	dec := o.Limiter.AcquireCall(principalKey, now())
	if !dec.Allowed {
		o.Metrics.RateLimited("calls")
		return nil, core.NewRateLimitError("too many open calls", dec.RetryAfter)
	}

	sc, err := o.Scene()
	if err != nil {
		dec.Permit.Release()
		return nil, core.NewConfigError(fmt.Sprintf("scene could not be loaded: %v", err), "scene")
	}
	return o.Calls.Open(principalKey, scene.NewState(sc), o.Deps, dec.Permit.Release)
}

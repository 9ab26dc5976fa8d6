// Package ratelimit enforces per-principal request rates and caps on
// concurrently open calls.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	RPS   float64
	Burst int

	MaxConcurrentCalls int

	// Bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*principalLimiter
}

type principalLimiter struct {
	tb       *rate.Limiter
	callSem  chan struct{}
	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{
		cfg: cfg,
		m:   make(map[string]*principalLimiter),
	}
}

type Permit struct {
	once    sync.Once
	release func()
}

// Release returns the permit. Extra calls are no-ops.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AllowRequest spends one token from principal's bucket.
func (l *Limiter) AllowRequest(principal string, now time.Time) Decision {
	if l == nil || l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return Decision{Allowed: true}
	}
	pl := l.getOrCreate(principal, now)

	r := pl.tb.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: 1}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: max(1, int(math.Ceil(delay.Seconds())))}
	}
	return Decision{Allowed: true}
}

// AcquireCall takes one of principal's open-call slots. The permit must be
// released when the call closes.
func (l *Limiter) AcquireCall(principal string, now time.Time) Decision {
	if l == nil || l.cfg.MaxConcurrentCalls <= 0 {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	pl := l.getOrCreate(principal, now)

	select {
	case pl.callSem <- struct{}{}:
		return Decision{
			Allowed: true,
			Permit:  &Permit{release: func() { <-pl.callSem }},
		}
	default:
		return Decision{Allowed: false, RetryAfter: 1}
	}
}

func (l *Limiter) getOrCreate(principal string, now time.Time) *principalLimiter {
	if principal == "" {
		principal = "anonymous"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if pl, ok := l.m[principal]; ok {
		pl.lastSeen = now
		return pl
	}

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
	}

	pl := &principalLimiter{
		tb:       rate.NewLimiter(rate.Limit(l.cfg.RPS), max(1, l.cfg.Burst)),
		callSem:  make(chan struct{}, max(1, l.cfg.MaxConcurrentCalls)),
		lastSeen: now,
	}
	l.m[principal] = pl
	return pl
}

// gcLocked drops stale entries. Entries holding open-call slots are kept so
// a permit is never released into a fresh semaphore.
func (l *Limiter) gcLocked(now time.Time) {
	for k, v := range l.m {
		if now.Sub(v.lastSeen) > l.cfg.EntryTTL && len(v.callSem) == 0 {
			delete(l.m, k)
		}
	}
}

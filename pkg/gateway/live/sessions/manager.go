// Package sessions keeps the process-wide registry of open calls.
package sessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/partyline/pkg/call/director"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/gateway/live/session"
	"github.com/vango-go/partyline/pkg/observability"
)

var (
	ErrNotFound = errors.New("call not found")
	ErrDraining = errors.New("server is draining")
)

// Handle lets the manager reach a live WebSocket attached to a call.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

type Options struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
	NewID   func() string
}

// Manager owns every open call. Calls opened over REST and over WebSocket
// share it; live attachments are tracked separately so shutdown can wait for
// sockets to drain.
type Manager struct {
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	calls    map[string]*entry
	draining bool
	live     sync.WaitGroup
}

type entry struct {
	call    *session.Call
	release func()
	handle  *Handle
	once    sync.Once
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "call_" + uuid.NewString() }
	}
	return &Manager{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		newID:   opts.NewID,
		calls:   make(map[string]*entry),
	}
}

// Open registers a new call for principal. release runs once when the call
// closes; it is how the caller returns a concurrency permit.
func (m *Manager) Open(principal string, st *scene.State, deps director.Deps, release func()) (*session.Call, error) {
	if deps.Now == nil {
		deps.Now = m.now
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		if release != nil {
			release()
		}
		return nil, ErrDraining
	}
	id := m.newID()
	call := session.NewCall(id, principal, st, deps)
	m.calls[id] = &entry{call: call, release: release}
	m.mu.Unlock()

	m.metrics.CallOpened()
	m.logger.Info("call opened", "session_id", id, "principal", principal, "scene_id", st.Scene.ID)
	return call, nil
}

// Get returns the call when it exists and belongs to principal. A call owned
// by someone else is reported as missing.
func (m *Manager) Get(id, principal string) (*session.Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.calls[id]
	if !ok || e.call.Principal != principal {
		return nil, ErrNotFound
	}
	return e.call, nil
}

// Attach records a live socket on the call. The returned detach func must be
// called when the socket's loop exits.
func (m *Manager) Attach(id string, h Handle) (detach func()) {
	m.mu.Lock()
	e, ok := m.calls[id]
	if !ok {
		m.mu.Unlock()
		return func() {}
	}
	e.handle = &h
	m.live.Add(1)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if e.handle == &h {
				e.handle = nil
			}
			m.mu.Unlock()
			m.live.Done()
		})
	}
}

// Close ends the call and removes it. Closing an unknown id is ErrNotFound.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	e, ok := m.calls[id]
	if ok {
		delete(m.calls, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.finish(id, e, "closed")
	return nil
}

func (m *Manager) finish(id string, e *entry, reason string) {
	e.once.Do(func() {
		e.call.End()
		m.mu.Lock()
		h := e.handle
		m.mu.Unlock()
		if h != nil && h.Cancel != nil {
			h.Cancel()
		}
		if e.release != nil {
			e.release()
		}
		m.metrics.CallClosed()
		m.logger.Info("call closed", "session_id", id, "reason", reason)
	})
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *Manager) SetDraining(v bool) {
	m.mu.Lock()
	m.draining = v
	m.mu.Unlock()
}

func (m *Manager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

func (m *Manager) handles() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Handle, 0, len(m.calls))
	for _, e := range m.calls {
		if e.handle != nil {
			out = append(out, *e.handle)
		}
	}
	return out
}

// WarnAll sends a best-effort warning to every attached socket.
func (m *Manager) WarnAll(code, message string) (sent int) {
	for _, h := range m.handles() {
		if h.Warn == nil {
			continue
		}
		_ = h.Warn(code, message)
		sent++
	}
	return sent
}

// CancelAll stops every attached socket's loop.
func (m *Manager) CancelAll() (canceled int) {
	for _, h := range m.handles() {
		if h.Cancel == nil {
			continue
		}
		h.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every attached socket has detached or ctx is done.
func (m *Manager) Wait(ctx context.Context) bool {
	if ctx == nil {
		m.live.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.live.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Sweep closes calls that ended or went idle longer than idle and have no
// live socket attached. It returns how many it closed.
func (m *Manager) Sweep(now time.Time, idle time.Duration) int {
	type victim struct {
		id     string
		e      *entry
		reason string
	}
	var victims []victim

	m.mu.Lock()
	for id, e := range m.calls {
		if e.handle != nil {
			continue
		}
		switch {
		case e.call.Ended():
			victims = append(victims, victim{id, e, "ended"})
		case idle > 0 && e.call.IdleFor(now) > idle:
			victims = append(victims, victim{id, e, "idle"})
		default:
			continue
		}
		delete(m.calls, id)
	}
	m.mu.Unlock()

	for _, v := range victims {
		m.finish(v.id, v.e, v.reason)
	}
	return len(victims)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(m.now(), idle); n > 0 {
				m.logger.Debug("swept calls", "count", n)
			}
		}
	}
}

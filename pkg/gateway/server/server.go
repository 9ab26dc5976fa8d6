package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/partyline/pkg/call/director"
	"github.com/vango-go/partyline/pkg/call/scene"
	"github.com/vango-go/partyline/pkg/core/audio"
	"github.com/vango-go/partyline/pkg/gateway/config"
	"github.com/vango-go/partyline/pkg/gateway/handlers"
	"github.com/vango-go/partyline/pkg/gateway/live/sessions"
	"github.com/vango-go/partyline/pkg/gateway/mw"
	"github.com/vango-go/partyline/pkg/gateway/ratelimit"
	"github.com/vango-go/partyline/pkg/observability"
)

// Runtime carries the collaborators every call shares.
type Runtime struct {
	Scene    func() (*scene.Scene, error)
	Director director.Deps
	Clips    *audio.Cache
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	rt      Runtime
	limiter *ratelimit.Limiter
	calls   *sessions.Manager
}

func New(cfg config.Config, logger *slog.Logger, rt Runtime) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if rt.Director.Logger == nil {
		rt.Director.Logger = logger
	}
	if rt.Director.Metrics == nil {
		rt.Director.Metrics = rt.Metrics
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		rt:     rt,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                cfg.LimitRPS,
			Burst:              cfg.LimitBurst,
			MaxConcurrentCalls: cfg.MaxCallsPerPrincipal,
		}),
		calls: sessions.NewManager(sessions.Options{
			Logger:  logger,
			Metrics: rt.Metrics,
		}),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	opener := handlers.CallOpener{
		Scene:   s.rt.Scene,
		Deps:    s.rt.Director,
		Calls:   s.calls,
		Limiter: s.limiter,
		Metrics: s.rt.Metrics,
	}
	calls := handlers.CallsHandler{Config: s.cfg, Opener: opener, Calls: s.calls}

	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Config: s.cfg, Calls: s.calls})
	if s.rt.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.rt.Gatherer, promhttp.HandlerOpts{}))
	}

	s.mux.Handle("/v1/call", handlers.CallWSHandler{
		Config: s.cfg,
		Opener: opener,
		Calls:  s.calls,
		Logger: s.logger,
	})
	s.mux.HandleFunc("POST /v1/calls", calls.Create)
	s.mux.HandleFunc("GET /v1/calls/{id}", calls.Get)
	s.mux.HandleFunc("DELETE /v1/calls/{id}", calls.Delete)
	s.mux.HandleFunc("POST /v1/calls/{id}/turns", calls.Turn)
	s.mux.HandleFunc("POST /v1/calls/{id}/energy", calls.Energy)
	s.mux.Handle("/v1/audio/{id}", handlers.AudioHandler{Clips: s.rt.Clips})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Metrics(s.rt.Metrics, h)
	h = mw.RateLimit(s.cfg, s.limiter, s.rt.Metrics, h)
	h = mw.Auth(s.cfg, h)
	h = mw.ProtocolVersion(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, s.rt.Metrics, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Calls exposes the call registry, mainly for tests and the sweeper.
func (s *Server) Calls() *sessions.Manager {
	return s.calls
}

// RunSweeper closes idle and ended calls until ctx is done.
func (s *Server) RunSweeper(ctx context.Context) {
	idle := s.cfg.CallIdleTimeout
	interval := idle / 4
	if interval <= 0 || interval > time.Minute {
		interval = time.Minute
	}
	s.calls.RunSweeper(ctx, interval, idle)
}

func (s *Server) SetDraining() {
	s.calls.SetDraining(true)
}

func (s *Server) WarnLiveSessionsDraining() int {
	return s.calls.WarnAll("draining", "server is shutting down; the call will end soon")
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.calls.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.calls.CancelAll()
}

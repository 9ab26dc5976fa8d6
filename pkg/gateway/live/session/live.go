package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/partyline/pkg/call/plan"
	"github.com/vango-go/partyline/pkg/gateway/live/protocol"
)

const (
	defaultOutboundQueueSize = 32
	outboundPriorityQueueSize = 8
)

var errBackpressure = errors.New("call outbound backpressure")

type Config struct {
	MaxMessageBytes    int64
	PingInterval       time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	TurnTimeout        time.Duration
	MaxFramesPerSecond int
	BurstSeconds       int
	OutboundQueueSize  int
}

type Dependencies struct {
	Conn      *websocket.Conn
	Call      *Call
	Logger    *slog.Logger
	RequestID string
	Config    Config
	Now       func() time.Time
}

// Live drives one call over a WebSocket: it reads client frames, runs the
// call's steps in order and writes plan frames back.
type Live struct {
	conn      *websocket.Conn
	call      *Call
	logger    *slog.Logger
	requestID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan []byte
	outboundNormal   chan []byte
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func NewLive(deps Dependencies) (*Live, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Call == nil {
		return nil, fmt.Errorf("call is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = defaultOutboundQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Live{
		conn:             deps.Conn,
		call:             deps.Call,
		logger:           deps.Logger.With("session_id", deps.Call.ID),
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan []byte, outboundPriorityQueueSize),
		outboundNormal:   make(chan []byte, deps.Config.OutboundQueueSize),
	}, nil
}

// Run blocks until the call ends, the client disconnects or Cancel is
// called. All goroutines it starts have exited when it returns.
func (s *Live) Run() error {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	var wg sync.WaitGroup
	readCh := make(chan inboundFrame, 16)
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(readCh)
	}()
	go func() {
		defer wg.Done()
		w := outboundWriter{
			ws:       s.conn,
			ctx:      s.ctx,
			cfg:      s.cfg,
			priority: s.outboundPriority,
			normal:   s.outboundNormal,
		}
		if err := w.Run(); err != nil {
			s.logger.Debug("call writer stopped", "error", err)
			s.cancel()
			_ = s.conn.Close()
		}
	}()
	// The writer only stops once the context is cancelled, so cancel first.
	defer func() {
		s.cancel()
		wg.Wait()
	}()

	if err := s.sendJSON(s.call.Hello()); err != nil {
		return err
	}

	limiter := newInboundLimiter(s.now, s.cfg.MaxFramesPerSecond, s.cfg.BurstSeconds)

	var idle <-chan time.Time
	var idleTimer *time.Timer
	if s.cfg.IdleTimeout > 0 {
		idleTimer = time.NewTimer(s.cfg.IdleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.C
	}

	for {
		select {
		case <-s.ctx.Done():
			return nil
		case <-idle:
			s.logger.Info("call idle timeout")
			_ = s.sendError(protocol.ServerError{Type: protocol.TypeError, Code: "idle_timeout", Message: "call closed after inactivity", Close: true})
			s.call.End()
			return nil
		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return nil
				}
				if s.ctx.Err() != nil {
					return nil
				}
				s.logger.Debug("call read failed", "error", frame.err)
				return nil
			}
			if idleTimer != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(s.cfg.IdleTimeout)
			}

			done, err := s.handleFrame(frame, limiter)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

func (s *Live) handleFrame(frame inboundFrame, limiter *inboundLimiter) (bool, error) {
	if frame.messageType != websocket.TextMessage {
		return false, s.sendError(protocol.ErrorFrame("unsupported", "binary frames are not supported"))
	}
	if !limiter.Allow() {
		return false, s.sendError(protocol.ErrorFrame("rate_limited", "too many frames"))
	}

	msg, err := protocol.DecodeClientMessage(frame.data)
	if err != nil {
		return false, s.sendError(protocol.ErrorFrameFrom(err))
	}

	switch m := msg.(type) {
	case protocol.UserTranscript:
		ctx, cancel := s.turnContext()
		start := s.now()
		p := s.call.Step(ctx, m.Text)
		cancel()
		s.logger.Info("turn",
			"request_id", s.requestID,
			"speaker", speakerOf(p),
			"handoff_to", p.Controls.HandoffTo,
			"end_call", p.Terminal(),
			"duration_ms", s.now().Sub(start).Milliseconds(),
		)
		if err := s.sendJSON(protocol.PlanFrame(p)); err != nil {
			return false, err
		}
		return p.Terminal(), nil
	case protocol.SetBGEnergy:
		s.call.SetIntensity(*m.Value)
		return false, s.sendJSON(protocol.AckFrame())
	case protocol.EndCall:
		return true, s.sendJSON(protocol.PlanFrame(s.call.End()))
	default:
		return false, s.sendError(protocol.ErrorFrame("unsupported", "unsupported message type"))
	}
}

func (s *Live) turnContext() (context.Context, context.CancelFunc) {
	if s.cfg.TurnTimeout > 0 {
		return context.WithTimeout(s.ctx, s.cfg.TurnTimeout)
	}
	return context.WithCancel(s.ctx)
}

func (s *Live) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// Cancel stops the call's loop; the writer sends a close frame.
func (s *Live) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

// SendWarning queues a non-fatal error frame, used when the server drains.
func (s *Live) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendError(protocol.ErrorFrame(code, message))
}

func (s *Live) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.outboundNormal <- payload:
		return nil
	case <-s.ctx.Done():
		return nil
	default:
		return errBackpressure
	}
}

func (s *Live) sendError(frame protocol.ServerError) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case s.outboundPriority <- payload:
		return nil
	default:
		return errBackpressure
	}
}

func speakerOf(p plan.Plan) string {
	if p.Foreground == nil {
		return ""
	}
	return p.Foreground.Speaker
}

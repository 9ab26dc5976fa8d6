package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/partyline/pkg/core"
	"github.com/vango-go/partyline/pkg/gateway/apierror"
	"github.com/vango-go/partyline/pkg/gateway/config"
	"github.com/vango-go/partyline/pkg/gateway/live/protocol"
	"github.com/vango-go/partyline/pkg/gateway/live/session"
	"github.com/vango-go/partyline/pkg/gateway/live/sessions"
	"github.com/vango-go/partyline/pkg/gateway/principal"
)

// CallWSHandler handles GET /v1/call. Without ?call_id a fresh call is
// opened for the socket; with it the socket drives an existing call.
type CallWSHandler struct {
	Config config.Config
	Opener CallOpener
	Calls  *sessions.Manager
	Logger *slog.Logger
}

func (h CallWSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := requestIDFromContext(r.Context())
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Calls.Draining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"}, http.StatusForbidden)
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	key := principal.Resolve(r, h.Config.TrustProxyHeaders).Key
	call, owned, err := h.resolveCall(r, key)
	if err != nil {
		h.writeWSError(conn, err, reqID)
		return
	}
	if owned {
		defer func() { _ = h.Calls.Close(call.ID) }()
	}

	live, err := session.NewLive(session.Dependencies{
		Conn:      conn,
		Call:      call,
		Logger:    logger,
		RequestID: reqID,
		Config: session.Config{
			MaxMessageBytes:    h.Config.WSMaxMessageBytes,
			PingInterval:       h.Config.WSPingInterval,
			WriteTimeout:       h.Config.WSWriteTimeout,
			IdleTimeout:        h.Config.CallIdleTimeout,
			TurnTimeout:        h.Config.GenerationTimeout + h.Config.SynthesisTimeout,
			MaxFramesPerSecond: 10,
			BurstSeconds:       2,
		},
	})
	if err != nil {
		h.writeWSError(conn, err, reqID)
		return
	}

	detach := h.Calls.Attach(call.ID, sessions.Handle{
		Cancel: live.Cancel,
		Warn:   live.SendWarning,
	})
	defer detach()

	if err := live.Run(); err != nil {
		logger.Warn("call socket ended with error", "session_id", call.ID, "request_id", reqID, "error", err)
	}
	if !owned && call.Ended() {
		_ = h.Calls.Close(call.ID)
	}
}

func (h CallWSHandler) resolveCall(r *http.Request, key string) (*session.Call, bool, error) {
	if id := strings.TrimSpace(r.URL.Query().Get("call_id")); id != "" {
		call, err := h.Calls.Get(id, key)
		return call, false, err
	}
	call, err := h.Opener.Open(key)
	return call, true, err
}

func (h CallWSHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

// writeWSError sends a terminal error frame and a close frame.
func (h CallWSHandler) writeWSError(conn *websocket.Conn, err error, reqID string) {
	coreErr, _ := apierror.FromError(err, reqID)
	frame := protocol.ServerError{
		Type:    protocol.TypeError,
		Code:    string(coreErr.Type),
		Message: coreErr.Message,
		Param:   coreErr.Param,
		Close:   true,
	}
	if coreErr.Code != "" {
		frame.Code = coreErr.Code
	}
	deadline := time.Now().Add(h.writeTimeout())
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(frame)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, frame.Code), deadline)
}

func (h CallWSHandler) writeTimeout() time.Duration {
	if h.Config.WSWriteTimeout > 0 {
		return h.Config.WSWriteTimeout
	}
	return 5 * time.Second
}

package handlers

import (
	"net/http"

	"github.com/vango-go/partyline/pkg/core"
	"github.com/vango-go/partyline/pkg/gateway/config"
	"github.com/vango-go/partyline/pkg/gateway/live/protocol"
	"github.com/vango-go/partyline/pkg/gateway/live/session"
	"github.com/vango-go/partyline/pkg/gateway/live/sessions"
	"github.com/vango-go/partyline/pkg/gateway/principal"
)

var (
	errTextTooLong   = core.NewInvalidRequestErrorWithParam("text is too long", "text")
	errValueRequired = core.NewInvalidRequestErrorWithParam("value is required", "value")
)

type turnRequest struct {
	Text string `json:"text"`
}

type energyRequest struct {
	Value *float64 `json:"value"`
}

// CallsHandler is the request/response surface over calls, for clients
// that do not hold a WebSocket open.
type CallsHandler struct {
	Config config.Config
	Opener CallOpener
	Calls  *sessions.Manager
}

// Create handles POST /v1/calls.
func (h CallsHandler) Create(w http.ResponseWriter, r *http.Request) {
	key := principal.Resolve(r, h.Config.TrustProxyHeaders).Key
	call, err := h.Opener.Open(key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, call.Hello())
}

// Get handles GET /v1/calls/{id}.
func (h CallsHandler) Get(w http.ResponseWriter, r *http.Request) {
	call, err := h.lookup(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, call.Snapshot())
}

// Turn handles POST /v1/calls/{id}/turns.
func (h CallsHandler) Turn(w http.ResponseWriter, r *http.Request) {
	call, err := h.lookup(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req turnRequest
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.Text) > protocol.MaxTranscriptBytes {
		writeError(w, r, errTextTooLong)
		return
	}

	p := call.Step(r.Context(), req.Text)
	if p.Terminal() {
		_ = h.Calls.Close(call.ID)
	}
	writeJSON(w, http.StatusOK, protocol.PlanFrame(p))
}

// Energy handles POST /v1/calls/{id}/energy.
func (h CallsHandler) Energy(w http.ResponseWriter, r *http.Request) {
	call, err := h.lookup(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req energyRequest
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Value == nil {
		writeError(w, r, errValueRequired)
		return
	}
	call.SetIntensity(*req.Value)
	writeJSON(w, http.StatusOK, protocol.AckFrame())
}

// Delete handles DELETE /v1/calls/{id}.
func (h CallsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	call, err := h.lookup(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := call.End()
	if err := h.Calls.Close(call.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.PlanFrame(p))
}

func (h CallsHandler) lookup(r *http.Request) (*session.Call, error) {
	key := principal.Resolve(r, h.Config.TrustProxyHeaders).Key
	return h.Calls.Get(r.PathValue("id"), key)
}

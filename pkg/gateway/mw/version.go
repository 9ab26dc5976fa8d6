package mw

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/vango-go/partyline/pkg/core"
	"github.com/vango-go/partyline/pkg/gateway/live/protocol"
)

const (
	versionHeader = "X-Partyline-Version"
	// Browsers cannot set headers on a WebSocket handshake.
	versionQuery = "v"
)

// ProtocolVersion pins the call frame and plan schema. A client may name the
// version it speaks; a mismatch is rejected before a call is opened or a
// socket upgraded. Responses on call routes carry the server's version.
// Audio clips are raw bytes and are not versioned.
func ProtocolVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !carriesCallProtocol(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(versionHeader, protocol.Version)

		requested, param := requestedVersion(r)
		if requested != "" && requested != protocol.Version {
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusBadRequest, &core.Error{
				Type:      core.ErrInvalidRequest,
				Message:   fmt.Sprintf("call protocol version %q is not supported; server speaks %s", requested, protocol.Version),
				Param:     param,
				Code:      "unsupported_version",
				RequestID: reqID,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func carriesCallProtocol(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return false
	}
	switch routeFamily(r.URL.Path) {
	case "/v1/call", "/v1/calls":
		return true
	}
	return false
}

// requestedVersion prefers the header; the query parameter only counts on
// a socket handshake.
func requestedVersion(r *http.Request) (version, param string) {
	if v := strings.TrimSpace(r.Header.Get(versionHeader)); v != "" {
		return v, versionHeader
	}
	if isWebSocketUpgrade(r) {
		if v := strings.TrimSpace(r.URL.Query().Get(versionQuery)); v != "" {
			return v, versionQuery
		}
	}
	return "", ""
}

func isWebSocketUpgrade(r *http.Request) bool {
	if !headerHasToken(r.Header, "Connection", "upgrade") {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, value := range h.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

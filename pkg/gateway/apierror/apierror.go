package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/partyline/pkg/call/persona"
	"github.com/vango-go/partyline/pkg/core"
	"github.com/vango-go/partyline/pkg/gateway/live/protocol"
	"github.com/vango-go/partyline/pkg/gateway/live/sessions"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	var decodeErr *protocol.DecodeError
	if errors.As(err, &decodeErr) && decodeErr != nil {
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   decodeErr.Message,
			Param:     decodeErr.Param,
			Code:      decodeErr.Code,
			RequestID: requestID,
		}, http.StatusBadRequest
	}

	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return &core.Error{Type: core.ErrNotFound, Message: "call not found", RequestID: requestID}, http.StatusNotFound
	case errors.Is(err, sessions.ErrDraining):
		return &core.Error{Type: core.ErrOverloaded, Message: "server is draining", Code: "draining", RequestID: requestID}, http.StatusServiceUnavailable
	case errors.Is(err, persona.ErrNotFound):
		return &core.Error{Type: core.ErrPersonaNotFound, Message: err.Error(), RequestID: requestID}, http.StatusNotFound
	case errors.Is(err, persona.ErrExists):
		return &core.Error{Type: core.ErrPersonaExists, Message: err.Error(), RequestID: requestID}, http.StatusConflict
	case errors.Is(err, persona.ErrInvalid):
		return &core.Error{Type: core.ErrInvalidRequest, Message: err.Error(), Param: "id", RequestID: requestID}, http.StatusBadRequest
	}

	// Unknown errors are not leaked to callers.
	return &core.Error{
		Type:      core.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrPermission:
		return http.StatusForbidden
	case core.ErrNotFound, core.ErrPersonaNotFound:
		return http.StatusNotFound
	case core.ErrPersonaExists:
		return http.StatusConflict
	case core.ErrRateLimit:
		return http.StatusTooManyRequests
	case core.ErrOverloaded:
		return http.StatusServiceUnavailable
	case core.ErrGeneration, core.ErrSynthesis:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Package protocol defines the JSON frames exchanged on the /v1/call
// WebSocket.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/vango-go/partyline/pkg/call/plan"
)

// Version is the frame and plan schema spoken on the call routes.
const Version = "1"

// Client frame types.
const (
	TypeUserTranscript = "user_transcript"
	TypeSetBGEnergy    = "set_bg_energy"
	TypeEndCall        = "end_call"
)

// Server frame types.
const (
	TypeHello = "hello"
	TypePlan  = "plan"
	TypeAck   = "ack"
	TypeError = "error"
)

// MaxTranscriptBytes bounds a single user_transcript text.
const MaxTranscriptBytes = 4096

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type UserTranscript struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type SetBGEnergy struct {
	Type  string   `json:"type"`
	Value *float64 `json:"value"`
}

type EndCall struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses one client frame. Unknown fields are rejected.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeUserTranscript:
		var msg UserTranscript
		if err := strictUnmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid user_transcript frame", "")
		}
		if len(msg.Text) > MaxTranscriptBytes {
			return nil, badRequest("user_transcript.text is too long", "text")
		}
		return msg, nil
	case TypeSetBGEnergy:
		var msg SetBGEnergy
		if err := strictUnmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid set_bg_energy frame", "")
		}
		if msg.Value == nil {
			return nil, badRequest("set_bg_energy.value is required", "value")
		}
		if math.IsNaN(*msg.Value) || math.IsInf(*msg.Value, 0) {
			return nil, badRequest("set_bg_energy.value must be finite", "value")
		}
		return msg, nil
	case TypeEndCall:
		var msg EndCall
		if err := strictUnmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid end_call frame", "")
		}
		return msg, nil
	default:
		return nil, unsupported("unsupported message type", "type")
	}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type HelloTiming struct {
	HandoffMinS float64 `json:"handoff_min_s"`
	HandoffMaxS float64 `json:"handoff_max_s"`
}

type ServerHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	SceneID         string      `json:"scene_id"`
	Title           string      `json:"title"`
	Timing          HelloTiming `json:"timing"`
	OverlapMS       int         `json:"overlap_ms"`
}

type ServerPlan struct {
	Type string    `json:"type"`
	Data plan.Plan `json:"data"`
}

type ServerAck struct {
	Type string `json:"type"`
	OK   bool   `json:"ok"`
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	Close   bool   `json:"close,omitempty"`
}

func PlanFrame(p plan.Plan) ServerPlan {
	return ServerPlan{Type: TypePlan, Data: p}
}

func AckFrame() ServerAck {
	return ServerAck{Type: TypeAck, OK: true}
}

func ErrorFrame(code, message string) ServerError {
	return ServerError{Type: TypeError, Code: code, Message: message}
}

// ErrorFrameFrom renders a decode failure as an error frame.
func ErrorFrameFrom(err error) ServerError {
	var de *DecodeError
	if errors.As(err, &de) && de != nil {
		return ServerError{Type: TypeError, Code: de.Code, Message: de.Message, Param: de.Param}
	}
	return ErrorFrame("internal", "internal error")
}

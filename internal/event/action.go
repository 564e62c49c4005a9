package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Response statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Retcodes.
const (
	RetcodeOK         = 0
	RetcodeBadRequest = 1400
	RetcodeNoTarget   = 1404
	RetcodeExecFailed = 1500
	RetcodeTimeout    = 1504
)

// ActionRequest is an outbound command routed to one adapter. Echo is the
// caller's opaque correlation token and is returned untouched.
type ActionRequest struct {
	Action string          `json:"action"`
	Params map[string]any  `json:"params,omitempty"`
	SelfID ID              `json:"self_id,omitempty"`
	Echo   json.RawMessage `json:"echo,omitempty"`
}

// ActionResponse answers exactly one ActionRequest, matched by Echo.
type ActionResponse struct {
	Status  string          `json:"status"`
	Retcode int             `json:"retcode"`
	Data    any             `json:"data"`
	Message string          `json:"message,omitempty"`
	Echo    json.RawMessage `json:"echo,omitempty"`
}

// OK reports whether the action succeeded.
func (r ActionResponse) OK() bool { return r.Status == StatusOK && r.Retcode == RetcodeOK }

// Succeeded builds a successful response.
func Succeeded(data any, echo json.RawMessage) ActionResponse {
	return ActionResponse{Status: StatusOK, Retcode: RetcodeOK, Data: data, Echo: echo}
}

// Failed builds a failed response.
func Failed(retcode int, msg string, echo json.RawMessage) ActionResponse {
	return ActionResponse{Status: StatusFailed, Retcode: retcode, Message: msg, Echo: echo}
}

// SendMessage builds the send_msg action replying to ev with text.
func SendMessage(ev Event, text string) ActionRequest {
	params := map[string]any{
		"message_type": ev.MessageType,
		"message":      text,
	}
	switch {
	case ev.GroupID != "":
		params["group_id"] = ev.GroupID
	case ev.ChannelID != "":
		params["channel_id"] = ev.ChannelID
	default:
		params["user_id"] = ev.UserID
	}
	return ActionRequest{Action: "send_msg", Params: params, SelfID: ev.SelfID}
}

// ErrUnknownFrame is returned for frames that are neither event, request nor response.
var ErrUnknownFrame = errors.New("unknown frame")

// Frame is one decoded text message from a connection. Exactly one field is set.
type Frame struct {
	Event    *Event
	Request  *ActionRequest
	Response *ActionResponse
}

// DecodeFrame classifies and decodes a single JSON frame.
func DecodeFrame(data []byte) (Frame, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case probe["post_type"] != nil:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return Frame{}, fmt.Errorf("decode event: %w", err)
		}
		return Frame{Event: &ev}, nil
	case probe["action"] != nil:
		var req ActionRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return Frame{}, fmt.Errorf("decode action: %w", err)
		}
		return Frame{Request: &req}, nil
	case probe["status"] != nil || probe["retcode"] != nil:
		var resp ActionResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return Frame{}, fmt.Errorf("decode response: %w", err)
		}
		return Frame{Response: &resp}, nil
	}
	return Frame{}, ErrUnknownFrame
}

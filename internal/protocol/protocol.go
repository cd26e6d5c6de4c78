// Package protocol defines the control channel wire format: commands pushed by
// the backend and the response envelopes the connector writes back.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ResponseType is the envelope tag of every response frame
const ResponseType = "response"

// HeartbeatType is the envelope tag of keep-alive frames
const HeartbeatType = "heartbeat"

// ErrMalformedCommand is returned for frames that are not a command object
var ErrMalformedCommand = errors.New("malformed command frame")

// Command is an inbound request from the backend
type Command struct {
	Command   string                 `json:"command"`
	RequestID string                 `json:"request_id"`
	Params    map[string]interface{} `json:"params,omitempty"`
}

// Response is the reply to a Command
type Response struct {
	Type      string      `json:"type"`
	RequestID string      `json:"request_id"`
	Command   string      `json:"command"`
	Success   bool        `json:"success"`
	Error     string      `json:"error,omitempty"`
	Result    interface{} `json:"result"`
	Timestamp string      `json:"timestamp"`
}

// Heartbeat is a keep-alive frame sent on an idle channel
type Heartbeat struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// ErrorResult is the result payload of a failed command
type ErrorResult struct {
	Error string `json:"error"`
}

// ParseCommand decodes a text frame. The frame must be a JSON object with
// string "command" and "request_id" members. Params that are not an object
// are ignored, leaving every parameter at its default.
func ParseCommand(data []byte) (Command, error) {
	var raw struct {
		Command   *string         `json:"command"`
		RequestID *string         `json:"request_id"`
		Params    json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedCommand, err)
	}
	if raw.Command == nil || raw.RequestID == nil {
		return Command{}, fmt.Errorf("%w: command and request_id are required", ErrMalformedCommand)
	}
	cmd := Command{
		Command:   *raw.Command,
		RequestID: *raw.RequestID,
	}
	if len(raw.Params) > 0 {
		var params map[string]interface{}
		if err := json.Unmarshal(raw.Params, &params); err == nil {
			cmd.Params = params
		}
	}
	return cmd, nil
}

// NewResponse builds the envelope for cmd. A non-empty errMsg marks the
// response as failed; result is sent as-is in both cases.
func NewResponse(cmd Command, result interface{}, errMsg string, now time.Time) Response {
	return Response{
		Type:      ResponseType,
		RequestID: cmd.RequestID,
		Command:   cmd.Command,
		Success:   errMsg == "",
		Error:     errMsg,
		Result:    result,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// NewHeartbeat builds a heartbeat frame
func NewHeartbeat(now time.Time) Heartbeat {
	return Heartbeat{
		Type:      HeartbeatType,
		Timestamp: now.UTC().Format(time.RFC3339),
		Status:    "online",
	}
}

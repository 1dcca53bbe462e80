package protocol

import (
	"encoding/json"
	"fmt"
)

// ProtocolVersion is the wire protocol version advertised on /health and
// during connect. Bump when RequestFrame/ResponseFrame/EventFrame shapes
// change in a client-visible way.
const ProtocolVersion = 3

// Frame type discriminators (the "type" field every frame carries).
const (
	FrameTypeRequest  = "request"
	FrameTypeResponse = "response"
	FrameTypeEvent    = "event"
)

// ErrorCode identifies the class of failure carried in a ResponseFrame.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "invalid_request"
	ErrUnauthorized    ErrorCode = "unauthorized"
	ErrNotFound        ErrorCode = "not_found"
	ErrRateLimited     ErrorCode = "rate_limited"
	ErrMethodNotFound  ErrorCode = "method_not_found"
	ErrInternal        ErrorCode = "internal_error"
	ErrIdempotencyBusy ErrorCode = "idempotency_conflict"
)

// RequestFrame is a client -> server RPC call.
type RequestFrame struct {
	Type           string          `json:"type"`
	ID             string          `json:"id"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

// ErrorObj is the error payload of a failed ResponseFrame.
type ErrorObj struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ResponseFrame is a server -> client reply to a RequestFrame, correlated
// by ID.
type ResponseFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   *ErrorObj   `json:"error,omitempty"`
}

// EventFrame is a server -> client push, not correlated to any request.
type EventFrame struct {
	Type    string      `json:"type"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewOKResponse builds a successful ResponseFrame for the given request ID.
func NewOKResponse(id string, payload interface{}) ResponseFrame {
	return ResponseFrame{Type: FrameTypeResponse, ID: id, OK: true, Payload: payload}
}

// NewErrorResponse builds a failed ResponseFrame for the given request ID.
func NewErrorResponse(id string, code ErrorCode, message string) ResponseFrame {
	return ResponseFrame{Type: FrameTypeResponse, ID: id, OK: false, Error: &ErrorObj{Code: code, Message: message}}
}

// NewEvent builds an EventFrame for the given event name and payload.
func NewEvent(event string, payload interface{}) *EventFrame {
	return &EventFrame{Type: FrameTypeEvent, Event: event, Payload: payload}
}

type frameTypePeek struct {
	Type string `json:"type"`
}

// ParseFrameType sniffs the "type" discriminator out of a raw wire frame
// without fully unmarshaling it, so the reader can pick the right concrete
// struct to decode into.
func ParseFrameType(raw []byte) (string, error) {
	var peek frameTypePeek
	if err := json.Unmarshal(raw, &peek); err != nil {
		return "", fmt.Errorf("parse frame type: %w", err)
	}
	if peek.Type == "" {
		return "", fmt.Errorf("frame missing \"type\" field")
	}
	return peek.Type, nil
}

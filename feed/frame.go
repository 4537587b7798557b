// Package feed implements the live wire protocol for Conduct — a
// frame-based protocol that carries admin operations and server-push
// transition events. It is transported over WebSocket (primary), SSE
// (read-only fallback), and HTTP (one-shot RPC).
package feed

import (
	"encoding/json"
	"time"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the feed message envelope. Every message exchanged over
// the protocol is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "command.admit").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (typically only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Channel identifies the subscription topic for event/subscribe frames.
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Credits replenishes flow-control credits (backpressure).
	Credits int `json:"credits,omitempty" msgpack:"credits,omitempty"`

	// Seq carries the transition-log sequence number on event frames so
	// consumers can detect gaps after a reconnect.
	Seq int64 `json:"seq,omitempty" msgpack:"seq,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	// Auth methods.
	MethodAuth = "auth"

	// Command methods.
	MethodCommandAdmit    = "command.admit"
	MethodCommandGet      = "command.get"
	MethodCommandAttempts = "command.attempts"

	// Workflow methods.
	MethodWorkflowTrigger  = "workflow.trigger"
	MethodWorkflowGet      = "workflow.get"
	MethodWorkflowTimeline = "workflow.timeline"
	MethodWorkflowResume   = "workflow.resume"

	// Subscription methods.
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"

	// Admin methods.
	MethodCronList  = "cron.list"
	MethodDLQList   = "dlq.list"
	MethodDLQReplay = "dlq.replay"
	MethodStats     = "stats"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeForbidden      = 403
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeConflict       = 409
	ErrCodeInternal       = 500
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// CommandAdmitRequest submits a command draft for admission.
type CommandAdmitRequest struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Profile        string          `json:"profile,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	Queue          string          `json:"queue,omitempty"`
	Priority       int             `json:"priority,omitempty"`
}

// CommandAdmitResponse confirms admission. Deduplicated reports whether
// the draft matched an already-admitted command instead of creating one.
type CommandAdmitResponse struct {
	CommandID    string `json:"command_id"`
	Status       string `json:"status"`
	Queue        string `json:"queue"`
	Deduplicated bool   `json:"deduplicated"`
}

// CommandGetRequest retrieves a command by ID.
type CommandGetRequest struct {
	CommandID string `json:"command_id"`
}

// CommandAttemptsRequest retrieves the attempt history for a command.
type CommandAttemptsRequest struct {
	CommandID string `json:"command_id"`
}

// WorkflowTriggerRequest starts a new workflow run.
type WorkflowTriggerRequest struct {
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// WorkflowTriggerResponse confirms workflow start.
type WorkflowTriggerResponse struct {
	RunID  string `json:"run_id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// WorkflowGetRequest retrieves a workflow run.
type WorkflowGetRequest struct {
	RunID string `json:"run_id"`
}

// WorkflowTimelineRequest gets the checkpoint timeline for a run.
type WorkflowTimelineRequest struct {
	RunID string `json:"run_id"`
}

// WorkflowResumeRequest resumes a blocked or partial workflow run.
type WorkflowResumeRequest struct {
	RunID string `json:"run_id"`
}

// DLQListRequest lists dead-letter entries with optional filters.
type DLQListRequest struct {
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Source string `json:"source,omitempty"`
	Status string `json:"status,omitempty"`
	Queue  string `json:"queue,omitempty"`
}

// DLQReplayRequest requests replay of a dead-letter entry.
type DLQReplayRequest struct {
	EntryID string `json:"entry_id"`
}

// DLQReplayResponse reports the command admitted by the replay.
type DLQReplayResponse struct {
	CommandID string `json:"command_id"`
	Status    string `json:"status"`
}

// SubscribeRequest subscribes to a topic channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
	Credits int    `json:"credits,omitempty"` // Initial credits (0 = use default)
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// NewRequestFrame creates a new request frame.
func NewRequestFrame(id, method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        id,
		Type:      FrameRequest,
		Method:    method,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        generateFrameID(),
		Type:      FrameResponse,
		CorrelID:  correlID,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	return &Frame{
		ID:       generateFrameID(),
		Type:     FrameErr,
		CorrelID: correlID,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewEventFrame creates an event frame for a subscription channel.
func NewEventFrame(channel string, seq int64, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Frame{
		ID:        generateFrameID(),
		Type:      FrameEvent,
		Channel:   channel,
		Seq:       seq,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// GenerateFrameID returns a new unique frame ID.
// Uses a simple timestamp-based approach for performance.
func GenerateFrameID() string {
	return time.Now().UTC().Format("20060102150405.000000000")
}

func generateFrameID() string { return GenerateFrameID() }

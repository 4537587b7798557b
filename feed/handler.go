package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/engine"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/stream"
	"github.com/conduct-dev/conduct/workflow"
)

// Handler dispatches feed frames to engine operations.
type Handler struct {
	eng    *engine.Engine
	broker *stream.Broker
	conns  *ConnectionManager
	logger *slog.Logger
}

// NewHandler creates a new feed method handler.
func NewHandler(eng *engine.Engine, broker *stream.Broker, logger *slog.Logger) *Handler {
	return &Handler{eng: eng, broker: broker, logger: logger}
}

// SetConnections attaches the connection manager so stats can report
// the live connection count.
func (h *Handler) SetConnections(cm *ConnectionManager) {
	h.conns = cm
}

// Handle processes a single request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	switch frame.Method {
	case MethodCommandAdmit:
		return h.handleCommandAdmit(ctx, frame, conn)
	case MethodCommandGet:
		return h.handleCommandGet(ctx, frame)
	case MethodCommandAttempts:
		return h.handleCommandAttempts(ctx, frame)
	case MethodWorkflowTrigger:
		return h.handleWorkflowTrigger(ctx, frame, conn)
	case MethodWorkflowGet:
		return h.handleWorkflowGet(ctx, frame)
	case MethodWorkflowTimeline:
		return h.handleWorkflowTimeline(ctx, frame)
	case MethodWorkflowResume:
		return h.handleWorkflowResume(ctx, frame, conn)
	case MethodSubscribe:
		return h.handleSubscribe(frame)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame)
	case MethodCronList:
		return h.handleCronList(ctx, frame)
	case MethodDLQList:
		return h.handleDLQList(ctx, frame)
	case MethodDLQReplay:
		return h.handleDLQReplay(ctx, frame, conn)
	case MethodStats:
		return h.handleStats(frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

func (h *Handler) handleCommandAdmit(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req CommandAdmitRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	c, created, err := h.eng.AdmitDraft(ctx, command.Draft{
		Type:           req.Type,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Profile:        req.Profile,
		MaxAttempts:    req.MaxAttempts,
		Queue:          req.Queue,
		Priority:       req.Priority,
		Actor:          conn.Actor(),
	})
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "admit failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, CommandAdmitResponse{
		CommandID:    c.ID.String(),
		Status:       string(c.Status),
		Queue:        c.Queue,
		Deduplicated: !created,
	})
}

func (h *Handler) handleCommandGet(ctx context.Context, frame *Frame) *Frame {
	var req CommandGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	commandID, err := id.ParseCommandID(req.CommandID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid command ID: "+err.Error())
	}

	c, err := h.eng.Dispatcher().GetCommand(ctx, commandID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeNotFound, "command not found: "+err.Error())
	}

	return mustResponseFrame(frame.ID, c)
}

func (h *Handler) handleCommandAttempts(ctx context.Context, frame *Frame) *Frame {
	var req CommandAttemptsRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	commandID, err := id.ParseCommandID(req.CommandID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid command ID: "+err.Error())
	}

	attempts, err := h.eng.Dispatcher().ListAttempts(ctx, commandID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "list attempts failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, attempts)
}

func (h *Handler) handleWorkflowTrigger(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req WorkflowTriggerRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	run, err := h.eng.Router().TriggerRaw(ctx, req.Name, req.Input, "feed", conn.Actor())
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "workflow trigger failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, WorkflowTriggerResponse{
		RunID:  run.ID.String(),
		Name:   run.Name,
		Status: string(run.Status),
	})
}

func (h *Handler) handleWorkflowGet(ctx context.Context, frame *Frame) *Frame {
	var req WorkflowGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	wfStore, ok := h.eng.Runtime().Store().(workflow.Store)
	if !ok {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "store does not support workflow operations")
	}

	run, getErr := wfStore.GetRun(ctx, runID)
	if getErr != nil {
		return NewErrorFrame(frame.ID, ErrCodeNotFound, "run not found: "+getErr.Error())
	}

	return mustResponseFrame(frame.ID, run)
}

func (h *Handler) handleWorkflowTimeline(ctx context.Context, frame *Frame) *Frame {
	var req WorkflowTimelineRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	wfStore, ok := h.eng.Runtime().Store().(workflow.Store)
	if !ok {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "store does not support workflow operations")
	}

	checkpoints, err := wfStore.ListCheckpoints(ctx, runID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "timeline failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, checkpoints)
}

func (h *Handler) handleWorkflowResume(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req WorkflowResumeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	runID, err := id.ParseRunID(req.RunID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid run ID: "+err.Error())
	}

	run, err := h.eng.ResumeWorkflow(ctx, runID, conn.Actor())
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeConflict, "resume failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, WorkflowTriggerResponse{
		RunID:  run.ID.String(),
		Name:   run.Name,
		Status: string(run.Status),
	})
}

func (h *Handler) handleSubscribe(frame *Frame) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	if err := stream.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	// Actual subscription is done in the server loop after response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	// Actual unsubscription is done in the server loop after response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "unsubscribed",
	})
}

func (h *Handler) handleCronList(ctx context.Context, frame *Frame) *Frame {
	entries, err := h.eng.CronStore().ListCrons(ctx)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "cron list failed: "+err.Error())
	}
	return mustResponseFrame(frame.ID, entries)
}

func (h *Handler) handleDLQList(ctx context.Context, frame *Frame) *Frame {
	var req DLQListRequest
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
		}
	}

	entries, err := h.eng.DLQ().Store().ListDeadLetters(ctx, dlq.ListOpts{
		Limit:        req.Limit,
		Offset:       req.Offset,
		SourceType:   dlq.SourceType(req.Source),
		ReplayStatus: dlq.ReplayStatus(req.Status),
		Queue:        req.Queue,
	})
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeInternal, "dlq list failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, entries)
}

func (h *Handler) handleDLQReplay(ctx context.Context, frame *Frame, conn *Connection) *Frame {
	var req DLQReplayRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	entryID, err := id.ParseDeadLetterID(req.EntryID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid entry ID: "+err.Error())
	}

	c, err := h.eng.ReplayDeadLetter(ctx, entryID, conn.Actor())
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeConflict, "replay failed: "+err.Error())
	}

	return mustResponseFrame(frame.ID, DLQReplayResponse{
		CommandID: c.ID.String(),
		Status:    string(c.Status),
	})
}

func (h *Handler) handleStats(frame *Frame) *Frame {
	stats := map[string]any{
		"broker": h.broker.Stats(),
	}
	if h.conns != nil {
		stats["connections"] = h.conns.Count()
	}
	return mustResponseFrame(frame.ID, stats)
}

package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/id"
)

// AdmitCommandRequest is the body of POST /v1/commands.
type AdmitCommandRequest struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Profile        string          `json:"profile,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	Queue          string          `json:"queue,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	RunAt          time.Time       `json:"run_at,omitempty"`
}

// AdmitCommandResponse is the result of POST /v1/commands.
type AdmitCommandResponse struct {
	Command      *command.Command `json:"command"`
	Deduplicated bool             `json:"deduplicated"`
}

// CommandCountsResponse groups command counts by status.
type CommandCountsResponse struct {
	Queued         int64 `json:"queued"`
	Running        int64 `json:"running"`
	Succeeded      int64 `json:"succeeded"`
	RetryScheduled int64 `json:"retry_scheduled"`
	FailedTerminal int64 `json:"failed_terminal"`
	DeadLettered   int64 `json:"dead_lettered"`
}

func (a *API) admitCommand(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	var req AdmitCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Type == "" {
		a.writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	c, created, err := a.eng.AdmitDraft(r.Context(), command.Draft{
		Type:           req.Type,
		Payload:        req.Payload,
		IdempotencyKey: req.IdempotencyKey,
		Profile:        req.Profile,
		MaxAttempts:    req.MaxAttempts,
		Queue:          req.Queue,
		Priority:       req.Priority,
		RunAt:          req.RunAt,
		Actor:          actor,
	})
	if err != nil {
		a.storeError(w, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	a.writeJSON(w, status, AdmitCommandResponse{Command: c, Deduplicated: !created})
}

func (a *API) listCommands(w http.ResponseWriter, r *http.Request) {
	cs, ok := a.eng.Runtime().Store().(command.Store)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "store does not support command queries")
		return
	}

	q := r.URL.Query()
	commands, err := cs.ListCommands(r.Context(), command.ListOpts{
		Limit:  defaultLimit(queryInt(r, "limit")),
		Offset: queryInt(r, "offset"),
		Queue:  q.Get("queue"),
		Type:   q.Get("type"),
		Status: command.Status(q.Get("status")),
	})
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, commands)
}

func (a *API) getCommand(w http.ResponseWriter, r *http.Request) {
	commandID, err := id.ParseCommandID(r.PathValue("commandID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid command ID: "+err.Error())
		return
	}

	c, err := a.eng.Dispatcher().GetCommand(r.Context(), commandID)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, c)
}

func (a *API) listAttempts(w http.ResponseWriter, r *http.Request) {
	commandID, err := id.ParseCommandID(r.PathValue("commandID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid command ID: "+err.Error())
		return
	}

	attempts, err := a.eng.Dispatcher().ListAttempts(r.Context(), commandID)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, attempts)
}

func (a *API) commandCounts(w http.ResponseWriter, r *http.Request) {
	cs, ok := a.eng.Runtime().Store().(command.Store)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "store does not support command queries")
		return
	}

	counts, err := a.countCommands(r, cs)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, counts)
}

func (a *API) countCommands(r *http.Request, cs command.Store) (CommandCountsResponse, error) {
	var resp CommandCountsResponse
	for _, status := range []command.Status{
		command.StatusQueued,
		command.StatusRunning,
		command.StatusSucceeded,
		command.StatusRetryScheduled,
		command.StatusFailedTerminal,
		command.StatusDeadLettered,
	} {
		count, err := cs.CountCommands(r.Context(), command.CountOpts{Status: status})
		if err != nil {
			return resp, err
		}
		switch status {
		case command.StatusQueued:
			resp.Queued = count
		case command.StatusRunning:
			resp.Running = count
		case command.StatusSucceeded:
			resp.Succeeded = count
		case command.StatusRetryScheduled:
			resp.RetryScheduled = count
		case command.StatusFailedTerminal:
			resp.FailedTerminal = count
		case command.StatusDeadLettered:
			resp.DeadLettered = count
		}
	}
	return resp, nil
}

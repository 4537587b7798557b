package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

// ListWorkflowNamesResponse lists registered workflow definitions.
type ListWorkflowNamesResponse struct {
	Names []string `json:"names"`
}

// TriggerWorkflowRequest is the body of POST /v1/workflows/{name}/trigger.
type TriggerWorkflowRequest struct {
	Input json.RawMessage `json:"input,omitempty"`
}

func (a *API) listWorkflowNames(w http.ResponseWriter, _ *http.Request) {
	names := a.eng.Router().Registry().Names()
	a.writeJSON(w, http.StatusOK, ListWorkflowNamesResponse{Names: names})
}

func (a *API) triggerWorkflow(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	name := r.PathValue("name")

	// An empty body triggers with no input.
	var req TriggerWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	run, err := a.eng.Router().TriggerRaw(r.Context(), name, req.Input, "api", actor)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusCreated, run)
}

func (a *API) listWorkflowRuns(w http.ResponseWriter, r *http.Request) {
	ws, ok := a.eng.Runtime().Store().(workflow.Store)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "store does not support workflow queries")
		return
	}

	q := r.URL.Query()
	runs, err := ws.ListRuns(r.Context(), workflow.ListOpts{
		Limit:  defaultLimit(queryInt(r, "limit")),
		Offset: queryInt(r, "offset"),
		Name:   q.Get("name"),
		Status: workflow.Status(q.Get("status")),
	})
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, runs)
}

func (a *API) getWorkflowRun(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(r.PathValue("runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid run ID: "+err.Error())
		return
	}

	ws, ok := a.eng.Runtime().Store().(workflow.Store)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "store does not support workflow queries")
		return
	}

	run, err := ws.GetRun(r.Context(), runID)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, run)
}

func (a *API) workflowTimeline(w http.ResponseWriter, r *http.Request) {
	runID, err := id.ParseRunID(r.PathValue("runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid run ID: "+err.Error())
		return
	}

	ws, ok := a.eng.Runtime().Store().(workflow.Store)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "store does not support workflow queries")
		return
	}

	checkpoints, err := ws.ListCheckpoints(r.Context(), runID)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, checkpoints)
}

func (a *API) resumeWorkflow(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	runID, err := id.ParseRunID(r.PathValue("runID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid run ID: "+err.Error())
		return
	}

	run, err := a.eng.ResumeWorkflow(r.Context(), runID, actor)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, run)
}

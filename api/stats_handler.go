package api

import (
	"net/http"

	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/stream"
	"github.com/conduct-dev/conduct/workflow"
)

// WorkflowCounts groups workflow run counts by status.
type WorkflowCounts struct {
	Active    int `json:"active"`
	Blocked   int `json:"blocked"`
	Partial   int `json:"partial"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// StatsResponse is the result of GET /v1/stats.
type StatsResponse struct {
	Commands     CommandCountsResponse `json:"commands"`
	Workflows    WorkflowCounts        `json:"workflows"`
	DLQCount     int64                 `json:"dlq_count"`
	LastEventSeq int64                 `json:"last_event_seq"`
	Broker       stream.BrokerStats    `json:"broker"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	cs, ok := a.eng.Runtime().Store().(command.Store)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "store does not support command queries")
		return
	}
	ws, ok := a.eng.Runtime().Store().(workflow.Store)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "store does not support workflow queries")
		return
	}
	es, ok := a.eng.Runtime().Store().(event.Store)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "store does not support event queries")
		return
	}

	ctx := r.Context()

	commandCounts, err := a.countCommands(r, cs)
	if err != nil {
		a.storeError(w, err)
		return
	}

	var wfCounts WorkflowCounts
	for _, status := range []workflow.Status{
		workflow.StatusActive,
		workflow.StatusBlocked,
		workflow.StatusPartial,
		workflow.StatusCompleted,
		workflow.StatusFailedTerminal,
	} {
		runs, listErr := ws.ListRuns(ctx, workflow.ListOpts{Status: status})
		if listErr != nil {
			a.storeError(w, listErr)
			return
		}
		switch status {
		case workflow.StatusActive:
			wfCounts.Active = len(runs)
		case workflow.StatusBlocked:
			wfCounts.Blocked = len(runs)
		case workflow.StatusPartial:
			wfCounts.Partial = len(runs)
		case workflow.StatusCompleted:
			wfCounts.Completed = len(runs)
		case workflow.StatusFailedTerminal:
			wfCounts.Failed = len(runs)
		}
	}

	dlqCount, err := a.eng.DLQ().Store().CountDeadLetters(ctx, dlq.ListOpts{})
	if err != nil {
		a.storeError(w, err)
		return
	}

	lastSeq, err := es.LastSeq(ctx)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, StatsResponse{
		Commands:     commandCounts,
		Workflows:    wfCounts,
		DLQCount:     dlqCount,
		LastEventSeq: lastSeq,
		Broker:       a.eng.Broker().Stats(),
	})
}

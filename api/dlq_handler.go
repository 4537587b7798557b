package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/conduct-dev/conduct/dlq"
	"github.com/conduct-dev/conduct/id"
)

// DLQCountResponse is the result of GET /v1/dlq/count.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// PurgeDLQRequest is the body of POST /v1/dlq/purge. A zero OlderThanDays
// purges entries older than 30 days.
type PurgeDLQRequest struct {
	OlderThanDays int `json:"older_than_days,omitempty"`
}

// PurgeDLQResponse is the result of POST /v1/dlq/purge.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := a.eng.DLQ().Store().ListDeadLetters(r.Context(), dlq.ListOpts{
		Limit:        defaultLimit(queryInt(r, "limit")),
		Offset:       queryInt(r, "offset"),
		SourceType:   dlq.SourceType(q.Get("source")),
		ReplayStatus: dlq.ReplayStatus(q.Get("replay_status")),
		Queue:        q.Get("queue"),
	})
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, entries)
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDeadLetterID(r.PathValue("entryID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid dead letter ID: "+err.Error())
		return
	}

	entry, err := a.eng.DLQ().Store().GetDeadLetter(r.Context(), entryID)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.actor(w, r)
	if !ok {
		return
	}

	entryID, err := id.ParseDeadLetterID(r.PathValue("entryID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid dead letter ID: "+err.Error())
		return
	}

	c, err := a.eng.ReplayDeadLetter(r.Context(), entryID, actor)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusCreated, c)
}

func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.actor(w, r); !ok {
		return
	}

	var req PurgeDLQRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	days := req.OlderThanDays
	if days <= 0 {
		days = 30
	}

	before := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	count, err := a.eng.DLQ().Store().PurgeDeadLetters(r.Context(), before)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, PurgeDLQResponse{Purged: count})
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.eng.DLQ().Store().CountDeadLetters(r.Context(), dlq.ListOpts{})
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, DLQCountResponse{Count: count})
}

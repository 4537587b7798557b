package api

import (
	"net/http"

	"github.com/conduct-dev/conduct/event"
)

func (a *API) listEvents(w http.ResponseWriter, r *http.Request) {
	es, ok := a.eng.Runtime().Store().(event.Store)
	if !ok {
		a.writeError(w, http.StatusInternalServerError, "store does not support event queries")
		return
	}

	q := r.URL.Query()
	opts := event.ListOpts{
		AfterSeq: queryInt64(r, "after_seq"),
		Limit:    defaultLimit(queryInt(r, "limit")),
		EntityID: q.Get("entity_id"),
		RunID:    q.Get("run_id"),
	}
	for _, t := range q["type"] {
		opts.Types = append(opts.Types, event.Type(t))
	}

	events, err := es.ListEvents(r.Context(), opts)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, events)
}

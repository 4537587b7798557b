package api

import (
	"net/http"
	"time"

	"github.com/conduct-dev/conduct/id"
)

func (a *API) listCrons(w http.ResponseWriter, r *http.Request) {
	entries, err := a.eng.CronStore().ListCrons(r.Context())
	if err != nil {
		a.storeError(w, err)
		return
	}

	// Basic pagination over the full set.
	limit := defaultLimit(queryInt(r, "limit"))
	offset := queryInt(r, "offset")
	if offset > len(entries) {
		offset = len(entries)
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}

	a.writeJSON(w, http.StatusOK, entries[offset:end])
}

func (a *API) getCron(w http.ResponseWriter, r *http.Request) {
	cronID, err := id.ParseCronID(r.PathValue("cronID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid cron ID: "+err.Error())
		return
	}

	entry, err := a.eng.CronStore().GetCron(r.Context(), cronID)
	if err != nil {
		a.storeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) enableCron(w http.ResponseWriter, r *http.Request) {
	a.setCronEnabled(w, r, true)
}

func (a *API) disableCron(w http.ResponseWriter, r *http.Request) {
	a.setCronEnabled(w, r, false)
}

func (a *API) setCronEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if _, ok := a.actor(w, r); !ok {
		return
	}

	cronID, err := id.ParseCronID(r.PathValue("cronID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid cron ID: "+err.Error())
		return
	}

	entry, err := a.eng.CronStore().GetCron(r.Context(), cronID)
	if err != nil {
		a.storeError(w, err)
		return
	}

	entry.Enabled = enabled
	entry.UpdatedAt = time.Now().UTC()
	if updateErr := a.eng.CronStore().UpdateCronEntry(r.Context(), entry); updateErr != nil {
		a.storeError(w, updateErr)
		return
	}

	a.writeJSON(w, http.StatusOK, entry)
}

func (a *API) deleteCron(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.actor(w, r); !ok {
		return
	}

	cronID, err := id.ParseCronID(r.PathValue("cronID"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid cron ID: "+err.Error())
		return
	}

	if delErr := a.eng.CronStore().DeleteCron(r.Context(), cronID); delErr != nil {
		a.storeError(w, delErr)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

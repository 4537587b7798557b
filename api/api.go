// Package api provides the admin HTTP control surface for Conduct.
//
// All routes live under /v1. Read endpoints are open; mutating endpoints
// (admit, trigger, resume, replay, cron toggles) require the caller to
// identify itself through the X-Conduct-Actor header so every transition
// carries an actor identity.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/engine"
)

// ActorHeader names the request header carrying the caller identity.
const ActorHeader = "X-Conduct-Actor"

// DefaultLimit bounds list responses when the caller gives no limit.
const DefaultLimit = 50

// API wires all HTTP handlers for the Conduct admin surface.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger for request-level warnings.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from a Conduct Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers all admin routes into the given mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	// Commands
	mux.HandleFunc("POST /v1/commands", a.admitCommand)
	mux.HandleFunc("GET /v1/commands", a.listCommands)
	mux.HandleFunc("GET /v1/commands/counts", a.commandCounts)
	mux.HandleFunc("GET /v1/commands/{commandID}", a.getCommand)
	mux.HandleFunc("GET /v1/commands/{commandID}/attempts", a.listAttempts)

	// Workflows
	mux.HandleFunc("GET /v1/workflows", a.listWorkflowNames)
	mux.HandleFunc("POST /v1/workflows/{name}/trigger", a.triggerWorkflow)
	mux.HandleFunc("GET /v1/workflows/runs", a.listWorkflowRuns)
	mux.HandleFunc("GET /v1/workflows/runs/{runID}", a.getWorkflowRun)
	mux.HandleFunc("GET /v1/workflows/runs/{runID}/timeline", a.workflowTimeline)
	mux.HandleFunc("POST /v1/workflows/runs/{runID}/resume", a.resumeWorkflow)

	// Dead letters
	mux.HandleFunc("GET /v1/dlq", a.listDLQ)
	mux.HandleFunc("GET /v1/dlq/count", a.dlqCount)
	mux.HandleFunc("GET /v1/dlq/{entryID}", a.getDLQ)
	mux.HandleFunc("POST /v1/dlq/{entryID}/replay", a.replayDLQ)
	mux.HandleFunc("POST /v1/dlq/purge", a.purgeDLQ)

	// Crons
	mux.HandleFunc("GET /v1/crons", a.listCrons)
	mux.HandleFunc("GET /v1/crons/{cronID}", a.getCron)
	mux.HandleFunc("POST /v1/crons/{cronID}/enable", a.enableCron)
	mux.HandleFunc("POST /v1/crons/{cronID}/disable", a.disableCron)
	mux.HandleFunc("DELETE /v1/crons/{cronID}", a.deleteCron)

	// Transition log
	mux.HandleFunc("GET /v1/events", a.listEvents)

	// Aggregates
	mux.HandleFunc("GET /v1/stats", a.stats)
}

// ── HTTP helpers ────────────────────────────────────

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("api: failed to encode response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}

// storeError maps sentinel errors to a status code. Not-found sentinels
// become 404, conflicts 409, everything else 500.
func (a *API) storeError(w http.ResponseWriter, err error) {
	switch {
	case isNotFound(err):
		a.writeError(w, http.StatusNotFound, err.Error())
	case isConflict(err):
		a.writeError(w, http.StatusConflict, err.Error())
	default:
		a.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, conduct.ErrCommandNotFound) ||
		errors.Is(err, conduct.ErrAttemptNotFound) ||
		errors.Is(err, conduct.ErrRunNotFound) ||
		errors.Is(err, conduct.ErrDeadLetterNotFound) ||
		errors.Is(err, conduct.ErrEventNotFound) ||
		errors.Is(err, conduct.ErrCronNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, conduct.ErrAlreadyReplayed) ||
		errors.Is(err, conduct.ErrReplayInFlight) ||
		errors.Is(err, conduct.ErrIllegalTransition) ||
		errors.Is(err, conduct.ErrDuplicateCron)
}

// actor extracts the caller identity and rejects the request when the
// header is absent. Mutating endpoints call this first.
func (a *API) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		a.writeError(w, http.StatusUnauthorized, ActorHeader+" header required")
		return "", false
	}
	return actor, true
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func queryInt64(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

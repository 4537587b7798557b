package contract

import (
	"fmt"

	"github.com/conduct-dev/conduct"
)

// Kind identifies which legal-transition table applies to an entity.
type Kind string

const (
	KindCommand    Kind = "command"
	KindWorkflow   Kind = "workflow"
	KindDeadLetter Kind = "dead_letter"
)

// Command lifecycle states. The command package re-exports these as its
// Status type; the table here is the single source of truth for legality.
const (
	CommandQueued          = "queued"
	CommandRunning         = "running"
	CommandSucceeded       = "succeeded"
	CommandRetryScheduled  = "retry_scheduled"
	CommandFailedTerminal  = "failed_terminal"
	CommandDeadLettered    = "dead_lettered"
	CommandReplayRequested = "replay_requested"
)

// Workflow run lifecycle states.
const (
	WorkflowPending        = "pending"
	WorkflowActive         = "active"
	WorkflowBlocked        = "blocked"
	WorkflowPartial        = "partial"
	WorkflowCompleted      = "completed"
	WorkflowFailedTerminal = "failed_terminal"
	WorkflowReplayActive   = "replay_active"
)

// Dead-letter replay status values. Replay status only advances forward.
const (
	ReplayNone      = "none"
	ReplayRequested = "replay_requested"
	ReplaySucceeded = "replay_succeeded"
	ReplayFailed    = "replay_failed"
)

// commandTransitions is the legal-transition table for commands.
//
// Happy path: queued → running → succeeded.
// Failure loop: running → retry_scheduled → queued, bounded by policy.
// Terminal path: running → failed_terminal → dead_lettered.
// Replay path: dead_lettered → replay_requested → queued.
// Reclaim path: running → queued when a crashed worker's lease expires.
var commandTransitions = map[string][]string{
	CommandQueued:          {CommandRunning},
	CommandRunning:         {CommandSucceeded, CommandRetryScheduled, CommandFailedTerminal, CommandQueued},
	CommandRetryScheduled:  {CommandQueued},
	CommandFailedTerminal:  {CommandDeadLettered},
	CommandDeadLettered:    {CommandReplayRequested},
	CommandReplayRequested: {CommandQueued},
	CommandSucceeded:       {},
}

// workflowTransitions is the legal-transition table for workflow runs.
// pending is never reachable again once left.
var workflowTransitions = map[string][]string{
	WorkflowPending:        {WorkflowActive},
	WorkflowActive:         {WorkflowBlocked, WorkflowPartial, WorkflowCompleted, WorkflowFailedTerminal},
	WorkflowBlocked:        {WorkflowActive},
	WorkflowPartial:        {WorkflowActive},
	WorkflowFailedTerminal: {WorkflowReplayActive},
	WorkflowReplayActive:   {WorkflowActive},
	WorkflowCompleted:      {},
}

// replayTransitions enforces forward-only replay status. A failed replay
// may be requested again; a succeeded replay never un-replays.
var replayTransitions = map[string][]string{
	ReplayNone:      {ReplayRequested},
	ReplayRequested: {ReplaySucceeded, ReplayFailed},
	ReplayFailed:    {ReplayRequested},
	ReplaySucceeded: {},
}

func tableFor(kind Kind) (map[string][]string, bool) {
	switch kind {
	case KindCommand:
		return commandTransitions, true
	case KindWorkflow:
		return workflowTransitions, true
	case KindDeadLetter:
		return replayTransitions, true
	default:
		return nil, false
	}
}

// ValidateTransition reports whether moving an entity of the given kind
// from one state to another is legal. Illegal moves return an error
// wrapping conduct.ErrIllegalTransition; they must be surfaced, never
// swallowed.
func ValidateTransition(kind Kind, from, to string) error {
	table, ok := tableFor(kind)
	if !ok {
		return fmt.Errorf("%w: unknown entity kind %q", conduct.ErrIllegalTransition, kind)
	}

	next, ok := table[from]
	if !ok {
		return fmt.Errorf("%w: %s has no state %q", conduct.ErrIllegalTransition, kind, from)
	}

	for _, s := range next {
		if s == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s %q → %q", conduct.ErrIllegalTransition, kind, from, to)
}

// Terminal reports whether a state has no outgoing transitions for the
// given kind. Unknown states are not terminal.
func Terminal(kind Kind, state string) bool {
	table, ok := tableFor(kind)
	if !ok {
		return false
	}
	next, ok := table[state]
	return ok && len(next) == 0
}

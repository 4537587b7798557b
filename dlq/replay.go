package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/command"
	"github.com/conduct-dev/conduct/event"
	"github.com/conduct-dev/conduct/id"
	"github.com/conduct-dev/conduct/workflow"
)

// Replay re-executes a dead-lettered entry on behalf of actor.
//
// For command entries it re-admits the original command under an
// epoch-suffixed idempotency key and returns the admitted command. For
// workflow entries it resumes the failed run from its last checkpoint
// and returns nil. Exactly one of two concurrent Replay calls for the
// same entry wins; the loser gets conduct.ErrReplayInFlight. An entry
// whose replay already succeeded returns conduct.ErrAlreadyReplayed.
func (s *Service) Replay(ctx context.Context, entryID id.DeadLetterID, actor string) (*command.Command, error) {
	entry, err := s.store.GetDeadLetter(ctx, entryID)
	if err != nil {
		return nil, err
	}

	switch entry.ReplayStatus {
	case ReplaySucceeded:
		return nil, fmt.Errorf("entry %s: %w", entry.ID, conduct.ErrAlreadyReplayed)
	case ReplayRequested:
		return nil, fmt.Errorf("entry %s: %w", entry.ID, conduct.ErrReplayInFlight)
	}

	// Claim the entry. Losing this CAS means another request got here
	// first between our read and now.
	prev := entry.ReplayStatus
	if err := s.store.SwapReplayStatus(ctx, entry.ID, prev, ReplayRequested); err != nil {
		return nil, err
	}

	switch entry.SourceType {
	case SourceWorkflow:
		return nil, s.replayWorkflow(ctx, entry, prev, actor)
	default:
		return s.replayCommand(ctx, entry, prev, actor)
	}
}

func (s *Service) replayCommand(ctx context.Context, entry *Entry, prev ReplayStatus, actor string) (*command.Command, error) {
	commandID, err := id.ParseCommandID(entry.SourceID)
	if err != nil {
		return nil, s.releaseClaim(ctx, entry, prev, err)
	}
	orig, err := s.commands.GetCommand(ctx, commandID)
	if err != nil {
		return nil, s.releaseClaim(ctx, entry, prev, err)
	}

	// Mark the original consumed. On a second replay after a failed one
	// the original is already in replay_requested; that is fine.
	if orig.Status == command.StatusDeadLettered {
		if err := orig.Transition(command.StatusReplayRequested); err != nil {
			return nil, s.releaseClaim(ctx, entry, prev, err)
		}
		if err := s.commands.UpdateCommand(ctx, orig); err != nil {
			return nil, s.releaseClaim(ctx, entry, prev, err)
		}
	}

	// Record the replay link before admitting: the worker can finish the
	// replayed command before Admit returns, and resolution must already
	// find the entry by the command ID.
	epoch := entry.ReplayEpoch + 1
	prevEpoch, prevCommandID := entry.ReplayEpoch, entry.ReplayCommandID
	entry.ReplayStatus = ReplayRequested
	entry.ReplayEpoch = epoch
	entry.ReplayCommandID = id.NewCommandID()
	if err := s.store.UpdateDeadLetter(ctx, entry); err != nil {
		entry.ReplayStatus = prev
		entry.ReplayEpoch = prevEpoch
		entry.ReplayCommandID = prevCommandID
		return nil, s.releaseClaim(ctx, entry, prev, err)
	}

	replayed, created, err := s.admitter.Admit(ctx, command.Draft{
		ID:             entry.ReplayCommandID,
		Type:           orig.Type,
		Payload:        orig.Payload,
		IdempotencyKey: command.ReplayKey(orig.IdempotencyKey, epoch),
		Profile:        orig.Profile,
		MaxAttempts:    orig.MaxAttempts,
		Queue:          orig.Queue,
		Priority:       orig.Priority,
		RunID:          orig.RunID,
		StepIndex:      orig.StepIndex,
		Actor:          actor,
		TraceID:        orig.TraceID,
	})
	if err != nil {
		// Nothing was admitted under the recorded ID, so no resolution
		// can have landed; restoring the entry is safe.
		entry.ReplayStatus = prev
		entry.ReplayEpoch = prevEpoch
		entry.ReplayCommandID = prevCommandID
		if upErr := s.store.UpdateDeadLetter(ctx, entry); upErr != nil {
			s.logger.Error("failed to release replay claim", "entry_id", entry.ID, "error", upErr)
		}
		return nil, err
	}

	if !created && replayed.ID.String() != entry.ReplayCommandID.String() {
		// An earlier replay at this epoch already admitted the command.
		// Repoint the entry at it, but never past a resolution that
		// landed in the meantime.
		if err := s.repointReplayCommand(ctx, entry, replayed.ID); err != nil {
			return nil, err
		}
	}
	if !created && (replayed.Status == command.StatusSucceeded || replayed.Status == command.StatusDeadLettered) {
		// The deduplicated command already finished; its worker resolved
		// before the entry pointed at it. Settle the entry now.
		if err := s.resolve(ctx, entry, replayed.Status == command.StatusSucceeded); err != nil && !errors.Is(err, conduct.ErrReplayInFlight) {
			return nil, err
		}
	}

	s.publishReplayEvent(ctx, event.EventCommandReplayRequested, entry, actor)
	if s.hooks != nil {
		s.hooks.EmitReplayRequested(ctx, entry.ID, replayed.ID)
	}

	s.logger.Info("dead letter replay requested",
		"entry_id", entry.ID, "command_id", replayed.ID, "epoch", epoch, "actor", actor)
	return replayed, nil
}

// repointReplayCommand updates the entry's replay command link through a
// guarded re-read, so a resolution that raced ahead is never overwritten.
func (s *Service) repointReplayCommand(ctx context.Context, entry *Entry, commandID id.CommandID) error {
	fresh, err := s.store.GetDeadLetter(ctx, entry.ID)
	if err != nil {
		return err
	}
	fresh.ReplayCommandID = commandID
	if err := s.store.UpdateDeadLetter(ctx, fresh); err != nil {
		return err
	}
	*entry = *fresh
	return nil
}

func (s *Service) replayWorkflow(ctx context.Context, entry *Entry, prev ReplayStatus, actor string) error {
	if s.resumer == nil {
		return s.releaseClaim(ctx, entry, prev, errors.New("dlq: no workflow resumer configured"))
	}
	runID, err := id.ParseRunID(entry.SourceID)
	if err != nil {
		return s.releaseClaim(ctx, entry, prev, err)
	}

	// Record the new epoch before resuming: Resume can apply a recorded
	// step outcome synchronously and drive the run terminal, and the
	// resolution that triggers must not be overwritten afterwards.
	prevEpoch := entry.ReplayEpoch
	entry.ReplayStatus = ReplayRequested
	entry.ReplayEpoch++
	if err := s.store.UpdateDeadLetter(ctx, entry); err != nil {
		entry.ReplayStatus = prev
		entry.ReplayEpoch = prevEpoch
		return s.releaseClaim(ctx, entry, prev, err)
	}

	if _, err := s.resumer.Resume(ctx, runID, actor); err != nil {
		// Roll back only if no resolution landed while Resume ran.
		fresh, getErr := s.store.GetDeadLetter(ctx, entry.ID)
		if getErr == nil && fresh.ReplayStatus == ReplayRequested {
			fresh.ReplayStatus = prev
			fresh.ReplayEpoch = prevEpoch
			if upErr := s.store.UpdateDeadLetter(ctx, fresh); upErr != nil {
				s.logger.Error("failed to release replay claim", "entry_id", entry.ID, "error", upErr)
			}
		}
		return err
	}

	s.publishReplayEvent(ctx, event.EventCommandReplayRequested, entry, actor)
	if s.hooks != nil {
		s.hooks.EmitReplayRequested(ctx, entry.ID, id.Nil)
	}

	s.logger.Info("dead letter replay requested",
		"entry_id", entry.ID, "run_id", runID, "epoch", entry.ReplayEpoch, "actor", actor)
	return nil
}

// releaseClaim rolls the entry's claim back to prev after a failed setup
// step so the replay can be requested again, then returns cause.
func (s *Service) releaseClaim(ctx context.Context, entry *Entry, prev ReplayStatus, cause error) error {
	if err := s.store.SwapReplayStatus(ctx, entry.ID, ReplayRequested, prev); err != nil {
		s.logger.Error("failed to release replay claim", "entry_id", entry.ID, "error", err)
	}
	return cause
}

// ResolveReplay records the outcome of a replayed command once it
// reaches a terminal state. Commands that were not admitted by a replay
// are ignored. The worker calls this for every terminal command.
func (s *Service) ResolveReplay(ctx context.Context, c *command.Command, success bool) error {
	entry, err := s.store.FindByReplayCommand(ctx, c.ID)
	if err != nil {
		if errors.Is(err, conduct.ErrDeadLetterNotFound) {
			return nil
		}
		return err
	}
	return s.resolve(ctx, entry, success)
}

// ResolveWorkflowReplay records the outcome of a resumed run once it
// reaches a terminal state. Runs without a pending workflow dead letter
// are ignored. The workflow router calls this when a replayed run
// completes or fails again.
func (s *Service) ResolveWorkflowReplay(ctx context.Context, run *workflow.Run, success bool) error {
	entry, err := s.store.FindByRun(ctx, run.ID)
	if err != nil {
		if errors.Is(err, conduct.ErrDeadLetterNotFound) {
			return nil
		}
		return err
	}
	if entry.ReplayStatus != ReplayRequested {
		return nil
	}
	return s.resolve(ctx, entry, success)
}

func (s *Service) resolve(ctx context.Context, entry *Entry, success bool) error {
	to := ReplayFailed
	evtType := event.EventCommandReplayFailed
	if success {
		to = ReplaySucceeded
		evtType = event.EventCommandReplaySucceeded
	}

	if err := s.store.SwapReplayStatus(ctx, entry.ID, ReplayRequested, to); err != nil {
		return err
	}

	now := time.Now().UTC()
	entry.ReplayStatus = to
	entry.ReplayedAt = &now
	if err := s.store.UpdateDeadLetter(ctx, entry); err != nil {
		return err
	}

	s.publishReplayEvent(ctx, evtType, entry, "")
	s.logger.Info("dead letter replay resolved",
		"entry_id", entry.ID, "status", to, "epoch", entry.ReplayEpoch)
	return nil
}

func (s *Service) publishReplayEvent(ctx context.Context, typ event.Type, entry *Entry, actor string) {
	evt := &event.Event{
		Type:       typ,
		EntityKind: event.EntityDeadLetter,
		EntityID:   entry.ID.String(),
		TraceID:    entry.TraceID,
		Actor:      actor,
	}
	payload := map[string]any{
		"source_type":  entry.SourceType,
		"source_id":    entry.SourceID,
		"replay_epoch": entry.ReplayEpoch,
	}
	if !entry.ReplayCommandID.IsNil() {
		payload["replay_command_id"] = entry.ReplayCommandID.String()
	}
	if err := s.publisher.Publish(ctx, evt, payload); err != nil {
		s.logger.Error("failed to publish replay event",
			"type", typ, "entry_id", entry.ID, "error", err)
	}
}

package contract_test

import (
	"errors"
	"testing"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/contract"
)

func TestValidateTransition_CommandHappyPath(t *testing.T) {
	steps := [][2]string{
		{contract.CommandQueued, contract.CommandRunning},
		{contract.CommandRunning, contract.CommandSucceeded},
	}
	for _, s := range steps {
		if err := contract.ValidateTransition(contract.KindCommand, s[0], s[1]); err != nil {
			t.Errorf("ValidateTransition(%q → %q) = %v, want nil", s[0], s[1], err)
		}
	}
}

func TestValidateTransition_CommandRetryLoop(t *testing.T) {
	steps := [][2]string{
		{contract.CommandRunning, contract.CommandRetryScheduled},
		{contract.CommandRetryScheduled, contract.CommandQueued},
		{contract.CommandQueued, contract.CommandRunning},
	}
	for _, s := range steps {
		if err := contract.ValidateTransition(contract.KindCommand, s[0], s[1]); err != nil {
			t.Errorf("ValidateTransition(%q → %q) = %v, want nil", s[0], s[1], err)
		}
	}
}

func TestValidateTransition_CommandReplayPath(t *testing.T) {
	steps := [][2]string{
		{contract.CommandRunning, contract.CommandFailedTerminal},
		{contract.CommandFailedTerminal, contract.CommandDeadLettered},
		{contract.CommandDeadLettered, contract.CommandReplayRequested},
		{contract.CommandReplayRequested, contract.CommandQueued},
	}
	for _, s := range steps {
		if err := contract.ValidateTransition(contract.KindCommand, s[0], s[1]); err != nil {
			t.Errorf("ValidateTransition(%q → %q) = %v, want nil", s[0], s[1], err)
		}
	}
}

func TestValidateTransition_CommandLeaseReclaim(t *testing.T) {
	if err := contract.ValidateTransition(contract.KindCommand, contract.CommandRunning, contract.CommandQueued); err != nil {
		t.Errorf("running → queued should be legal for lease reclaim, got %v", err)
	}
}

func TestValidateTransition_RejectsIllegalCommandMoves(t *testing.T) {
	illegal := [][2]string{
		{contract.CommandQueued, contract.CommandSucceeded},
		{contract.CommandSucceeded, contract.CommandQueued},
		{contract.CommandSucceeded, contract.CommandRunning},
		{contract.CommandFailedTerminal, contract.CommandQueued},
		{contract.CommandDeadLettered, contract.CommandRunning},
		{contract.CommandRetryScheduled, contract.CommandRunning},
	}
	for _, s := range illegal {
		err := contract.ValidateTransition(contract.KindCommand, s[0], s[1])
		if err == nil {
			t.Errorf("ValidateTransition(%q → %q) should fail", s[0], s[1])
			continue
		}
		if !errors.Is(err, conduct.ErrIllegalTransition) {
			t.Errorf("ValidateTransition(%q → %q) error = %v, want ErrIllegalTransition", s[0], s[1], err)
		}
	}
}

func TestValidateTransition_WorkflowPendingNeverReentered(t *testing.T) {
	for _, from := range []string{
		contract.WorkflowActive,
		contract.WorkflowBlocked,
		contract.WorkflowPartial,
		contract.WorkflowCompleted,
		contract.WorkflowFailedTerminal,
		contract.WorkflowReplayActive,
	} {
		if err := contract.ValidateTransition(contract.KindWorkflow, from, contract.WorkflowPending); err == nil {
			t.Errorf("%q → pending should be illegal", from)
		}
	}
}

func TestValidateTransition_WorkflowResumePaths(t *testing.T) {
	steps := [][2]string{
		{contract.WorkflowPending, contract.WorkflowActive},
		{contract.WorkflowActive, contract.WorkflowBlocked},
		{contract.WorkflowBlocked, contract.WorkflowActive},
		{contract.WorkflowActive, contract.WorkflowPartial},
		{contract.WorkflowPartial, contract.WorkflowActive},
		{contract.WorkflowActive, contract.WorkflowFailedTerminal},
		{contract.WorkflowFailedTerminal, contract.WorkflowReplayActive},
		{contract.WorkflowReplayActive, contract.WorkflowActive},
		{contract.WorkflowActive, contract.WorkflowCompleted},
	}
	for _, s := range steps {
		if err := contract.ValidateTransition(contract.KindWorkflow, s[0], s[1]); err != nil {
			t.Errorf("ValidateTransition(%q → %q) = %v, want nil", s[0], s[1], err)
		}
	}
}

func TestValidateTransition_ReplayStatusForwardOnly(t *testing.T) {
	if err := contract.ValidateTransition(contract.KindDeadLetter, contract.ReplaySucceeded, contract.ReplayRequested); err == nil {
		t.Error("replay_succeeded → replay_requested should be illegal")
	}
	if err := contract.ValidateTransition(contract.KindDeadLetter, contract.ReplayFailed, contract.ReplayRequested); err != nil {
		t.Errorf("replay_failed → replay_requested should be legal, got %v", err)
	}
	if err := contract.ValidateTransition(contract.KindDeadLetter, contract.ReplayRequested, contract.ReplayNone); err == nil {
		t.Error("replay_requested → none should be illegal")
	}
}

func TestValidateTransition_UnknownStateAndKind(t *testing.T) {
	if err := contract.ValidateTransition(contract.KindCommand, "nonsense", contract.CommandQueued); err == nil {
		t.Error("unknown from-state should fail")
	}
	if err := contract.ValidateTransition(contract.Kind("bogus"), contract.CommandQueued, contract.CommandRunning); err == nil {
		t.Error("unknown kind should fail")
	}
}

func TestTerminal(t *testing.T) {
	cases := []struct {
		kind  contract.Kind
		state string
		want  bool
	}{
		{contract.KindCommand, contract.CommandSucceeded, true},
		{contract.KindCommand, contract.CommandDeadLettered, false},
		{contract.KindCommand, contract.CommandQueued, false},
		{contract.KindWorkflow, contract.WorkflowCompleted, true},
		{contract.KindWorkflow, contract.WorkflowFailedTerminal, false},
		{contract.KindDeadLetter, contract.ReplaySucceeded, true},
		{contract.KindDeadLetter, contract.ReplayFailed, false},
		{contract.KindCommand, "nonsense", false},
	}
	for _, c := range cases {
		if got := contract.Terminal(c.kind, c.state); got != c.want {
			t.Errorf("Terminal(%s, %q) = %v, want %v", c.kind, c.state, got, c.want)
		}
	}
}

package workflow

import (
	"fmt"
	"time"
)

// Step is one stage of a workflow pipeline. Each step executes as a
// command admitted through the dispatcher.
type Step struct {
	// Name identifies the step within the workflow. Must be unique.
	Name string

	// Command is the command type whose handler executes this step.
	Command string

	// Profile overrides the handler's policy profile for this step.
	// Empty uses the handler's registered profile.
	Profile string

	// MaxAttempts overrides the attempt budget for this step. Zero uses
	// the profile default.
	MaxAttempts int

	// OnAmbiguous is the status the run pauses in when the step's handler
	// reports an ambiguous outcome. Defaults to StatusBlocked.
	OnAmbiguous Status
}

// Definition is a named, ordered step list.
type Definition struct {
	// Name is the unique identifier for this workflow type.
	Name string

	// Steps execute strictly in order; step N+1 never starts before step
	// N's checkpoint is persisted.
	Steps []Step

	// MemoryTTL bounds the lifetime of run-scoped step outputs. Zero
	// means no expiry.
	MemoryTTL time.Duration

	// KeepMemory skips run-scope memory cleanup on completion, leaving
	// step outputs readable until their TTL.
	KeepMemory bool
}

// Validate checks the definition for structural problems.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow: definition has no name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q: no steps", d.Name)
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow %q: step %d has no name", d.Name, i+1)
		}
		if s.Command == "" {
			return fmt.Errorf("workflow %q: step %q has no command type", d.Name, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("workflow %q: duplicate step name %q", d.Name, s.Name)
		}
		seen[s.Name] = struct{}{}

		switch s.OnAmbiguous {
		case "", StatusBlocked, StatusPartial:
		default:
			return fmt.Errorf("workflow %q: step %q: OnAmbiguous must be blocked or partial, got %q", d.Name, s.Name, s.OnAmbiguous)
		}
	}
	return nil
}

// StepAt returns the 1-based step, or false when index is out of range.
func (d *Definition) StepAt(index int) (Step, bool) {
	if index < 1 || index > len(d.Steps) {
		return Step{}, false
	}
	return d.Steps[index-1], true
}

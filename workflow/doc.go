// Package workflow drives multi-step pipelines. A workflow is a named,
// ordered list of steps, each executed as a command admitted through the
// dispatcher with a step-scoped idempotency key. The router persists a
// checkpoint after every successful step, writes step outputs into
// run-scoped memory, and supports resume and mid-pipeline replay.
//
// # Defining a Workflow
//
//	var Onboarding = &workflow.Definition{
//	    Name: "user.onboarding",
//	    Steps: []workflow.Step{
//	        {Name: "provision", Command: "accounts.provision"},
//	        {Name: "verify", Command: "kyc.verify", OnAmbiguous: workflow.StatusBlocked},
//	        {Name: "welcome", Command: "emails.welcome", Profile: policy.BestEffort},
//	    },
//	}
//
// # Execution Model
//
// Triggering a run admits the first step's command. When that command
// reaches a terminal outcome, the executor notifies the router, which
// checkpoints and admits the next step. Step N+1 never starts before
// step N's checkpoint is durably persisted.
//
// A step whose command dead-letters fails the run terminally. A step
// whose handler reports an ambiguous outcome pauses the run in blocked
// or partial status without advancing the checkpoint; a resume request
// re-executes only that step. Resuming a failed run bumps the run's
// replay epoch so the re-executed step gets a fresh idempotency key
// while checkpointed steps are never re-run.
package workflow

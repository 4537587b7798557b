// Package policy maps (profile, error class, attempt count) to retry,
// backoff, timeout, and dead-letter decisions. Everything here is a pure
// function over the profile tables; the executor and workflow router
// consume the decisions, this package never touches storage.
package policy

import (
	"fmt"
	"time"

	"github.com/conduct-dev/conduct/contract"
)

// Profile names. The set is closed: retry behavior is data keyed by one
// of these, not conditional code scattered across handlers.
const (
	CriticalPath  = "critical_path"
	StandardAsync = "standard_async"
	BestEffort    = "best_effort"
	ManualReview  = "manual_review"
)

// Profile is one row of the retry-policy table.
type Profile struct {
	Name          string
	MaxAttempts   int
	BaseBackoff   time.Duration
	Multiplier    float64
	BackoffCap    time.Duration
	TimeoutBudget time.Duration
	Retryable     map[contract.Class]bool
}

// JitterFraction is the spread applied to backoff delays.
const JitterFraction = 0.2

var retryableDefaults = map[contract.Class]bool{
	contract.ClassTransient: true,
	contract.ClassTimeout:   true,
	contract.ClassCancelled: true,
}

var profiles = map[string]Profile{
	// User-visible latency matters: few attempts, short backoff, tight
	// timeout.
	CriticalPath: {
		Name:          CriticalPath,
		MaxAttempts:   3,
		BaseBackoff:   250 * time.Millisecond,
		Multiplier:    2,
		BackoffCap:    5 * time.Second,
		TimeoutBudget: 10 * time.Second,
		Retryable:     retryableDefaults,
	},

	// Default for background enrichment work.
	StandardAsync: {
		Name:          StandardAsync,
		MaxAttempts:   5,
		BaseBackoff:   1 * time.Second,
		Multiplier:    2,
		BackoffCap:    2 * time.Minute,
		TimeoutBudget: 1 * time.Minute,
		Retryable:     retryableDefaults,
	},

	// Failures are cheap to drop.
	BestEffort: {
		Name:          BestEffort,
		MaxAttempts:   2,
		BaseBackoff:   5 * time.Second,
		Multiplier:    2,
		BackoffCap:    30 * time.Second,
		TimeoutBudget: 30 * time.Second,
		Retryable:     retryableDefaults,
	},

	// No automatic retry; any failure or ambiguous outcome goes to a
	// human-reviewable dead-letter state immediately.
	ManualReview: {
		Name:          ManualReview,
		MaxAttempts:   1,
		BaseBackoff:   0,
		Multiplier:    1,
		BackoffCap:    0,
		TimeoutBudget: 5 * time.Minute,
		Retryable:     map[contract.Class]bool{},
	},
}

// Lookup returns the profile for a name.
func Lookup(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("policy: unknown profile %q", name)
	}
	return p, nil
}

// Default returns the standard_async profile.
func Default() Profile {
	return profiles[StandardAsync]
}

// Names returns all known profile names.
func Names() []string {
	return []string{CriticalPath, StandardAsync, BestEffort, ManualReview}
}

// Backoff returns the undithered delay before retry attempt n:
// min(BaseBackoff * Multiplier^(n-1), BackoffCap). Non-decreasing in n.
func (p Profile) Backoff(attempt int) time.Duration {
	e := Exponential{Base: p.BaseBackoff, Multiplier: p.Multiplier, Cap: p.BackoffCap}
	return e.Delay(attempt)
}

// JitteredBackoff spreads Backoff by ±JitterFraction.
func (p Profile) JitteredBackoff(attempt int) time.Duration {
	j := Jitter{Base: &Exponential{Base: p.BaseBackoff, Multiplier: p.Multiplier, Cap: p.BackoffCap}, Fraction: JitterFraction}
	return j.Delay(attempt)
}

// ──────────────────────────────────────────────────
// Decisions
// ──────────────────────────────────────────────────

// Action is the outcome of a policy decision.
type Action string

const (
	// ActionRetry schedules another attempt after Decision.Delay.
	ActionRetry Action = "retry"

	// ActionDeadLetter routes the command to the dead-letter store.
	ActionDeadLetter Action = "dead_letter"
)

// Decision is what the executor applies after a failed attempt.
type Decision struct {
	Action Action
	Delay  time.Duration
	Reason string
}

// Decide maps a failed attempt to a retry or dead-letter decision.
//
// A class outside the profile's retryable set is never retried regardless
// of remaining budget. Exhausting maxAttempts with a retryable class also
// dead-letters; failures are never silently dropped.
func Decide(p Profile, class contract.Class, attemptCount, maxAttempts int) Decision {
	if maxAttempts <= 0 {
		maxAttempts = p.MaxAttempts
	}

	if !p.Retryable[class] {
		reason := fmt.Sprintf("error class %s is not retryable under %s", class, p.Name)
		if p.Name == ManualReview {
			// Tagged so dead-letter listings can be filtered for the
			// entries a human is expected to act on.
			reason = "manual_review: " + reason
		}
		return Decision{
			Action: ActionDeadLetter,
			Reason: reason,
		}
	}

	if attemptCount >= maxAttempts {
		return Decision{
			Action: ActionDeadLetter,
			Reason: fmt.Sprintf("exhausted %d of %d attempts", attemptCount, maxAttempts),
		}
	}

	return Decision{
		Action: ActionRetry,
		Delay:  p.JitteredBackoff(attemptCount),
		Reason: fmt.Sprintf("attempt %d of %d failed with %s", attemptCount, maxAttempts, class),
	}
}

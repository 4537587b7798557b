package contract

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Class is a canonical error class. Retry and dead-letter decisions are
// keyed by class, not by concrete error type.
type Class string

const (
	// ClassSchema marks a malformed admission payload. Rejected
	// synchronously, never queued.
	ClassSchema Class = "schema_error"

	// ClassTransient marks a network or provider hiccup. Retryable.
	ClassTransient Class = "transient_dependency_error"

	// ClassTimeout marks a handler that exceeded its execution budget.
	// Retryable unless the policy profile forbids it.
	ClassTimeout Class = "timeout"

	// ClassValidation marks a deterministic business-rule failure.
	// Never retried; routes straight to dead-letter.
	ClassValidation Class = "validation_error"

	// ClassIllegalTransition marks an internal invariant violation.
	// Always fatal, logged and surfaced, never swallowed.
	ClassIllegalTransition Class = "illegal_transition"

	// ClassCancelled marks an attempt cut short by worker shutdown.
	// Retryable: the failure was not the handler's fault.
	ClassCancelled Class = "cancelled"
)

// ClassifiedError pairs an error with its canonical class. Handlers may
// return one directly to control the class; unclassified errors are mapped
// by Classify at the executor boundary.
type ClassifiedError struct {
	Class Class
	Err   error
}

// NewError wraps err with the given class.
func NewError(class Class, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err}
}

// Errorf builds a ClassifiedError from a format string.
func Errorf(class Class, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: fmt.Errorf(format, args...)}
}

func (e *ClassifiedError) Error() string {
	return string(e.Class) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// ErrAmbiguousOutcome is returned by handlers whose outcome cannot be
// determined automatically. Under the manual_review profile it routes the
// command to a human-reviewable dead-letter state.
var ErrAmbiguousOutcome = errors.New("contract: ambiguous handler outcome")

// classRules maps caller-registered sentinel errors to classes.
// The legacy-error mapping is configuration, filled in per handler family.
var (
	classMu    sync.RWMutex
	classRules []classRule
)

type classRule struct {
	target error
	class  Class
}

// RegisterClassRule maps a sentinel error (matched with errors.Is) to a
// canonical class. Rules are consulted in registration order.
func RegisterClassRule(target error, class Class) {
	classMu.Lock()
	defer classMu.Unlock()
	classRules = append(classRules, classRule{target: target, class: class})
}

// Classify maps an arbitrary handler error to its canonical class.
//
// Precedence: explicit ClassifiedError, context deadline/cancellation,
// registered class rules, then the transient default — an unknown failure
// is assumed recoverable and left to the retry budget.
func Classify(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}
	if errors.Is(err, ErrAmbiguousOutcome) {
		return ClassValidation
	}

	classMu.RLock()
	defer classMu.RUnlock()
	for _, rule := range classRules {
		if errors.Is(err, rule.target) {
			return rule.class
		}
	}

	return ClassTransient
}

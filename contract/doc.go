// Package contract defines the shared envelopes every other subsystem obeys:
// the canonical error-class taxonomy, the legal-transition tables for
// commands, workflow runs, and dead-letter replay status, and payload schema
// validation for command admission.
//
// Everything in this package is pure: validation functions have no side
// effects, and every component must route entity mutation through
// ValidateTransition before persisting.
package contract

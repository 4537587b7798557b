package redis

import "strconv"

// Redis key naming conventions for conduct data.
// All keys are prefixed with "conduct:" to avoid collisions.

const keyPrefix = "conduct:"

// ── Command keys ──

// commandKey returns the key for a command entity: conduct:command:{id}
func commandKey(id string) string { return keyPrefix + "command:" + id }

// commandIDsKey is the Sorted Set of all command IDs scored by creation
// time, for newest-first enumeration.
const commandIDsKey = keyPrefix + "command_ids"

// commandKeysKey is the Hash mapping idempotency keys to command IDs.
const commandKeysKey = keyPrefix + "command_keys"

// commandRunAtKey is the Hash mapping command IDs to run_at in unix
// milliseconds, read by the dequeue script to gate on due time.
const commandRunAtKey = keyPrefix + "command_run_at"

// queueKey returns the Sorted Set key for a queue: conduct:queue:{name}
func queueKey(name string) string { return keyPrefix + "queue:" + name }

// queuesKey is the Set of known queue names.
const queuesKey = keyPrefix + "queues"

// retryKey is the Sorted Set of retry_scheduled command IDs scored by
// the unix-millisecond instant their backoff elapses.
const retryKey = keyPrefix + "retries"

// leaseKey is the Sorted Set of running command IDs scored by the
// unix-millisecond instant their lease expires.
const leaseKey = keyPrefix + "leases"

// ── Attempt keys ──

// attemptKey returns the key for an attempt entity: conduct:attempt:{id}
func attemptKey(id string) string { return keyPrefix + "attempt:" + id }

// attemptIdxKey returns the Sorted Set of a command's attempt IDs scored
// by attempt number.
func attemptIdxKey(commandID string) string { return keyPrefix + "attempt_idx:" + commandID }

// openAttemptKey returns the key marking a command's open attempt.
func openAttemptKey(commandID string) string { return keyPrefix + "attempt_open:" + commandID }

// ── Workflow keys ──

// runKey returns the key for a workflow run entity: conduct:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIDsKey is the Sorted Set of all run IDs scored by creation time.
const runIDsKey = keyPrefix + "run_ids"

// checkpointKey returns the key for a checkpoint: conduct:checkpoint:{runID}:{step}
func checkpointKey(runID string, stepIndex int) string {
	return keyPrefix + "checkpoint:" + runID + ":" + strconv.Itoa(stepIndex)
}

// checkpointIdxKey returns the Sorted Set of a run's checkpoint step
// indexes scored by step index.
func checkpointIdxKey(runID string) string { return keyPrefix + "checkpoint_idx:" + runID }

// ── Memory keys ──

// snapshotKey returns the key for a memory snapshot: conduct:snapshot:{scope}:{key}
func snapshotKey(scopeType, scopeKey string) string {
	return keyPrefix + "snapshot:" + scopeType + ":" + scopeKey
}

// snapshotIdxKey returns the Set of scope keys stored for a scope type.
func snapshotIdxKey(scopeType string) string { return keyPrefix + "snapshot_idx:" + scopeType }

// ── Cron keys ──

// cronKey returns the key for a cron entry entity: conduct:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronIDsKey is the Set tracking all cron IDs for enumeration.
const cronIDsKey = keyPrefix + "cron_ids"

// cronNamesKey maps cron names to IDs for duplicate detection.
const cronNamesKey = keyPrefix + "cron_names"

// ── DLQ keys ──

// dlqKey returns the key for a dead-letter entry entity: conduct:dlq:{id}
func dlqKey(id string) string { return keyPrefix + "dlq:" + id }

// dlqIDsKey is the Sorted Set of all entry IDs scored by failure time.
const dlqIDsKey = keyPrefix + "dlq_ids"

// dlqReplayIdxKey maps replay command IDs to the entry that admitted them.
const dlqReplayIdxKey = keyPrefix + "dlq_replay_idx"

// ── Event keys ──

// eventKey returns the key for an event entity by sequence number:
// conduct:event:{seq}
func eventKey(seq int64) string { return keyPrefix + "event:" + strconv.FormatInt(seq, 10) }

// eventSeqKey is the counter assigning event sequence numbers.
const eventSeqKey = keyPrefix + "event_seq"

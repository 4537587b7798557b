package conduct

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("conduct: no store configured")
	ErrStoreClosed     = errors.New("conduct: store closed")
	ErrMigrationFailed = errors.New("conduct: migration failed")

	// Not found errors.
	ErrCommandNotFound    = errors.New("conduct: command not found")
	ErrAttemptNotFound    = errors.New("conduct: attempt not found")
	ErrRunNotFound        = errors.New("conduct: workflow run not found")
	ErrSnapshotNotFound   = errors.New("conduct: memory snapshot not found")
	ErrDeadLetterNotFound = errors.New("conduct: dead letter not found")
	ErrEventNotFound      = errors.New("conduct: event not found")
	ErrCronNotFound       = errors.New("conduct: cron entry not found")

	// Conflict errors.
	ErrCommandExists   = errors.New("conduct: command already exists")
	ErrRunExists       = errors.New("conduct: workflow run already exists")
	ErrDuplicateCron   = errors.New("conduct: duplicate cron entry")
	ErrVersionConflict = errors.New("conduct: snapshot version conflict")
	ErrAttemptOpen     = errors.New("conduct: command already has an open attempt")

	// State errors.
	ErrUnknownCommandType = errors.New("conduct: no handler registered for command type")
	ErrIllegalTransition  = errors.New("conduct: illegal state transition")
	ErrAlreadyReplayed    = errors.New("conduct: dead letter already replayed")
	ErrReplayInFlight     = errors.New("conduct: dead letter replay already requested")
)

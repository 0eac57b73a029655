package nestedset

import "errors"

// Errors of the nestedset package. ErrSchemaMismatch, ErrUnknownOperation and
// ErrSynchronizeFailed abort a synchronize cycle and surface to the caller.
// ErrMalformedNode marks soft-invalid input: Synchronize records it in the
// Report and returns a nil error. The remaining errors concern the manifest
// and the fleet.
var (
	// ErrSchemaMismatch is returned when a configured destination references a
	// column that does not exist in the table result returned by the database.
	ErrSchemaMismatch = errors.New("nestedset: schema mismatch")

	// ErrUnknownOperation is returned when a log entry carries an operation code
	// outside the destination's configured upsert/delete set.
	ErrUnknownOperation = errors.New("nestedset: unknown operation code")

	// ErrSynchronizeFailed wraps a lower-level failure (typically a driver or
	// transaction error) encountered while running a synchronize cycle.
	ErrSynchronizeFailed = errors.New("nestedset: synchronize failed")

	// ErrInvalidForest names the condition where the projected live-table state
	// does not form a valid nested-set forest (overlap without containment).
	// Synchronize does not return it; it sets Report.Reason instead.
	ErrInvalidForest = errors.New("nestedset: invalid nested-set forest")

	// ErrMalformedNode is returned when a node's left/right bounds are missing
	// or left is not strictly less than right.
	ErrMalformedNode = errors.New("nestedset: malformed node bounds")

	// ErrUnknownDestination names a destination that is not present in the
	// fleet. Fleet.Get reports that case with its boolean result and does not
	// return this error.
	ErrUnknownDestination = errors.New("nestedset: unknown destination")

	// ErrNoDestinations is returned when a manifest contains zero destinations.
	ErrNoDestinations = errors.New("nestedset: manifest has no destinations")

	// ErrDuplicateDestination is returned when a manifest names the same
	// destination twice.
	ErrDuplicateDestination = errors.New("nestedset: duplicate destination name")
)

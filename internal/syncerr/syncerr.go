// Package syncerr defines the error taxonomy shared by the local store, the
// remote client, and the sync engine. Errors are sentinel values wrapped with
// cause context; callers match them with errors.Is.
package syncerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's disjoint failure classes.
var (
	// ErrNetwork is a transport or I/O failure. Transient; callers may retry.
	ErrNetwork = errors.New("network error")

	// ErrDatasetNotFound means the server says the dataset is absent.
	ErrDatasetNotFound = errors.New("dataset not found")

	// ErrDataConflict means UpdateRecords was rejected because the server
	// advanced past the caller's sync session.
	ErrDataConflict = errors.New("data conflict")

	// ErrDataLimitExceeded is a per-user or per-dataset quota violation.
	ErrDataLimitExceeded = errors.New("data limit exceeded")

	// ErrStorage is a local database failure.
	ErrStorage = errors.New("storage error")

	// ErrIllegalArgument is an invalid dataset name or record key. Raised
	// synchronously, before any I/O, and never wrapped in another kind.
	ErrIllegalArgument = errors.New("illegal argument")

	// ErrIllegalState is an operation against a dataset in the wrong local
	// state, e.g. opening a dataset deleted locally but not yet reconciled.
	ErrIllegalState = errors.New("illegal state")

	// ErrManualCancel means a control callback returned false and the sync
	// session was cancelled by the application.
	ErrManualCancel = errors.New("sync cancelled by callback")
)

// Wrap attaches a cause to one of the sentinel kinds. The result matches the
// kind via errors.Is and unwraps to the cause.
func Wrap(kind error, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

// Wrapf attaches formatted context to one of the sentinel kinds.
func Wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Storage wraps a local database failure, passing nil through.
func Storage(cause error) error {
	if cause == nil {
		return nil
	}
	return Wrap(ErrStorage, cause)
}

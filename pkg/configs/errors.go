package configs

import "errors"

// Sentinel errors returned by the store and service. Callers classify
// with errors.Is; the API layer maps each kind to a status code.
var (
	// ErrValidation marks malformed or missing input. It is detected
	// before any store call, so invalid input never consumes a version
	// number.
	ErrValidation = errors.New("invalid configuration input")

	// ErrNotFound marks an unknown config_id or version.
	ErrNotFound = errors.New("configuration not found")

	// ErrAlreadyExists marks a duplicate create. It is a business
	// conflict and is never retried.
	ErrAlreadyExists = errors.New("configuration already exists")

	// ErrVersionConflict marks a lost append race: two writers read the
	// same latest version and the other one committed first. Safe to
	// retry after re-reading the latest version.
	ErrVersionConflict = errors.New("configuration version conflict")

	// ErrUnavailable marks a transient infrastructure failure. Nothing
	// was durably written; the whole operation is safe to retry.
	ErrUnavailable = errors.New("configuration store unavailable")
)

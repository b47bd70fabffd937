package journal

import "errors"

// Every mutator failure folds into one of these four classes, plus the
// version-conflict signal the store raises when a compare-and-swap misses.
var (
	// ErrNotFound: the record or entry does not exist. Normal control
	// flow, never conflated with a storage failure.
	ErrNotFound = errors.New("journal record not found")

	// ErrReferenceNotFound: the parent admission does not exist, so no
	// journal write may proceed.
	ErrReferenceNotFound = errors.New("admission reference not found")

	// ErrValidation: the payload fails a local constraint. Nothing was
	// read or written.
	ErrValidation = errors.New("validation failed")

	// ErrConflict: concurrent writers raced on the same record and the
	// retry budget ran out.
	ErrConflict = errors.New("version conflict")

	// ErrStorage: the backend failed. The cause is wrapped; callers may
	// retry the whole operation.
	ErrStorage = errors.New("storage failure")
)

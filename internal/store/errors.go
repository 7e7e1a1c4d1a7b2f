package store

import "errors"

var (
	// ErrNotFound means the requested job/config/entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID means a caller-supplied id already exists.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidTransition means the record is not in a status that allows
	// the requested transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidProgress means a progress update was regressive or out of
	// range for the job's total_items.
	ErrInvalidProgress = errors.New("invalid progress value")

	// ErrConflict means a compare-and-set lost the race; the operation was
	// already handled by a concurrent caller and must not be retried blindly.
	ErrConflict = errors.New("concurrent update conflict")
)

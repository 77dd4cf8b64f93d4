package admission

import "errors"

var (
	// ErrInvalidTag is returned by Admit for tags outside [0, capacity).
	ErrInvalidTag = errors.New("admission: tag out of range")

	// ErrClosed is returned by Admit once every tag has been admitted.
	ErrClosed = errors.New("admission: producer phase closed")

	// ErrPassed is returned by Admit for a tag that has already been admitted.
	ErrPassed = errors.New("admission: tag already admitted")

	// ErrEmpty is returned by TryRetire when no tag is pending but more tags
	// may still be admitted.
	ErrEmpty = errors.New("admission: no pending tag")

	// ErrExhausted is returned by Retire and TryRetire when the producer phase
	// is closed and no tag is pending, meaning no tag will ever be retired again.
	ErrExhausted = errors.New("admission: all tags retired")
)

package merkle

import "errors"

var (
	ErrNotFound = errors.New("the requested key is not present")
	// ErrNotReady is returned by operations performed before any context has
	// been staged or checked out.
	ErrNotReady = errors.New("no context has been checked out or staged")
	// ErrHashMismatch indicates the canonical encoding of a committed entry
	// does not round trip to the same bytes. It is a data corruption fault
	// and aborts the commit.
	ErrHashMismatch = errors.New("entry hash diverged from its canonical encoding")
	// ErrNotACommit indicates a hash expected to reference a commit resolved
	// to a different entry kind. It is an internal consistency fault.
	ErrNotACommit = errors.New("the referenced entry is not a commit")
	// ErrKeyEmpty is returned for operations addressed with an empty path.
	ErrKeyEmpty = errors.New("the key path must not be empty")
)

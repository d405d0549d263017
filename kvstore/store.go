// Package kvstore defines the narrow raw key/value contract the garbage
// collected layers are built over, together with the closed set of backend
// variants supported at build time: an in-memory map and an on-disk sqlite
// database.
package kvstore

import "errors"

var (
	ErrClosed = errors.New("the store has been closed")
)

// Store is the raw backend contract. Keys and values are opaque bytes.
//
// Get returns (nil, nil) for absent keys; absence is not an error at this
// layer because the garbage collected layers probe for membership routinely.
type Store interface {
	Get(key []byte) ([]byte, error)
	// Put stores value under key and reports whether the key was new. The
	// newness bit is what the garbage collected layers use for
	// deduplication accounting.
	Put(key, value []byte) (bool, error)
	Delete(key []byte) error
	Contains(key []byte) (bool, error)
	// Flush forces buffered writes towards the OS. Durability across a
	// crash is only guaranteed for backends that sync on flush.
	Flush() error
	Close() error
}

// Package actionlog implements the recorded context action format: a
// sequence of (block metadata, ordered context actions) records keyed by
// increasing block level, consumed through a restartable forward iterator.
// Replay and audit tooling records every operation applied to the context
// store in this format.
package actionlog

import "errors"

var (
	ErrLevelOrder = errors.New("block levels must be appended in increasing order")
)

// Kind enumerates the recorded context operations.
type Kind uint8

const (
	KindSet Kind = iota + 1
	KindCopy
	KindDelete
	KindRemoveRecursively
	KindCommit
	KindCheckout
	KindMem
	KindDirMem
	KindGet
	KindFold
)

func (k Kind) String() string {
	switch k {
	case KindSet:
		return "set"
	case KindCopy:
		return "copy"
	case KindDelete:
		return "delete"
	case KindRemoveRecursively:
		return "remove_recursively"
	case KindCommit:
		return "commit"
	case KindCheckout:
		return "checkout"
	case KindMem:
		return "mem"
	case KindDirMem:
		return "dir_mem"
	case KindGet:
		return "get"
	case KindFold:
		return "fold"
	default:
		return "unknown"
	}
}

// Action is one recorded context operation. Fields beyond Kind are populated
// only where the operation uses them.
type Action struct {
	Kind Kind `cbor:"1,keyasint"`
	// Key is the addressed path; FromKey is the source path for copies.
	Key     []string `cbor:"2,keyasint,omitempty"`
	FromKey []string `cbor:"3,keyasint,omitempty"`
	Value   []byte   `cbor:"4,keyasint,omitempty"`
	// Hash carries the commit hash for checkout actions.
	Hash []byte `cbor:"5,keyasint,omitempty"`
	// Commit metadata.
	Time    uint64 `cbor:"6,keyasint,omitempty"`
	Author  string `cbor:"7,keyasint,omitempty"`
	Message string `cbor:"8,keyasint,omitempty"`
	// Ignored suppresses application of this action during replay.
	Ignored bool `cbor:"9,keyasint,omitempty"`
}

// Block is the metadata the actions of one block are grouped under.
type Block struct {
	Level       uint32 `cbor:"1,keyasint"`
	Hash        []byte `cbor:"2,keyasint,omitempty"`
	Predecessor []byte `cbor:"3,keyasint,omitempty"`
}

// Record is one appended unit of the action file.
type Record struct {
	Block   Block    `cbor:"1,keyasint"`
	Actions []Action `cbor:"2,keyasint,omitempty"`
}

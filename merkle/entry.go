// Package merkle implements the content addressed context store. The evolving
// state is a DAG of entries, each stored at a 32 byte digest of its canonical
// encoding, with commits chaining the history together. Mutations accumulate
// in an in-memory staged tree and are hashed into the backend on Commit.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/mambisi/contextstore/codec"
)

// HashBytes is the width of every entry digest.
const HashBytes = 32

// EntryHash identifies an entry by the sha256 of its canonical encoding.
type EntryHash [HashBytes]byte

func (h EntryHash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalCBOR encodes the hash as a CBOR byte string rather than the array
// of integers the default array encoding would produce.
func (h EntryHash) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(h[:])
}

func (h *EntryHash) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return err
	}
	if len(b) != HashBytes {
		return fmt.Errorf("%w: entry hash must be %d bytes, got %d", codec.ErrDecode, HashBytes, len(b))
	}
	copy(h[:], b)
	return nil
}

// EntryKind tags the variant carried by an Entry.
type EntryKind uint8

const (
	EntryKindBlob EntryKind = iota + 1
	EntryKindTree
	EntryKindCommit
)

// NodeKind distinguishes blob children from subtree children, mirroring
// file versus directory semantics.
type NodeKind uint8

const (
	NodeKindBlob NodeKind = iota + 1
	NodeKindTree
)

// Node references a child entry from within a tree.
type Node struct {
	Kind      NodeKind  `cbor:"1,keyasint"`
	EntryHash EntryHash `cbor:"2,keyasint"`
}

// TreeEntry is one named child of a tree. Tree children are kept sorted by
// name so that logically equal trees share one canonical encoding.
type TreeEntry struct {
	Name string `cbor:"1,keyasint"`
	Node Node   `cbor:"2,keyasint"`
}

// Commit anchors a tree in history.
type Commit struct {
	RootHash   EntryHash  `cbor:"1,keyasint"`
	ParentHash *EntryHash `cbor:"2,keyasint,omitempty"`
	Time       uint64     `cbor:"3,keyasint"`
	Author     string     `cbor:"4,keyasint"`
	Message    string     `cbor:"5,keyasint"`
}

// Entry is the tagged union of everything the backend stores. Exactly one of
// the payload fields is populated, selected by Kind.
type Entry struct {
	Kind   EntryKind   `cbor:"1,keyasint"`
	Blob   []byte      `cbor:"2,keyasint,omitempty"`
	Tree   []TreeEntry `cbor:"3,keyasint,omitempty"`
	Commit *Commit     `cbor:"4,keyasint,omitempty"`
}

func NewBlobEntry(value []byte) *Entry {
	return &Entry{Kind: EntryKindBlob, Blob: value}
}

// NewTreeEntry sorts children by name; the sort is part of the canonical
// encoding contract, not a convenience.
func NewTreeEntry(children []TreeEntry) *Entry {
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return &Entry{Kind: EntryKindTree, Tree: children}
}

func NewCommitEntry(c *Commit) *Entry {
	return &Entry{Kind: EntryKindCommit, Commit: c}
}

// HashEntry computes the content address of e. Equal canonical encodings
// always produce equal hashes.
func HashEntry(c codec.CBORCodec, e *Entry) (EntryHash, error) {
	data, err := c.MarshalCBOR(e)
	if err != nil {
		return EntryHash{}, err
	}
	return sha256.Sum256(data), nil
}

// EncodeEntry returns the canonical encoding together with its hash. Decoding
// the result and re-encoding it must reproduce data byte for byte; the
// commit path relies on this to detect codec divergence (see Commit).
func EncodeEntry(c codec.CBORCodec, e *Entry) ([]byte, EntryHash, error) {
	data, err := c.MarshalCBOR(e)
	if err != nil {
		return nil, EntryHash{}, err
	}
	return data, sha256.Sum256(data), nil
}

// DecodeEntry reconstructs an entry from its canonical encoding.
func DecodeEntry(c codec.CBORCodec, data []byte) (*Entry, error) {
	e := &Entry{}
	if err := c.UnmarshalCBOR(data, e); err != nil {
		return nil, err
	}
	return e, nil
}

// verifyCanonical re-encodes a decoded copy of data and checks it reproduces
// the same bytes. A divergence means the codec is not deterministic for this
// value and the computed content address cannot be trusted.
func verifyCanonical(c codec.CBORCodec, data []byte) error {
	e, err := DecodeEntry(c, data)
	if err != nil {
		return err
	}
	again, err := c.MarshalCBOR(e)
	if err != nil {
		return err
	}
	if !bytes.Equal(data, again) {
		return ErrHashMismatch
	}
	return nil
}

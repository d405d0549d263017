package actionlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/mambisi/contextstore/codec"
)

// On disk the action file is a concatenation of length prefixed records:
// a big endian uint32 byte count followed by the CBOR encoding of a Record.
// There is no framing beyond the prefix; a corrupt record surfaces as a
// decode fault at read time.

const recordLenBytes = 4

// Writer appends per block action records in increasing level order.
type Writer struct {
	file      *os.File
	w         *bufio.Writer
	codec     codec.CBORCodec
	lastLevel uint32
	any       bool
}

func NewWriter(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	c, err := codec.NewCBORCodec()
	if err != nil {
		file.Close()
		return nil, err
	}
	w := &Writer{
		file:  file,
		w:     bufio.NewWriter(file),
		codec: c,
	}
	// Recover the last appended level so ordering survives reopen.
	r, err := NewReader(path)
	if err != nil {
		file.Close()
		return nil, err
	}
	defer r.Close()
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			file.Close()
			return nil, err
		}
		w.lastLevel = rec.Block.Level
		w.any = true
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// Append records the actions of one block. Levels must strictly increase.
func (w *Writer) Append(block Block, actions []Action) error {
	if w.any && block.Level <= w.lastLevel {
		return fmt.Errorf("%w: %d after %d", ErrLevelOrder, block.Level, w.lastLevel)
	}
	data, err := w.codec.MarshalCBOR(Record{Block: block, Actions: actions})
	if err != nil {
		return err
	}
	var prefix [recordLenBytes]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	w.lastLevel = block.Level
	w.any = true
	return nil
}

func (w *Writer) Close() error {
	if err := w.w.Flush(); err != nil {
		w.file.Close()
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// Reader is a restartable forward iterator over an action file.
type Reader struct {
	file  *os.File
	r     *bufio.Reader
	codec codec.CBORCodec
}

func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	c, err := codec.NewCBORCodec()
	if err != nil {
		file.Close()
		return nil, err
	}
	return &Reader{file: file, r: bufio.NewReader(file), codec: c}, nil
}

// Next returns the next record, or io.EOF at the end of the file.
func (r *Reader) Next() (*Record, error) {
	var prefix [recordLenBytes]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: truncated record prefix", codec.ErrDecode)
		}
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("%w: truncated record body", codec.ErrDecode)
	}
	rec := &Record{}
	if err := r.codec.UnmarshalCBOR(data, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Reset rewinds the iterator to the first record.
func (r *Reader) Reset() error {
	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r.r.Reset(r.file)
	return nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

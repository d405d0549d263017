package commitlog

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Writer owns the appending end of one log's file pair. Every Write flushes
// both buffered writers to the OS; fsync is deferred to the ToReader
// boundary and to Close. Data between a flush and the next sync is
// recoverable on clean shutdown but not guaranteed durable across a crash.
type Writer struct {
	dir       string
	indexFile *os.File
	dataFile  *os.File
	indexW    *bufio.Writer
	dataW     *bufio.Writer
	indexes   []Index
	dataSize  uint64
}

func NewWriter(dir string) (*Writer, error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrPathNotDirectory, dir)
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	indexFile, err := os.OpenFile(filepath.Join(dir, IndexFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	dataFile, err := os.OpenFile(filepath.Join(dir, DataFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		indexFile.Close()
		return nil, err
	}

	indexes, err := readIndexes(indexFile)
	if err != nil {
		indexFile.Close()
		dataFile.Close()
		return nil, err
	}
	dataSize, err := dataFile.Seek(0, io.SeekEnd)
	if err != nil {
		indexFile.Close()
		dataFile.Close()
		return nil, err
	}
	if _, err := indexFile.Seek(int64(len(indexes)*IndexRecordBytes), io.SeekStart); err != nil {
		indexFile.Close()
		dataFile.Close()
		return nil, err
	}

	return &Writer{
		dir:       dir,
		indexFile: indexFile,
		dataFile:  dataFile,
		indexW:    bufio.NewWriter(indexFile),
		dataW:     bufio.NewWriter(dataFile),
		indexes:   indexes,
		dataSize:  uint64(dataSize),
	}, nil
}

// readIndexes recovers the in-memory index from the index file. A trailing
// partial record, left by a crash mid-append, is ignored; the matching data
// bytes are unreachable and simply overwritten by the next append's index.
func readIndexes(indexFile *os.File) ([]Index, error) {
	if _, err := indexFile.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(bufio.NewReader(indexFile))
	if err != nil {
		return nil, err
	}
	count := len(data) / IndexRecordBytes
	indexes := make([]Index, 0, count)
	for i := 0; i < count; i++ {
		idx, err := decodeIndex(data[i*IndexRecordBytes : (i+1)*IndexRecordBytes])
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

// Write appends payload to the data file, records a matching index record,
// flushes both files and returns the zero based index of the new record.
func (w *Writer) Write(payload []byte) (uint64, error) {
	if uint64(len(payload)) > MaxPayloadBytes {
		return 0, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	idx := Index{Position: w.dataSize, Length: uint64(len(payload))}
	if _, err := w.dataW.Write(payload); err != nil {
		return 0, err
	}
	if _, err := w.indexW.Write(idx.encode()); err != nil {
		return 0, err
	}
	if err := w.dataW.Flush(); err != nil {
		return 0, err
	}
	if err := w.indexW.Flush(); err != nil {
		return 0, err
	}
	w.indexes = append(w.indexes, idx)
	w.dataSize += idx.Length
	return uint64(len(w.indexes) - 1), nil
}

// LastIndex returns the index of the most recent record, derived from the
// index file size alone. An empty log returns -1.
func (w *Writer) LastIndex() int64 {
	info, err := w.indexFile.Stat()
	if err != nil {
		return -1
	}
	return info.Size()/IndexRecordBytes - 1
}

// Flush forces both buffered writers to the OS without fsync.
func (w *Writer) Flush() error {
	if err := w.dataW.Flush(); err != nil {
		return err
	}
	return w.indexW.Flush()
}

// Sync flushes and fsyncs both files.
func (w *Writer) Sync() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.dataFile.Sync(); err != nil {
		return err
	}
	return w.indexFile.Sync()
}

// ToReader durably syncs both files and produces a Reader over a snapshot
// of the current index. Appends made after this point are invisible to the
// returned reader.
func (w *Writer) ToReader() (*Reader, error) {
	if err := w.Sync(); err != nil {
		return nil, err
	}
	dataFile, err := os.Open(filepath.Join(w.dir, DataFileName))
	if err != nil {
		return nil, err
	}
	indexes := make([]Index, len(w.indexes))
	copy(indexes, w.indexes)
	return NewReader(indexes, dataFile), nil
}

func (w *Writer) Close() error {
	syncErr := w.Sync()
	if err := w.indexFile.Close(); syncErr == nil {
		syncErr = err
	}
	if err := w.dataFile.Close(); syncErr == nil {
		syncErr = err
	}
	return syncErr
}

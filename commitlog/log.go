package commitlog

import "sync"

// CommitLog serializes appends to one named log and hands out immutable
// reader snapshots. Writes take the write lock; readers obtained from
// Reader operate on their own snapshot and need no lock at all.
type CommitLog struct {
	mu     sync.Mutex
	writer *Writer
}

func Open(dir string) (*CommitLog, error) {
	w, err := NewWriter(dir)
	if err != nil {
		return nil, err
	}
	return &CommitLog{writer: w}, nil
}

// AppendMsg appends payload and returns the zero based record index.
func (l *CommitLog) AppendMsg(payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Write(payload)
}

// Reader syncs the log and returns a snapshot reader. The caller owns the
// reader and must Close it.
func (l *CommitLog) Reader() (*Reader, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.ToReader()
}

// Read is a convenience for a one-shot snapshot range read.
func (l *CommitLog) Read(from, limit uint64) (*MessageSet, error) {
	r, err := l.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Range(from, limit)
}

func (l *CommitLog) LastIndex() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.LastIndex()
}

func (l *CommitLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Flush()
}

func (l *CommitLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Close()
}

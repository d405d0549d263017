package commitlog

import (
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Descriptor names one commit log to open at startup.
type Descriptor struct {
	Name string
}

// Logs is the registry of named commit logs under one base path. The
// registry map is read/write locked for name lookup; each log serializes
// its own writes independently, so different names append concurrently.
type Logs struct {
	basePath string
	log      *zap.Logger

	mu   sync.RWMutex
	logs map[string]*CommitLog
}

func NewLogs(basePath string, descriptors []Descriptor, log *zap.Logger) (*Logs, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Logs{
		basePath: basePath,
		log:      log,
		logs:     make(map[string]*CommitLog, len(descriptors)),
	}
	for _, d := range descriptors {
		if err := l.Register(d.Name); err != nil {
			l.Close()
			return nil, err
		}
	}
	return l, nil
}

// Register opens (creating if necessary) the log directory for name.
func (l *Logs) Register(name string) error {
	cl, err := Open(filepath.Join(l.basePath, name))
	if err != nil {
		return fmt.Errorf("register commit log %q: %w", name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs[name] = cl
	return nil
}

func (l *Logs) handle(name string) (*CommitLog, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cl, ok := l.logs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingLog, name)
	}
	return cl, nil
}

// Append appends payload to the named log and returns its Location.
func (l *Logs) Append(name string, payload []byte) (Location, error) {
	cl, err := l.handle(name)
	if err != nil {
		return Location{}, err
	}
	offset, err := cl.AppendMsg(payload)
	if err != nil {
		return Location{}, err
	}
	return Location{Offset: offset, Length: uint64(len(payload))}, nil
}

// Get reads the single record at loc.
func (l *Logs) Get(name string, loc Location) ([]byte, error) {
	cl, err := l.handle(name)
	if err != nil {
		return nil, err
	}
	ms, err := cl.Read(loc.Offset, 1)
	if err != nil {
		return nil, err
	}
	msgs, err := ms.Messages()
	if err != nil {
		return nil, err
	}
	if len(msgs) != 1 {
		return nil, fmt.Errorf("%w: expected one record at %v", ErrCorruptData, loc)
	}
	return msgs[0], nil
}

// GetRange reads the consecutive records covered by r in one I/O call.
func (l *Logs) GetRange(name string, r Range) ([][]byte, error) {
	cl, err := l.handle(name)
	if err != nil {
		return nil, err
	}
	ms, err := cl.Read(r.Offset, uint64(r.Count))
	if err != nil {
		return nil, err
	}
	return ms.Messages()
}

// Flush flushes every registered log. All failures are reported, both in
// the returned error and in the log.
func (l *Logs) Flush() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var errs error
	for name, cl := range l.logs {
		if err := cl.Flush(); err != nil {
			l.log.Error("commit log flush failed", zap.String("name", name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("flush %q: %w", name, err))
		}
	}
	return errs
}

// Close syncs and closes every registered log.
func (l *Logs) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs error
	for name, cl := range l.logs {
		if err := cl.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %q: %w", name, err))
		}
	}
	l.logs = map[string]*CommitLog{}
	return errs
}

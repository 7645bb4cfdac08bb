package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tomyedwab/hindsight/events"
	"github.com/tomyedwab/hindsight/hlc"
)

// FileStore appends one JSON-encoded event per line to a log file. Writes
// are fsynced, so events are durable once Add returns. Reads parse the whole
// file: blank or whitespace-only lines are skipped, and a trailing record
// that fails to decode is treated as a write that never completed (a torn
// line from a crash mid-append) rather than as corruption. A malformed
// record anywhere before the last line does fail the read.
//
// The file is append-only; the backend never rewrites earlier lines except
// in DeleteAll, which truncates the whole log.
type FileStore struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

var _ Backend = (*FileStore)(nil)

// NewFileStore opens (or creates) the log file at path for appending.
func NewFileStore(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open event log %s: %w", path, err)
	}
	return &FileStore{path: path, f: f}, nil
}

func (fs *FileStore) Add(ctx context.Context, ev events.Event) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.appendLocked([]events.Event{ev})
}

func (fs *FileStore) AddAll(ctx context.Context, evs []events.Event) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.appendLocked(evs)
}

func (fs *FileStore) appendLocked(evs []events.Event) error {
	if fs.f == nil {
		return ErrDisposed
	}
	for _, ev := range evs {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", ev.ID, err)
		}
		line = append(line, '\n')
		if _, err := fs.f.Write(line); err != nil {
			return fmt.Errorf("append event %s: %w", ev.ID, err)
		}
	}
	if err := fs.f.Sync(); err != nil {
		return fmt.Errorf("sync event log: %w", err)
	}
	return nil
}

func (fs *FileStore) GetAll(ctx context.Context) ([]events.Event, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.readAllLocked()
}

func (fs *FileStore) readAllLocked() ([]events.Event, error) {
	if fs.f == nil {
		return nil, ErrDisposed
	}
	raw, err := os.ReadFile(fs.path)
	if err != nil {
		return nil, fmt.Errorf("read event log %s: %w", fs.path, err)
	}

	lines := strings.Split(string(raw), "\n")
	// Indexes of lines that hold actual data; blanks don't count against
	// the torn-tail rule.
	var records []int
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			records = append(records, i)
		}
	}

	out := make([]events.Event, 0, len(records))
	for n, i := range records {
		var ev events.Event
		if err := json.Unmarshal([]byte(lines[i]), &ev); err != nil {
			if n == len(records)-1 {
				// Torn trailing record: the append never completed, so the
				// event was never durably written. Treat as absent.
				break
			}
			return nil, fmt.Errorf("corrupt event log record at line %d: %w", i+1, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (fs *FileStore) GetByID(ctx context.Context, id hlc.HLC) (events.Event, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	all, err := fs.readAllLocked()
	if err != nil {
		return events.Event{}, err
	}
	for _, ev := range all {
		if hlc.Compare(ev.ID, id) == 0 {
			return ev, nil
		}
	}
	return events.Event{}, ErrNotFound
}

func (fs *FileStore) DeleteAll(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.f == nil {
		return ErrDisposed
	}
	if err := fs.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate event log: %w", err)
	}
	return nil
}

func (fs *FileStore) Dispose() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.f == nil {
		return nil
	}
	err := fs.f.Close()
	fs.f = nil
	return err
}

// Package journal implements the append-only entry log that is the durable
// source of truth for a project's knowledge store. The in-memory index is a
// rebuildable derivative of this log: replaying the journal from offset zero
// must always reproduce the live index state.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/entry"
)

// Common errors.
var (
	// ErrIO wraps any failure of the underlying storage.
	ErrIO = errors.New("journal: storage error")

	// ErrInvalidRecord indicates a record that fails validation at append time.
	ErrInvalidRecord = errors.New("journal: invalid record")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("journal: closed")
)

// Op enumerates record operations. The set is a whitelist: unknown ops in
// the log are skipped on read rather than trusted.
type Op string

const (
	// OpAdd appends a new entry.
	OpAdd Op = "add"

	// OpTombstone marks a previously added entry as logically deleted.
	// The entry stays physically present in the log.
	OpTombstone Op = "tombstone"
)

// Record is one self-delimited line of the journal.
type Record struct {
	Op    Op           `json:"op"`
	Entry *entry.Entry `json:"entry,omitempty"`
	// Ref is the target entry id for tombstone records.
	Ref string `json:"ref,omitempty"`
}

// Validate checks the record shape for its op.
func (r *Record) Validate() error {
	switch r.Op {
	case OpAdd:
		if r.Entry == nil {
			return fmt.Errorf("%w: add record without entry", ErrInvalidRecord)
		}
		if r.Entry.ID == "" {
			return fmt.Errorf("%w: add record without entry id", ErrInvalidRecord)
		}
		return r.Entry.Validate()
	case OpTombstone:
		if r.Ref == "" {
			return fmt.Errorf("%w: tombstone without ref", ErrInvalidRecord)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidRecord, r.Op)
	}
}

// FileName is the journal file name inside the store directory.
const FileName = "entries.jsonl"

// maxLineSize bounds one journal line: a maximum-length text can
// JSON-escape to six bytes per input byte, plus the record envelope.
const maxLineSize = entry.MaxTextLen*6 + 8192

// Journal is an append-only, line-delimited JSON record store.
//
// Appends are atomic with respect to a single record: one complete line is
// written and fsynced before the append returns. A crash mid-write leaves at
// most one torn trailing line, which readers discard.
type Journal struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	size   int64
	closed bool

	// lastCreated tracks CreatedAt monotonicity across appends.
	lastCreated time.Time

	logger *zap.Logger
}

// Open opens (creating if needed) the journal at dir/entries.jsonl.
// The directory is created with 0700 permissions.
func Open(dir string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrIO, dir, err)
	}

	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat %s: %v", ErrIO, path, err)
	}

	j := &Journal{
		path:   path,
		f:      f,
		size:   info.Size(),
		logger: logger.Named("journal"),
	}

	// Recover the monotonic clock from the existing log so restarts
	// keep CreatedAt non-decreasing.
	if err := j.recoverClock(); err != nil {
		f.Close()
		return nil, err
	}

	j.logger.Debug("journal opened",
		zap.String("path", path),
		zap.Int64("size_bytes", j.size),
	)
	return j, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Size returns the byte size of the journal after the last successful own
// write. The server watchdog compares this against the on-disk size to
// detect writes from other processes, which the single-writer rule forbids.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// NextCreatedAt returns now clamped so it never precedes the newest
// CreatedAt already committed to the log. The caller (the single writer)
// stamps entries with this value before appending.
func (j *Journal) NextCreatedAt(now time.Time) time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if now.Before(j.lastCreated) {
		return j.lastCreated
	}
	return now
}

// Append validates rec, writes it as one line, and fsyncs before returning.
func (j *Journal) Append(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshaling record: %v", ErrInvalidRecord, err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrClosed
	}

	n, err := j.f.Write(line)
	if err != nil {
		// A short write leaves a torn trailing line. Readers tolerate it;
		// the next successful append must not concatenate into it, so
		// terminate the partial line first.
		if n > 0 {
			j.f.Write([]byte{'\n'})
		}
		return fmt.Errorf("%w: appending to %s: %v", ErrIO, j.path, err)
	}
	if err := j.f.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %v", ErrIO, j.path, err)
	}

	j.size += int64(len(line))
	if rec.Op == OpAdd && rec.Entry.CreatedAt.After(j.lastCreated) {
		j.lastCreated = rec.Entry.CreatedAt
	}
	return nil
}

// ReadAll streams every committed record in append order, invoking fn for
// each. A torn or malformed trailing line is discarded with a warning. A
// malformed line in the middle of the log is skipped the same way rather
// than failing the whole read; the log is truth, but a reader should
// recover as much of it as possible.
func (j *Journal) ReadAll(fn func(Record) error) error {
	j.mu.Lock()
	path := j.path
	closed := j.closed
	j.mu.Unlock()

	if closed {
		return ErrClosed
	}
	return ReadFile(path, j.logger, fn)
}

// Close syncs and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.f.Sync(); err != nil {
		j.f.Close()
		return fmt.Errorf("%w: syncing on close: %v", ErrIO, err)
	}
	if err := j.f.Close(); err != nil {
		return fmt.Errorf("%w: closing: %v", ErrIO, err)
	}
	return nil
}

// recoverClock scans the log for the newest CreatedAt.
func (j *Journal) recoverClock() error {
	return ReadFile(j.path, j.logger, func(rec Record) error {
		if rec.Op == OpAdd && rec.Entry.CreatedAt.After(j.lastCreated) {
			j.lastCreated = rec.Entry.CreatedAt
		}
		return nil
	})
}

// ReadFile replays a journal file without holding it open for writing.
// Used by cold one-shot clients and by Journal.ReadAll.
func ReadFile(path string, logger *zap.Logger, fn func(Record) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No journal yet means an empty store, not a failure.
			return nil
		}
		return fmt.Errorf("%w: opening %s: %v", ErrIO, path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			logger.Warn("discarding malformed journal line",
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			continue
		}
		if err := rec.Validate(); err != nil {
			logger.Warn("discarding invalid journal record",
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: reading %s: %v", ErrIO, path, err)
	}
	return nil
}

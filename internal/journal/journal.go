// Package journal keeps an append-only JSONL log of sync operations.
//
// Every engine operation appends one line describing what happened:
// which operation ran, against which zone, and how it ended. The log is
// advisory - it exists so `zs log` can answer "what has this client been
// doing" - and a malformed line never breaks reading the rest.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Op names a journaled operation.
type Op string

const (
	OpInit    Op = "init"
	OpRefresh Op = "refresh"
	OpAdd     Op = "add"
	OpDelete  Op = "delete"
	OpRecover Op = "recover"
	OpImport  Op = "import"
)

// Entry is one line of the journal.
type Entry struct {
	Time     time.Time `json:"time"`
	Op       Op        `json:"op"`
	Zone     string    `json:"zone,omitempty"`
	RecordID string    `json:"record_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Journal is an append-only operation log backed by a JSONL file.
// Safe for concurrent use within one process; cross-process appends are
// line-atomic on POSIX systems for lines this short.
type Journal struct {
	path string
	mu   sync.Mutex
}

// Open returns a journal backed by the given file. The file is created
// on first append.
func Open(path string) *Journal {
	return &Journal{path: path}
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes one entry to the journal. A zero Time is filled with
// the current time.
func (j *Journal) Append(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// Read returns every entry in the journal, oldest first.
func (j *Journal) Read() ([]Entry, error) {
	return j.ReadSince(time.Time{})
}

// ReadSince returns entries at or after the given time, oldest first.
// Malformed lines are skipped; a missing journal reads as empty.
func (j *Journal) ReadSince(since time.Time) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // advisory log: skip what we cannot parse
		}
		if e.Time.Before(since) {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}

	return entries, nil
}

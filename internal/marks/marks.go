// Package marks persists which zones this client has already
// provisioned. The engine consults it before ensuring a zone, so a
// relaunch does not re-attempt zone creation; the recovery flow clears
// it so the next initialize provisions again.
package marks

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Store tracks zone provisioning marks.
type Store interface {
	// Created reports whether the zone has been marked as provisioned.
	Created(zone string) (bool, error)

	// MarkCreated records that the zone has been provisioned.
	MarkCreated(zone string) error

	// Clear removes the zone's mark so the next initialize provisions
	// it again. Clearing an unmarked zone is a no-op.
	Clear(zone string) error
}

// FileStore keeps marks in a TOML file:
//
//	[zones.contacts]
//	created = true
//	created_at = 2026-08-25T09:00:00Z
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a mark store backed by the given TOML file. The
// file is created on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileState struct {
	Zones map[string]zoneMark `toml:"zones"`
}

type zoneMark struct {
	Created   bool      `toml:"created"`
	CreatedAt time.Time `toml:"created_at"`
}

// Created reports whether the zone has been marked as provisioned.
func (s *FileStore) Created(zone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return false, err
	}
	return st.Zones[zone].Created, nil
}

// MarkCreated records that the zone has been provisioned.
func (s *FileStore) MarkCreated(zone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	if st.Zones == nil {
		st.Zones = make(map[string]zoneMark)
	}
	st.Zones[zone] = zoneMark{Created: true, CreatedAt: time.Now().UTC()}
	return s.save(st)
}

// Clear removes the zone's mark.
func (s *FileStore) Clear(zone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := st.Zones[zone]; !ok {
		return nil
	}
	delete(st.Zones, zone)
	return s.save(st)
}

func (s *FileStore) load() (*fileState, error) {
	var st fileState
	if _, err := toml.DecodeFile(s.path, &st); err != nil {
		if os.IsNotExist(err) {
			return &fileState{}, nil
		}
		return nil, fmt.Errorf("failed to read marks file %s: %w", s.path, err)
	}
	return &st, nil
}

func (s *FileStore) save(st *fileState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create marks directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("failed to encode marks: %w", err)
	}

	// Write to a temp file and rename for atomicity
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write marks file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace marks file: %w", err)
	}
	return nil
}

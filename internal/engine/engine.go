// Package engine coordinates the contact sync lifecycle against a record
// store.
//
// The engine is a small state machine:
//
//	idle -> initializing -> ready
//	ready -> loading -> loaded
//	loading -> errored
//	errored -> loading
//
// Initialize provisions the zone at most once per installation: a
// persisted mark (marks.Store) remembers that the zone exists, and an
// in-process flag keeps repeated Initialize calls from re-reading it.
// Refresh materializes the full contact list from a zero change token;
// AddContact and DeleteContacts write through to the store. Every store
// failure is classified and surfaced on the observable state as errored.
//
// The engine has a single-writer contract: mutating methods (Initialize,
// Refresh, AddContact, DeleteContacts, Recover) must not be called
// concurrently with each other. State() and Subscribe() are safe from
// any goroutine. A Refresh that is still in flight when a later Refresh
// completes may overwrite state in completion order; callers that need
// ordering must serialize.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/veildb/zonesync/internal/classify"
	"github.com/veildb/zonesync/internal/journal"
	"github.com/veildb/zonesync/internal/marks"
	"github.com/veildb/zonesync/internal/schema"
	"github.com/veildb/zonesync/internal/store"
)

// Phase is the engine's lifecycle phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseReady
	PhaseLoading
	PhaseLoaded
	PhaseErrored
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseLoading:
		return "loading"
	case PhaseLoaded:
		return "loaded"
	case PhaseErrored:
		return "errored"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the engine's observable state. Contacts is the materialized
// list from the most recent successful Refresh; Err is the classified
// error that moved the engine to PhaseErrored, nil otherwise.
type State struct {
	Phase    Phase
	Contacts []*schema.Contact
	Err      *classify.Classified
}

// Config holds configuration for the engine.
type Config struct {
	// Zone is the record store zone contacts live in.
	Zone string

	// Logger for engine activity.
	Logger *log.Logger

	// Journal receives one entry per operation. Nil disables journaling.
	Journal *journal.Journal
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Zone:   schema.DefaultZone,
		Logger: log.New(os.Stderr, "[engine] ", log.LstdFlags),
	}
}

// Engine drives the sync lifecycle for one zone.
type Engine struct {
	store   store.Store
	marks   marks.Store
	zone    string
	logger  *log.Logger
	journal *journal.Journal

	// provisioned short-circuits the marks lookup after the first
	// successful Initialize in this process.
	provisioned bool

	mu      sync.Mutex
	state   State
	subs    map[int]chan State
	nextSub int
}

// New creates an engine over the given store and marks with defaults.
func New(st store.Store, mk marks.Store) (*Engine, error) {
	return NewWithConfig(st, mk, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(st store.Store, mk marks.Store, config *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if mk == nil {
		return nil, fmt.Errorf("marks cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}

	zone := config.Zone
	if zone == "" {
		zone = schema.DefaultZone
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}

	return &Engine{
		store:   st,
		marks:   mk,
		zone:    zone,
		logger:  logger,
		journal: config.Journal,
		state:   State{Phase: PhaseIdle},
		subs:    make(map[int]chan State),
	}, nil
}

// Zone returns the zone this engine syncs.
func (e *Engine) Zone() string {
	return e.zone
}

// State returns a copy of the current observable state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers an observer of state transitions. Every transition
// is sent on the returned channel; a slow observer misses transitions
// rather than blocking the engine. The returned func unsubscribes and
// closes the channel.
func (e *Engine) Subscribe() (<-chan State, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	ch := make(chan State, 8)
	e.subs[id] = ch

	unsubscribe := func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
	return ch, unsubscribe
}

// Initialize brings the engine to the ready phase, provisioning the zone
// if this installation has never done so. The zone is created at most
// once: a persisted mark survives restarts, and an in-process flag keeps
// repeat calls from touching the store at all.
func (e *Engine) Initialize(ctx context.Context) error {
	e.transition(func(s *State) {
		s.Phase = PhaseInitializing
		s.Err = nil
	})

	if !e.provisioned {
		created, err := e.marks.Created(e.zone)
		if err != nil {
			return e.fail("initialize", journal.OpInit, fmt.Errorf("failed to read zone mark: %w", err))
		}
		if !created {
			if err := e.store.EnsureZone(ctx, e.zone); err != nil {
				return e.fail("initialize", journal.OpInit, err)
			}
			if err := e.marks.MarkCreated(e.zone); err != nil {
				return e.fail("initialize", journal.OpInit, fmt.Errorf("failed to persist zone mark: %w", err))
			}
			e.logger.Printf("Provisioned zone %s", e.zone)
			e.logOp(journal.Entry{Op: journal.OpInit, Detail: "zone provisioned"})
		}
		e.provisioned = true
	}

	e.transition(func(s *State) {
		s.Phase = PhaseReady
	})
	return nil
}

// Refresh materializes the full contact list. It always fetches from the
// zero change token: the dataset is small and a full materialization is
// simpler to reason about than merging increments client-side. Records
// that fail to parse are logged and skipped so one malformed record does
// not hide the rest.
func (e *Engine) Refresh(ctx context.Context) error {
	e.transition(func(s *State) {
		s.Phase = PhaseLoading
	})

	changes, err := e.store.FetchChanges(ctx, e.zone, "")
	if err != nil {
		return e.fail("refresh", journal.OpRefresh, err)
	}

	contacts := make([]*schema.Contact, 0, len(changes.Records))
	for _, rec := range changes.Records {
		c, err := schema.FromRecord(&rec)
		if err != nil {
			e.logger.Printf("Warning: skipping record %s: %v", rec.ID, err)
			continue
		}
		contacts = append(contacts, c)
	}
	slices.SortFunc(contacts, func(a, b *schema.Contact) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	e.transition(func(s *State) {
		s.Phase = PhaseLoaded
		s.Contacts = contacts
		s.Err = nil
	})
	e.logOp(journal.Entry{Op: journal.OpRefresh, Detail: fmt.Sprintf("%d contacts", len(contacts))})
	return nil
}

// AddContact saves a new contact with the phone number in the encrypted
// field set. The materialized list is not refreshed; call Refresh to see
// the new contact. Validation failures return before any store call and
// do not change state.
func (e *Engine) AddContact(ctx context.Context, name, phoneNumber string) (*schema.Contact, error) {
	if err := schema.ValidateName(name); err != nil {
		return nil, err
	}

	saved, err := e.store.Save(ctx, schema.NewRecord(e.zone, name, phoneNumber))
	if err != nil {
		return nil, e.fail("add", journal.OpAdd, err)
	}

	c, err := schema.FromRecord(saved)
	if err != nil {
		return nil, e.fail("add", journal.OpAdd, fmt.Errorf("store returned unreadable record: %w", err))
	}

	e.logOp(journal.Entry{Op: journal.OpAdd, RecordID: c.ID, Detail: c.Name})
	return c, nil
}

// DeleteContacts removes the given contacts from the store. An empty set
// succeeds without a store call but still emits the current state, so
// observers waiting on completion always see a transition. On success the
// deleted contacts are pruned from the materialized list; partial batch
// failures surface as a classified error with per-item detail and are not
// rolled back.
func (e *Engine) DeleteContacts(ctx context.Context, contacts []*schema.Contact) error {
	if len(contacts) == 0 {
		e.transition(func(s *State) {})
		return nil
	}

	ids := make([]store.RecordID, len(contacts))
	for i, c := range contacts {
		ids[i] = store.RecordID(c.ID)
	}

	if err := e.store.Delete(ctx, e.zone, ids); err != nil {
		return e.fail("delete", journal.OpDelete, err)
	}

	deleted := make(map[string]bool, len(ids))
	for _, id := range ids {
		deleted[string(id)] = true
	}
	e.transition(func(s *State) {
		s.Contacts = slices.DeleteFunc(s.Contacts, func(c *schema.Contact) bool {
			return deleted[c.ID]
		})
	})

	entry := journal.Entry{Op: journal.OpDelete, Detail: fmt.Sprintf("%d contacts", len(ids))}
	if len(ids) == 1 {
		entry.RecordID = string(ids[0])
	}
	e.logOp(entry)
	return nil
}

// Recover rebuilds the zone after key material loss: delete the zone,
// clear the provisioning mark, provision a fresh zone and re-upload the
// supplied plaintext contacts. This is the operator recovery path; the
// engine never invokes it on its own, no matter what error it sees.
// Re-uploads are best effort, failures are logged and counted.
func (e *Engine) Recover(ctx context.Context, contacts []*schema.Contact) error {
	e.transition(func(s *State) {
		s.Phase = PhaseInitializing
		s.Err = nil
	})

	if err := e.store.DeleteZone(ctx, e.zone); err != nil {
		return e.fail("recover", journal.OpRecover, err)
	}
	if err := e.marks.Clear(e.zone); err != nil {
		return e.fail("recover", journal.OpRecover, fmt.Errorf("failed to clear zone mark: %w", err))
	}
	if err := e.store.EnsureZone(ctx, e.zone); err != nil {
		return e.fail("recover", journal.OpRecover, err)
	}
	if err := e.marks.MarkCreated(e.zone); err != nil {
		return e.fail("recover", journal.OpRecover, fmt.Errorf("failed to persist zone mark: %w", err))
	}
	e.provisioned = true

	uploaded := 0
	for _, c := range contacts {
		if _, err := e.store.Save(ctx, c.ToRecord(e.zone)); err != nil {
			e.logger.Printf("Warning: failed to re-upload contact %s (%s): %v", c.ID, c.Name, err)
			continue
		}
		uploaded++
	}
	e.logger.Printf("Recovered zone %s: re-uploaded %d of %d contacts", e.zone, uploaded, len(contacts))
	e.logOp(journal.Entry{
		Op:     journal.OpRecover,
		Detail: fmt.Sprintf("re-uploaded %d of %d contacts", uploaded, len(contacts)),
	})

	e.transition(func(s *State) {
		s.Phase = PhaseReady
		s.Contacts = nil
	})
	return nil
}

// fail classifies err, moves the engine to errored and returns the
// classified error.
func (e *Engine) fail(op string, jop journal.Op, err error) error {
	classified := classify.Classify(err)
	e.logger.Printf("Error during %s: [%s] %v", op, classified.Kind, err)
	e.logOp(journal.Entry{Op: jop, Error: err.Error()})

	e.transition(func(s *State) {
		s.Phase = PhaseErrored
		s.Err = classified
	})
	return classified
}

// transition applies mutate to the state under the lock and fans the new
// state out to subscribers. Sends never block; a full subscriber channel
// drops the transition.
func (e *Engine) transition(mutate func(*State)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mutate(&e.state)
	snap := e.snapshotLocked()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (e *Engine) snapshotLocked() State {
	snap := e.state
	snap.Contacts = slices.Clone(e.state.Contacts)
	return snap
}

func (e *Engine) logOp(entry journal.Entry) {
	if e.journal == nil {
		return
	}
	if entry.Zone == "" {
		entry.Zone = e.zone
	}
	if err := e.journal.Append(entry); err != nil {
		e.logger.Printf("Warning: failed to journal %s: %v", entry.Op, err)
	}
}

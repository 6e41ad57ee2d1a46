// Package store implements the zoned record store that zonesync clients
// sync against.
//
// The store organizes records into named zones. Every mutation advances a
// per-zone sequence number, and FetchChanges returns an opaque change token
// that marks how far a client has read. Presenting the token on the next
// fetch yields only records and tombstones written after it; presenting the
// zero token yields the full live state of the zone.
//
// Record fields come in two sets: Fields travel and rest in plaintext, while
// Encrypted fields are sealed by the store with key material held in a local
// keyfile. If the key material is lost or rotated, previously sealed fields
// become unreadable and fetches fail with CodeKeyMaterialLost until the zone
// is deleted and re-provisioned.
//
// Architecture:
//   - Backend: embedded SQLite (WAL mode) or a hosted libSQL database
//   - Tables: zones, records, meta
//   - Tokens: base64-wrapped per-zone sequence numbers
//   - Sealing: XChaCha20-Poly1305 over the JSON-encoded encrypted field set
package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"time"
)

// RecordID uniquely identifies a record within a zone.
type RecordID string

// ChangeToken is an opaque cursor marking how far a client has read a
// zone's change feed. The zero value means "from the beginning". Clients
// must not inspect or construct tokens; they only pass back what a
// previous FetchChanges returned.
type ChangeToken string

// RawRecord is a record as the store sees it: a type tag plus two field
// sets. Fields are stored in plaintext. Encrypted fields are sealed at
// rest and only usable while the store's key material survives.
//
// A field name must not appear in both sets.
type RawRecord struct {
	ID         RecordID
	Zone       string
	Type       string
	Fields     map[string]string
	Encrypted  map[string]string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Clone returns a deep copy of the record.
func (r *RawRecord) Clone() *RawRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = maps.Clone(r.Fields)
	c.Encrypted = maps.Clone(r.Encrypted)
	return &c
}

// Validate checks the structural invariants a record must satisfy before
// it can be saved. The ID may be empty; Save assigns one.
func (r *RawRecord) Validate() error {
	if r.Zone == "" {
		return errors.New("record zone is required")
	}
	if r.Type == "" {
		return errors.New("record type is required")
	}
	for name := range r.Fields {
		if _, dup := r.Encrypted[name]; dup {
			return fmt.Errorf("field %q present in both plaintext and encrypted sets", name)
		}
	}
	return nil
}

// ChangeSet is the result of one FetchChanges call: records created or
// modified since the presented token, IDs deleted since it, and the token
// to present next time.
type ChangeSet struct {
	Records []RawRecord
	Deleted []RecordID
	Token   ChangeToken
}

// Store is the contract zonesync clients program against.
//
// All operations are safe for concurrent use. Errors returned by
// implementations are *Error values carrying a Code; callers that need to
// branch on failure kind should use CodeOf rather than string matching.
type Store interface {
	// EnsureZone creates the named zone if it does not exist.
	// Idempotent: ensuring an existing zone is a no-op success.
	EnsureZone(ctx context.Context, zone string) error

	// FetchChanges returns everything written to the zone after the given
	// token. The zero token fetches from the beginning, which for a live
	// zone materializes its full current state. Fails with
	// CodeZoneNotFound if the zone does not exist and CodeKeyMaterialLost
	// if sealed fields can no longer be decrypted.
	FetchChanges(ctx context.Context, zone string, since ChangeToken) (*ChangeSet, error)

	// Save writes the record into its zone, assigning an ID if the record
	// has none, and returns the stored form with ID and timestamps
	// populated. Saving an existing ID replaces the record's fields while
	// preserving its creation time.
	Save(ctx context.Context, rec *RawRecord) (*RawRecord, error)

	// Delete removes the given records from the zone, leaving tombstones
	// that FetchChanges reports as deletions. The batch is best-effort:
	// failures of individual items do not abort the rest, and surface
	// together as a CodePartialFailure error with per-item detail.
	// An empty batch is a no-op success. Deleting an ID that does not
	// exist is not an error.
	Delete(ctx context.Context, zone string, ids []RecordID) error

	// DeleteZone removes the zone and everything in it, including
	// tombstones and change history. Idempotent.
	DeleteZone(ctx context.Context, zone string) error
}

// Change tokens are versioned so a future format change can be detected
// rather than misread.
const tokenPrefix = "zs1:"

func encodeToken(seq int64) ChangeToken {
	raw := fmt.Sprintf("%s%d", tokenPrefix, seq)
	return ChangeToken(base64.StdEncoding.EncodeToString([]byte(raw)))
}

func decodeToken(tok ChangeToken) (int64, error) {
	if tok == "" {
		return 0, nil
	}
	raw, err := base64.StdEncoding.DecodeString(string(tok))
	if err != nil {
		return 0, fmt.Errorf("malformed change token: %w", err)
	}
	var seq int64
	if _, err := fmt.Sscanf(string(raw), tokenPrefix+"%d", &seq); err != nil {
		return 0, fmt.Errorf("malformed change token: %w", err)
	}
	if seq < 0 {
		return 0, fmt.Errorf("malformed change token: negative sequence %d", seq)
	}
	return seq, nil
}

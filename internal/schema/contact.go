// Package schema defines the contact record type and its two
// representations: the store-side raw record with split plaintext and
// encrypted field sets, and the local JSON cache file that survives key
// loss.
package schema

import (
	"fmt"
	"time"

	"github.com/veildb/zonesync/internal/store"
)

// DefaultZone is the zone contacts sync into.
const DefaultZone = "contacts"

// RecordTypeContact is the record type tag for contacts.
const RecordTypeContact = "contact"

// Field names on contact records. The name travels in plaintext; the
// phone number is sealed by the store.
const (
	FieldName        = "name"
	FieldPhoneNumber = "phone_number"
)

// Contact is the client-side materialization of a contact record. The
// local cache stores one of these per file, in plaintext, so the data
// survives even when the store's key material does not.
type Contact struct {
	ID          string    `json:"id" yaml:"id"`
	Name        string    `json:"name" yaml:"name"`
	PhoneNumber string    `json:"phone_number,omitempty" yaml:"phone_number,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
	ModifiedAt  time.Time `json:"modified_at" yaml:"modified_at"`
}

// Validate checks if the Contact has valid field values.
func (c *Contact) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	return ValidateName(c.Name)
}

// ValidateName checks a contact name before it reaches the store. The
// limit matches what the cache file format accepts, so anything saved
// can also be cached.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > 256 {
		return fmt.Errorf("name must be 256 characters or less (got %d)", len(name))
	}
	return nil
}

// FromRecord maps a raw store record onto a Contact. The record must be
// of the contact type and carry a name; records that fail here are
// malformed and callers typically skip them rather than abort a sync.
func FromRecord(rec *store.RawRecord) (*Contact, error) {
	if rec.Type != RecordTypeContact {
		return nil, fmt.Errorf("record %s has type %q, want %q", rec.ID, rec.Type, RecordTypeContact)
	}
	name := rec.Fields[FieldName]
	if name == "" {
		return nil, fmt.Errorf("record %s has no name field", rec.ID)
	}

	return &Contact{
		ID:          string(rec.ID),
		Name:        name,
		PhoneNumber: rec.Encrypted[FieldPhoneNumber],
		CreatedAt:   rec.CreatedAt,
		ModifiedAt:  rec.ModifiedAt,
	}, nil
}

// ToRecord maps the Contact back onto a raw record for the given zone.
// The phone number goes into the encrypted field set so it is sealed at
// rest; the name stays plaintext so the store can serve it without key
// material.
func (c *Contact) ToRecord(zone string) *store.RawRecord {
	rec := &store.RawRecord{
		ID:     store.RecordID(c.ID),
		Zone:   zone,
		Type:   RecordTypeContact,
		Fields: map[string]string{FieldName: c.Name},
	}
	if c.PhoneNumber != "" {
		rec.Encrypted = map[string]string{FieldPhoneNumber: c.PhoneNumber}
	}
	return rec
}

// NewRecord builds an unsaved contact record. The store assigns the ID
// and timestamps on save.
func NewRecord(zone, name, phoneNumber string) *store.RawRecord {
	c := &Contact{Name: name, PhoneNumber: phoneNumber}
	return c.ToRecord(zone)
}

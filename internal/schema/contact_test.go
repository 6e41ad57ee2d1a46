package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/veildb/zonesync/internal/store"
)

func TestContact_Validate(t *testing.T) {
	tests := []struct {
		name    string
		contact Contact
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid contact",
			contact: Contact{
				ID:          "c-1",
				Name:        "Ramona Flowers",
				PhoneNumber: "+1 555 0100",
			},
			wantErr: false,
		},
		{
			name: "valid without phone number",
			contact: Contact{
				ID:   "c-2",
				Name: "Devon",
			},
			wantErr: false,
		},
		{
			name: "missing id",
			contact: Contact{
				Name: "Ramona Flowers",
			},
			wantErr: true,
			errMsg:  "id is required",
		},
		{
			name: "missing name",
			contact: Contact{
				ID: "c-1",
			},
			wantErr: true,
			errMsg:  "name is required",
		},
		{
			name: "name too long",
			contact: Contact{
				ID:   "c-1",
				Name: strings.Repeat("x", 257),
			},
			wantErr: true,
			errMsg:  "name must be 256 characters or less",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.contact.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("Validate() = nil, want error")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() = %q, want it to contain %q", err, tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestFromRecord(t *testing.T) {
	now := time.Now().UTC()
	rec := &store.RawRecord{
		ID:         "c-1",
		Zone:       DefaultZone,
		Type:       RecordTypeContact,
		Fields:     map[string]string{FieldName: "Ramona Flowers"},
		Encrypted:  map[string]string{FieldPhoneNumber: "+1 555 0100"},
		CreatedAt:  now,
		ModifiedAt: now,
	}

	c, err := FromRecord(rec)
	if err != nil {
		t.Fatalf("FromRecord() failed: %v", err)
	}

	if c.ID != "c-1" {
		t.Errorf("ID = %q, want 'c-1'", c.ID)
	}
	if c.Name != "Ramona Flowers" {
		t.Errorf("Name = %q, want 'Ramona Flowers'", c.Name)
	}
	if c.PhoneNumber != "+1 555 0100" {
		t.Errorf("PhoneNumber = %q, want '+1 555 0100'", c.PhoneNumber)
	}
	if !c.CreatedAt.Equal(now) || !c.ModifiedAt.Equal(now) {
		t.Errorf("timestamps = (%v, %v), want %v", c.CreatedAt, c.ModifiedAt, now)
	}
}

func TestFromRecord_WrongType(t *testing.T) {
	rec := &store.RawRecord{
		ID:     "n-1",
		Zone:   DefaultZone,
		Type:   "note",
		Fields: map[string]string{"body": "hi"},
	}

	if _, err := FromRecord(rec); err == nil {
		t.Error("FromRecord() accepted a non-contact record")
	}
}

func TestFromRecord_MissingName(t *testing.T) {
	rec := &store.RawRecord{
		ID:   "c-1",
		Zone: DefaultZone,
		Type: RecordTypeContact,
	}

	if _, err := FromRecord(rec); err == nil {
		t.Error("FromRecord() accepted a record without a name")
	}
}

func TestToRecord_FieldPlacement(t *testing.T) {
	c := &Contact{ID: "c-1", Name: "Ramona Flowers", PhoneNumber: "+1 555 0100"}
	rec := c.ToRecord(DefaultZone)

	if rec.Fields[FieldName] != "Ramona Flowers" {
		t.Errorf("plaintext name = %q, want 'Ramona Flowers'", rec.Fields[FieldName])
	}
	if rec.Encrypted[FieldPhoneNumber] != "+1 555 0100" {
		t.Errorf("encrypted phone = %q, want '+1 555 0100'", rec.Encrypted[FieldPhoneNumber])
	}

	// The phone number must never appear in the plaintext set
	if _, leaked := rec.Fields[FieldPhoneNumber]; leaked {
		t.Error("phone number placed in the plaintext field set")
	}
	if err := rec.Validate(); err != nil {
		t.Errorf("ToRecord() produced an invalid record: %v", err)
	}
}

func TestToRecord_NoPhoneNumber(t *testing.T) {
	c := &Contact{ID: "c-1", Name: "Devon"}
	rec := c.ToRecord(DefaultZone)

	if len(rec.Encrypted) != 0 {
		t.Errorf("Encrypted = %v, want empty for a contact without a phone", rec.Encrypted)
	}
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord(DefaultZone, "Ramona Flowers", "+1 555 0100")

	if rec.ID != "" {
		t.Errorf("NewRecord() assigned ID %q, want empty (store assigns)", rec.ID)
	}
	if rec.Zone != DefaultZone {
		t.Errorf("Zone = %q, want %q", rec.Zone, DefaultZone)
	}
	if rec.Type != RecordTypeContact {
		t.Errorf("Type = %q, want %q", rec.Type, RecordTypeContact)
	}
}

func TestContactFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC().Truncate(time.Second)
	c := &Contact{
		ID:          "c-1",
		Name:        "Ramona Flowers",
		PhoneNumber: "+1 555 0100",
		CreatedAt:   now,
		ModifiedAt:  now,
	}

	if err := WriteContactFile(dir, c); err != nil {
		t.Fatalf("WriteContactFile() failed: %v", err)
	}

	read, err := ReadContactFile(filepath.Join(dir, "c-1.json"))
	if err != nil {
		t.Fatalf("ReadContactFile() failed: %v", err)
	}

	if read.Name != c.Name || read.PhoneNumber != c.PhoneNumber {
		t.Errorf("round-trip = %+v, want %+v", read, c)
	}
	if !read.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", read.CreatedAt, now)
	}
}

func TestWriteContactFile_Invalid(t *testing.T) {
	if err := WriteContactFile(t.TempDir(), &Contact{ID: "c-1"}); err == nil {
		t.Error("WriteContactFile() accepted a contact without a name")
	}
}

func TestReadAllContactFiles_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()

	good := &Contact{ID: "c-1", Name: "Ramona Flowers"}
	if err := WriteContactFile(dir, good); err != nil {
		t.Fatalf("WriteContactFile() failed: %v", err)
	}

	// Corrupt file and a non-JSON file should both be ignored
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("hi"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	contacts, err := ReadAllContactFiles(dir)
	if err != nil {
		t.Fatalf("ReadAllContactFiles() failed: %v", err)
	}
	if len(contacts) != 1 {
		t.Fatalf("ReadAllContactFiles() returned %d contacts, want 1", len(contacts))
	}
	if contacts[0].ID != "c-1" {
		t.Errorf("contact ID = %q, want 'c-1'", contacts[0].ID)
	}
}

func TestReadAllContactFiles_MissingDir(t *testing.T) {
	contacts, err := ReadAllContactFiles(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("ReadAllContactFiles() on missing dir failed: %v", err)
	}
	if len(contacts) != 0 {
		t.Errorf("ReadAllContactFiles() = %v, want empty", contacts)
	}
}

func TestRemoveContactFile_Idempotent(t *testing.T) {
	dir := t.TempDir()
	c := &Contact{ID: "c-1", Name: "Ramona Flowers"}
	if err := WriteContactFile(dir, c); err != nil {
		t.Fatalf("WriteContactFile() failed: %v", err)
	}

	if err := RemoveContactFile(dir, "c-1"); err != nil {
		t.Fatalf("RemoveContactFile() failed: %v", err)
	}
	if err := RemoveContactFile(dir, "c-1"); err != nil {
		t.Errorf("Second RemoveContactFile() failed: %v", err)
	}
}

func TestSyncCache(t *testing.T) {
	dir := t.TempDir()

	stale := &Contact{ID: "old-1", Name: "Gone Soon"}
	if err := WriteContactFile(dir, stale); err != nil {
		t.Fatalf("WriteContactFile() failed: %v", err)
	}

	contacts := []*Contact{
		{ID: "c-1", Name: "Ramona Flowers", PhoneNumber: "+1 555 0100"},
		{ID: "c-2", Name: "Devon"},
	}
	if err := SyncCache(dir, contacts); err != nil {
		t.Fatalf("SyncCache() failed: %v", err)
	}

	all, err := ReadAllContactFiles(dir)
	if err != nil {
		t.Fatalf("ReadAllContactFiles() failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("cache holds %d contacts after sync, want 2", len(all))
	}
	for _, c := range all {
		if c.ID == "old-1" {
			t.Error("stale cache file survived SyncCache()")
		}
	}
}

func TestContactIDFromPath(t *testing.T) {
	if id := ContactIDFromPath("/data/contacts/c-42.json"); id != "c-42" {
		t.Errorf("ContactIDFromPath() = %q, want 'c-42'", id)
	}
	if id := ContactIDFromPath("/data/contacts/README.md"); id != "" {
		t.Errorf("ContactIDFromPath() on non-JSON = %q, want \"\"", id)
	}
}

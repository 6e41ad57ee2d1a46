package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/veildb/zonesync/internal/classify"
	"github.com/veildb/zonesync/internal/journal"
	"github.com/veildb/zonesync/internal/marks"
	"github.com/veildb/zonesync/internal/schema"
	"github.com/veildb/zonesync/internal/store"
)

// fakeStore implements store.Store in memory and counts calls, so tests
// can assert which remote operations an engine flow actually issues.
type fakeStore struct {
	mu      sync.Mutex
	zones   map[string]bool
	records map[store.RecordID]*store.RawRecord
	nextID  int

	ensureZoneCalls int
	fetchCalls      int
	saveCalls       int
	deleteCalls     int
	deleteZoneCalls int

	// failWith, when set, makes every operation fail with this error.
	failWith error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		zones:   make(map[string]bool),
		records: make(map[store.RecordID]*store.RawRecord),
	}
}

func (f *fakeStore) EnsureZone(ctx context.Context, zone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureZoneCalls++
	if f.failWith != nil {
		return f.failWith
	}
	f.zones[zone] = true
	return nil
}

func (f *fakeStore) FetchChanges(ctx context.Context, zone string, since store.ChangeToken) (*store.ChangeSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	if !f.zones[zone] {
		return nil, &store.Error{Op: "fetch", Zone: zone, Code: store.CodeZoneNotFound}
	}

	cs := &store.ChangeSet{Token: store.ChangeToken(fmt.Sprintf("fake:%d", f.nextID))}
	for _, rec := range f.records {
		if rec.Zone == zone {
			cs.Records = append(cs.Records, rec.Clone())
		}
	}
	return cs, nil
}

func (f *fakeStore) Save(ctx context.Context, rec *store.RawRecord) (*store.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.failWith != nil {
		return nil, f.failWith
	}
	if !f.zones[rec.Zone] {
		return nil, &store.Error{Op: "save", Zone: rec.Zone, Code: store.CodeZoneNotFound}
	}

	saved := rec.Clone()
	if saved.ID == "" {
		f.nextID++
		saved.ID = store.RecordID(fmt.Sprintf("rec-%d", f.nextID))
	}
	now := time.Now().UTC()
	if existing, ok := f.records[saved.ID]; ok {
		saved.CreatedAt = existing.CreatedAt
	} else {
		saved.CreatedAt = now
	}
	saved.ModifiedAt = now
	f.records[saved.ID] = saved
	return saved.Clone(), nil
}

func (f *fakeStore) Delete(ctx context.Context, zone string, ids []store.RecordID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.failWith != nil {
		return f.failWith
	}
	for _, id := range ids {
		delete(f.records, id)
	}
	return nil
}

func (f *fakeStore) DeleteZone(ctx context.Context, zone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteZoneCalls++
	if f.failWith != nil {
		return f.failWith
	}
	delete(f.zones, zone)
	for id, rec := range f.records {
		if rec.Zone == zone {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeStore) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWith = err
}

func (f *fakeStore) calls() (ensure, fetch, save, del, delZone int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureZoneCalls, f.fetchCalls, f.saveCalls, f.deleteCalls, f.deleteZoneCalls
}

func quietConfig() *Config {
	return &Config{Logger: log.New(io.Discard, "", 0)}
}

func testEngine(t *testing.T) (*Engine, *fakeStore) {
	t.Helper()
	fs := newFakeStore()
	mk := marks.NewFileStore(filepath.Join(t.TempDir(), "marks.toml"))
	eng, err := NewWithConfig(fs, mk, quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	return eng, fs
}

func TestNew_Validation(t *testing.T) {
	mk := marks.NewFileStore(filepath.Join(t.TempDir(), "marks.toml"))

	if _, err := New(nil, mk); err == nil {
		t.Error("New() with nil store should fail")
	}
	if _, err := New(newFakeStore(), nil); err == nil {
		t.Error("New() with nil marks should fail")
	}
	eng, err := New(newFakeStore(), mk)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if eng.Zone() != schema.DefaultZone {
		t.Errorf("Zone() = %q, want %q", eng.Zone(), schema.DefaultZone)
	}
}

func TestInitialize(t *testing.T) {
	eng, fs := testEngine(t)
	ctx := context.Background()

	if got := eng.State().Phase; got != PhaseIdle {
		t.Errorf("initial phase = %s, want idle", got)
	}

	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if got := eng.State().Phase; got != PhaseReady {
		t.Errorf("phase after Initialize = %s, want ready", got)
	}

	ensure, _, _, _, _ := fs.calls()
	if ensure != 1 {
		t.Errorf("EnsureZone called %d times, want 1", ensure)
	}
}

func TestInitialize_ProvisionsOnce(t *testing.T) {
	eng, fs := testEngine(t)
	ctx := context.Background()

	// Repeated in-process calls hit the store exactly once.
	for i := 0; i < 3; i++ {
		if err := eng.Initialize(ctx); err != nil {
			t.Fatalf("Initialize() #%d failed: %v", i+1, err)
		}
	}
	ensure, _, _, _, _ := fs.calls()
	if ensure != 1 {
		t.Errorf("EnsureZone called %d times after repeated Initialize, want 1", ensure)
	}
}

func TestInitialize_MarkSurvivesRestart(t *testing.T) {
	fs := newFakeStore()
	marksPath := filepath.Join(t.TempDir(), "marks.toml")
	ctx := context.Background()

	first, err := NewWithConfig(fs, marks.NewFileStore(marksPath), quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if err := first.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	// A second engine sharing the marks file stands in for a process
	// restart. The persisted mark must keep it from re-provisioning.
	second, err := NewWithConfig(fs, marks.NewFileStore(marksPath), quietConfig())
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}
	if err := second.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() after restart failed: %v", err)
	}

	ensure, _, _, _, _ := fs.calls()
	if ensure != 1 {
		t.Errorf("EnsureZone called %d times across restarts, want 1", ensure)
	}
}

func TestInitialize_StoreFailure(t *testing.T) {
	eng, fs := testEngine(t)
	fs.fail(&store.Error{Op: "ensure-zone", Zone: "contacts", Code: store.CodeUnauthorized})

	err := eng.Initialize(context.Background())
	if err == nil {
		t.Fatal("Initialize() should fail when EnsureZone fails")
	}

	var cerr *classify.Classified
	if !errors.As(err, &cerr) {
		t.Fatalf("Initialize() error = %T, want *classify.Classified", err)
	}
	if cerr.Kind != classify.Unauthorized {
		t.Errorf("classified kind = %s, want unauthorized", cerr.Kind)
	}

	state := eng.State()
	if state.Phase != PhaseErrored {
		t.Errorf("phase = %s, want errored", state.Phase)
	}
	if state.Err == nil || state.Err.Kind != classify.Unauthorized {
		t.Errorf("state.Err = %v, want unauthorized classification", state.Err)
	}

	// A later Initialize after the store recovers must still provision.
	fs.fail(nil)
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() after recovery failed: %v", err)
	}
	if got := eng.State().Phase; got != PhaseReady {
		t.Errorf("phase after recovery = %s, want ready", got)
	}
}

func TestAddContactAndRefresh_RoundTrip(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	added, err := eng.AddContact(ctx, "Jane", "555-0100")
	if err != nil {
		t.Fatalf("AddContact() failed: %v", err)
	}
	if added.ID == "" {
		t.Error("AddContact() returned contact without ID")
	}
	if added.Name != "Jane" || added.PhoneNumber != "555-0100" {
		t.Errorf("AddContact() returned %q/%q, want Jane/555-0100", added.Name, added.PhoneNumber)
	}

	// Adding does not refresh the materialized list.
	if got := len(eng.State().Contacts); got != 0 {
		t.Errorf("list has %d contacts before Refresh, want 0", got)
	}

	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	state := eng.State()
	if state.Phase != PhaseLoaded {
		t.Errorf("phase = %s, want loaded", state.Phase)
	}
	if len(state.Contacts) != 1 {
		t.Fatalf("list has %d contacts, want 1", len(state.Contacts))
	}
	got := state.Contacts[0]
	if got.ID != added.ID {
		t.Errorf("refreshed contact ID = %q, want %q", got.ID, added.ID)
	}
	if got.PhoneNumber != "555-0100" {
		t.Errorf("refreshed phone number = %q, want 555-0100", got.PhoneNumber)
	}
}

func TestAddContact_ValidatesBeforeStore(t *testing.T) {
	eng, fs := testEngine(t)
	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	before := eng.State()

	if _, err := eng.AddContact(ctx, "", "555-0100"); err == nil {
		t.Error("AddContact() with empty name should fail")
	}

	_, _, saves, _, _ := fs.calls()
	if saves != 0 {
		t.Errorf("Save called %d times for invalid contact, want 0", saves)
	}
	if after := eng.State(); after.Phase != before.Phase {
		t.Errorf("phase changed to %s on local validation failure, want %s", after.Phase, before.Phase)
	}
}

func TestRefresh_SortsByName(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	for _, name := range []string{"Wanda", "Alton", "Marcy"} {
		if _, err := eng.AddContact(ctx, name, ""); err != nil {
			t.Fatalf("AddContact(%s) failed: %v", name, err)
		}
	}
	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	var names []string
	for _, c := range eng.State().Contacts {
		names = append(names, c.Name)
	}
	want := []string{"Alton", "Marcy", "Wanda"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("contact order = %v, want %v", names, want)
		}
	}
}

func TestRefresh_SkipsUnparseableRecords(t *testing.T) {
	eng, fs := testEngine(t)
	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if _, err := eng.AddContact(ctx, "Valid Val", "555-0199"); err != nil {
		t.Fatalf("AddContact() failed: %v", err)
	}

	// Seed a record the schema cannot parse next to the valid one.
	fs.mu.Lock()
	fs.records["bogus-1"] = &store.RawRecord{
		ID:     "bogus-1",
		Zone:   eng.Zone(),
		Type:   "note",
		Fields: map[string]string{"body": "not a contact"},
	}
	fs.mu.Unlock()

	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	state := eng.State()
	if state.Phase != PhaseLoaded {
		t.Errorf("phase = %s, want loaded despite bad record", state.Phase)
	}
	if len(state.Contacts) != 1 || state.Contacts[0].Name != "Valid Val" {
		t.Errorf("contacts = %+v, want just Valid Val", state.Contacts)
	}
}

func TestRefresh_KeyMaterialLost(t *testing.T) {
	eng, fs := testEngine(t)
	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	ensureBefore, _, _, _, _ := fs.calls()

	fs.fail(&store.Error{Op: "fetch", Zone: "contacts", Code: store.CodeKeyMaterialLost})
	err := eng.Refresh(ctx)
	if err == nil {
		t.Fatal("Refresh() should fail when key material is lost")
	}

	var cerr *classify.Classified
	if !errors.As(err, &cerr) || cerr.Kind != classify.KeyMaterialLost {
		t.Fatalf("Refresh() error = %v, want key-material-lost classification", err)
	}
	if state := eng.State(); state.Phase != PhaseErrored || state.Err.Kind != classify.KeyMaterialLost {
		t.Errorf("state = %s/%v, want errored with key-material-lost", state.Phase, state.Err)
	}

	// Key loss must never trigger automatic zone recreation.
	ensureAfter, _, _, _, delZone := fs.calls()
	if delZone != 0 {
		t.Errorf("DeleteZone called %d times after key loss, want 0", delZone)
	}
	if ensureAfter != ensureBefore {
		t.Errorf("EnsureZone called %d more times after key loss, want 0", ensureAfter-ensureBefore)
	}
}

func TestDeleteContacts_EmptySet(t *testing.T) {
	eng, fs := testEngine(t)
	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	updates, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	if err := eng.DeleteContacts(ctx, nil); err != nil {
		t.Fatalf("DeleteContacts(nil) failed: %v", err)
	}

	_, _, _, deletes, _ := fs.calls()
	if deletes != 0 {
		t.Errorf("Delete called %d times for empty set, want 0", deletes)
	}

	// Observers still see a completion transition.
	select {
	case state := <-updates:
		if state.Phase != PhaseReady {
			t.Errorf("emitted phase = %s, want ready", state.Phase)
		}
	default:
		t.Error("no state emitted for empty delete")
	}
}

func TestDeleteContacts_PrunesList(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	keep, err := eng.AddContact(ctx, "Keep Me", "")
	if err != nil {
		t.Fatalf("AddContact() failed: %v", err)
	}
	drop, err := eng.AddContact(ctx, "Drop Me", "")
	if err != nil {
		t.Fatalf("AddContact() failed: %v", err)
	}
	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	if err := eng.DeleteContacts(ctx, []*schema.Contact{drop}); err != nil {
		t.Fatalf("DeleteContacts() failed: %v", err)
	}

	state := eng.State()
	if len(state.Contacts) != 1 || state.Contacts[0].ID != keep.ID {
		t.Errorf("contacts after delete = %+v, want just %s", state.Contacts, keep.ID)
	}

	// The store agrees after a refresh.
	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	if got := len(eng.State().Contacts); got != 1 {
		t.Errorf("store still has %d contacts, want 1", got)
	}
}

func TestDeleteContacts_PartialFailure(t *testing.T) {
	eng, fs := testEngine(t)
	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	c, err := eng.AddContact(ctx, "Doomed", "")
	if err != nil {
		t.Fatalf("AddContact() failed: %v", err)
	}

	fs.fail(&store.Error{
		Op:    "delete",
		Zone:  "contacts",
		Code:  store.CodePartialFailure,
		Items: map[store.RecordID]error{store.RecordID(c.ID): errors.New("record locked")},
	})

	err = eng.DeleteContacts(ctx, []*schema.Contact{c})
	var cerr *classify.Classified
	if !errors.As(err, &cerr) || cerr.Kind != classify.PartialFailure {
		t.Fatalf("DeleteContacts() error = %v, want partial-failure classification", err)
	}
	if len(cerr.Items) != 1 {
		t.Errorf("classified error carries %d item errors, want 1", len(cerr.Items))
	}
	if state := eng.State(); state.Phase != PhaseErrored {
		t.Errorf("phase = %s, want errored", state.Phase)
	}
}

func TestSubscribe_SeesTransitions(t *testing.T) {
	eng, _ := testEngine(t)
	ctx := context.Background()

	updates, unsubscribe := eng.Subscribe()
	defer unsubscribe()

	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	want := []Phase{PhaseInitializing, PhaseReady, PhaseLoading, PhaseLoaded}
	for i, phase := range want {
		select {
		case state := <-updates:
			if state.Phase != phase {
				t.Errorf("transition %d = %s, want %s", i, state.Phase, phase)
			}
		default:
			t.Fatalf("missing transition %d (%s)", i, phase)
		}
	}
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	eng, _ := testEngine(t)

	updates, unsubscribe := eng.Subscribe()
	unsubscribe()
	unsubscribe() // safe to call twice

	if _, ok := <-updates; ok {
		t.Error("channel still open after unsubscribe")
	}

	// Transitions after unsubscribe must not panic on the closed channel.
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
}

func TestRecover_RebuildsZone(t *testing.T) {
	eng, fs := testEngine(t)
	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	saved := []*schema.Contact{
		{ID: "c-1", Name: "Ramona", PhoneNumber: "555-0101"},
		{ID: "c-2", Name: "Scott"},
	}
	if err := eng.Recover(ctx, saved); err != nil {
		t.Fatalf("Recover() failed: %v", err)
	}

	_, _, _, _, delZone := fs.calls()
	if delZone != 1 {
		t.Errorf("DeleteZone called %d times, want 1", delZone)
	}
	if got := eng.State().Phase; got != PhaseReady {
		t.Errorf("phase after Recover = %s, want ready", got)
	}

	// The re-uploaded contacts come back with their identities intact.
	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}
	contacts := eng.State().Contacts
	if len(contacts) != 2 {
		t.Fatalf("recovered zone has %d contacts, want 2", len(contacts))
	}
	if contacts[0].ID != "c-1" || contacts[0].PhoneNumber != "555-0101" {
		t.Errorf("recovered contact = %+v, want c-1 with phone 555-0101", contacts[0])
	}
}

func TestJournal_RecordsOperations(t *testing.T) {
	fs := newFakeStore()
	dir := t.TempDir()
	jnl := journal.Open(filepath.Join(dir, "journal.jsonl"))
	cfg := quietConfig()
	cfg.Journal = jnl

	eng, err := NewWithConfig(fs, marks.NewFileStore(filepath.Join(dir, "marks.toml")), cfg)
	if err != nil {
		t.Fatalf("NewWithConfig() failed: %v", err)
	}

	ctx := context.Background()
	if err := eng.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if _, err := eng.AddContact(ctx, "Jane", "555-0100"); err != nil {
		t.Fatalf("AddContact() failed: %v", err)
	}
	if err := eng.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() failed: %v", err)
	}

	entries, err := jnl.Read()
	if err != nil {
		t.Fatalf("journal Read() failed: %v", err)
	}
	var ops []journal.Op
	for _, e := range entries {
		ops = append(ops, e.Op)
		if e.Zone != schema.DefaultZone {
			t.Errorf("entry %s has zone %q, want %q", e.Op, e.Zone, schema.DefaultZone)
		}
	}
	want := []journal.Op{journal.OpInit, journal.OpAdd, journal.OpRefresh}
	if len(ops) != len(want) {
		t.Fatalf("journal ops = %v, want %v", ops, want)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("journal ops = %v, want %v", ops, want)
		}
	}
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/mod/semver"

	"github.com/veildb/zonesync/internal/version"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB is the SQL-backed Store implementation. It runs either embedded
// (SQLite with WAL, the default) or against a hosted libSQL database via
// OpenRemote. In both modes the DB process owns the field-sealing key
// material; clients never see sealed bytes.
type DB struct {
	conn    *sql.DB
	path    string
	keyfile string
	remote  bool

	mu     sync.RWMutex
	cipher *fieldCipher
}

var _ Store = (*DB)(nil)

// Open creates a store at the given database path in embedded mode.
//
// The parent directory and the keyfile are created if missing. The
// database is opened with WAL so readers are not blocked by writers.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	db, err := store.Open(".zonesync/store.db", ".zonesync/store.key")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
func Open(path, keyfile string) (*DB, error) {
	configureRuntime()

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// Format for embedded mode: file:path
	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return finishOpen(conn, path, keyfile, false)
}

// finishOpen completes setup shared by the embedded and remote paths.
func finishOpen(conn *sql.DB, path, keyfile string, remote bool) (*DB, error) {
	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	key, err := loadOrCreateKey(keyfile)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	fc, err := newFieldCipher(key)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{
		conn:    conn,
		path:    path,
		keyfile: keyfile,
		remote:  remote,
		cipher:  fc,
	}

	if !remote {
		// Enable WAL mode for concurrent reads
		if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}

		// Set busy timeout to 5 seconds
		if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}

		// Enable foreign keys
		if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database path or URL this store was opened with.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
// In embedded mode it checkpoints the WAL first so all changes are
// persisted to the main database file.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if !db.remote {
		if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the store schema if it doesn't exist and verifies
// this client is new enough for the store. Idempotent - safe to call
// multiple times.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS zones (
		name TEXT PRIMARY KEY,
		seq INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		zone TEXT NOT NULL,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		fields TEXT NOT NULL,   -- JSON object of plaintext fields
		sealed BLOB,            -- encrypted field set, sealed by the store
		seq INTEGER NOT NULL,   -- zone sequence at last modification
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		modified_at TEXT NOT NULL,
		PRIMARY KEY (zone, id),
		FOREIGN KEY (zone) REFERENCES zones(name) ON DELETE CASCADE
	);

	-- Change feeds scan by sequence within a zone
	CREATE INDEX IF NOT EXISTS idx_records_zone_seq ON records(zone, seq);
	CREATE INDEX IF NOT EXISTS idx_records_zone_live ON records(zone, deleted);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	if _, err := db.conn.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('schema_version', '1') ON CONFLICT(key) DO NOTHING`); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return db.checkClientVersion(ctx)
}

// checkClientVersion refuses to serve clients older than the store's
// configured minimum. Hosted deployments raise the minimum when a wire
// change lands; stores with no minimum accept everyone.
func (db *DB) checkClientVersion(ctx context.Context) error {
	var minVersion string
	err := db.conn.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'min_client_version'`).Scan(&minVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read minimum client version: %w", err)
	}

	if semver.Compare(version.Version, minVersion) < 0 {
		return fmt.Errorf("store requires client %s or newer, running %s", minVersion, version.Version)
	}
	return nil
}

// SetMinClientVersion records the oldest client version the store will
// serve. Pass a valid semver string like "v0.3.0".
func (db *DB) SetMinClientVersion(ctx context.Context, v string) error {
	if !semver.IsValid(v) {
		return opErr("set-min-client-version", "", CodeInvalid, fmt.Errorf("invalid semver %q", v))
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('min_client_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, v)
	if err != nil {
		return dbErr("set-min-client-version", "", err)
	}
	return nil
}

// EnsureZone creates the named zone if it does not exist.
func (db *DB) EnsureZone(ctx context.Context, zone string) error {
	if zone == "" {
		return opErr("ensure-zone", zone, CodeInvalid, errors.New("zone name is required"))
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO zones (name, seq, created_at) VALUES (?, 0, ?) ON CONFLICT(name) DO NOTHING`,
		zone, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return dbErr("ensure-zone", zone, err)
	}
	return nil
}

// FetchChanges returns everything written to the zone after the given
// token, plus the token to present next time.
func (db *DB) FetchChanges(ctx context.Context, zone string, since ChangeToken) (*ChangeSet, error) {
	sinceSeq, err := decodeToken(since)
	if err != nil {
		return nil, opErr("fetch-changes", zone, CodeInvalid, err)
	}

	// Snapshot the zone sequence first; rows written after this point
	// belong to the next fetch.
	var zoneSeq int64
	err = db.conn.QueryRowContext(ctx, `SELECT seq FROM zones WHERE name = ?`, zone).Scan(&zoneSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opErr("fetch-changes", zone, CodeZoneNotFound, fmt.Errorf("zone %q does not exist", zone))
	}
	if err != nil {
		return nil, dbErr("fetch-changes", zone, err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, type, fields, sealed, deleted, created_at, modified_at
		FROM records
		WHERE zone = ? AND seq > ? AND seq <= ?
		ORDER BY seq ASC`,
		zone, sinceSeq, zoneSeq)
	if err != nil {
		return nil, dbErr("fetch-changes", zone, err)
	}
	defer rows.Close()

	cs := &ChangeSet{Token: encodeToken(zoneSeq)}
	for rows.Next() {
		var (
			id, typ, fieldsJSON   string
			sealed                []byte
			deleted               int
			createdAt, modifiedAt string
		)
		if err := rows.Scan(&id, &typ, &fieldsJSON, &sealed, &deleted, &createdAt, &modifiedAt); err != nil {
			return nil, dbErr("fetch-changes", zone, fmt.Errorf("failed to scan record: %w", err))
		}

		if deleted != 0 {
			cs.Deleted = append(cs.Deleted, RecordID(id))
			continue
		}

		var fields map[string]string
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return nil, dbErr("fetch-changes", zone, fmt.Errorf("record %s has corrupt fields: %w", id, err))
		}

		encrypted, err := db.openFields(sealed)
		if err != nil {
			return nil, opErr("fetch-changes", zone, CodeKeyMaterialLost,
				fmt.Errorf("record %s: %w", id, err))
		}

		cs.Records = append(cs.Records, RawRecord{
			ID:         RecordID(id),
			Zone:       zone,
			Type:       typ,
			Fields:     fields,
			Encrypted:  encrypted,
			CreatedAt:  parseTime(createdAt),
			ModifiedAt: parseTime(modifiedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("fetch-changes", zone, err)
	}

	return cs, nil
}

// Save writes the record into its zone and returns the stored form with
// ID and timestamps populated.
func (db *DB) Save(ctx context.Context, rec *RawRecord) (*RawRecord, error) {
	if rec == nil {
		return nil, opErr("save", "", CodeInvalid, errors.New("record is nil"))
	}
	if err := rec.Validate(); err != nil {
		return nil, opErr("save", rec.Zone, CodeInvalid, err)
	}

	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = RecordID(uuid.NewString())
	}

	fieldsJSON, err := marshalFields(stored.Fields)
	if err != nil {
		return nil, opErr("save", rec.Zone, CodeInvalid, err)
	}
	sealed, err := db.sealFields(stored.Encrypted)
	if err != nil {
		return nil, dbErr("save", rec.Zone, err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, dbErr("save", rec.Zone, err)
	}
	defer tx.Rollback()

	// Every save advances the zone sequence; a missing zone means the
	// client skipped provisioning or the zone was torn down.
	var seq int64
	err = tx.QueryRowContext(ctx,
		`UPDATE zones SET seq = seq + 1 WHERE name = ? RETURNING seq`, stored.Zone).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opErr("save", stored.Zone, CodeZoneNotFound,
			fmt.Errorf("zone %q has not been provisioned", stored.Zone))
	}
	if err != nil {
		return nil, dbErr("save", stored.Zone, err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (zone, id, type, fields, sealed, seq, deleted, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(zone, id) DO UPDATE SET
			type = excluded.type,
			fields = excluded.fields,
			sealed = excluded.sealed,
			seq = excluded.seq,
			deleted = 0,
			modified_at = excluded.modified_at`,
		stored.Zone, string(stored.ID), stored.Type, fieldsJSON, sealed, seq,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, dbErr("save", stored.Zone, err)
	}

	// Updates preserve the original creation time; read it back.
	var createdAt string
	err = tx.QueryRowContext(ctx,
		`SELECT created_at FROM records WHERE zone = ? AND id = ?`,
		stored.Zone, string(stored.ID)).Scan(&createdAt)
	if err != nil {
		return nil, dbErr("save", stored.Zone, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, dbErr("save", stored.Zone, err)
	}

	stored.CreatedAt = parseTime(createdAt)
	stored.ModifiedAt = now
	return stored, nil
}

// Delete removes the given records, leaving tombstones in the change
// feed. The batch is best-effort: item failures are collected and
// reported together as a partial failure, and items that do not exist
// are skipped without error.
func (db *DB) Delete(ctx context.Context, zone string, ids []RecordID) error {
	if len(ids) == 0 {
		return nil
	}

	var one int
	err := db.conn.QueryRowContext(ctx, `SELECT 1 FROM zones WHERE name = ?`, zone).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return opErr("delete", zone, CodeZoneNotFound, fmt.Errorf("zone %q does not exist", zone))
	}
	if err != nil {
		return dbErr("delete", zone, err)
	}

	items := make(map[RecordID]error)
	for _, id := range ids {
		if id == "" {
			items[id] = errors.New("empty record id")
			continue
		}
		if err := db.deleteOne(ctx, zone, id); err != nil {
			items[id] = err
		}
	}

	if len(items) > 0 {
		return &Error{
			Op:    "delete",
			Zone:  zone,
			Code:  CodePartialFailure,
			Items: items,
			Err:   fmt.Errorf("%d of %d records failed", len(items), len(ids)),
		}
	}
	return nil
}

// deleteOne tombstones a single record. The payload is cleared so
// deleted data does not linger in the store.
func (db *DB) deleteOne(ctx context.Context, zone string, id RecordID) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`UPDATE zones SET seq = seq + 1 WHERE name = ? RETURNING seq`, zone).Scan(&seq)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE records
		SET deleted = 1, fields = '{}', sealed = NULL, seq = ?, modified_at = ?
		WHERE zone = ? AND id = ? AND deleted = 0`,
		seq, time.Now().UTC().Format(time.RFC3339Nano), zone, string(id))
	if err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteZone removes the zone and everything in it, including tombstones
// and change history. Returns nil if the zone doesn't exist (idempotent).
//
// Records are deleted explicitly rather than through the FOREIGN KEY
// cascade: the foreign_keys pragma is per-connection and the pool does
// not guarantee which connection runs this statement.
func (db *DB) DeleteZone(ctx context.Context, zone string) error {
	if zone == "" {
		return opErr("delete-zone", zone, CodeInvalid, errors.New("zone name is required"))
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("delete-zone", zone, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE zone = ?`, zone); err != nil {
		return dbErr("delete-zone", zone, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM zones WHERE name = ?`, zone); err != nil {
		return dbErr("delete-zone", zone, err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("delete-zone", zone, err)
	}
	return nil
}

// ResetKeyMaterial replaces the store's key material with fresh random
// bytes. Every sealed field written before the reset becomes permanently
// unreadable, which is exactly the situation a client's recovery path
// has to handle.
func (db *DB) ResetKeyMaterial() error {
	key, err := rotateKey(db.keyfile)
	if err != nil {
		return err
	}
	fc, err := newFieldCipher(key)
	if err != nil {
		return err
	}

	db.mu.Lock()
	db.cipher = fc
	db.mu.Unlock()
	return nil
}

// ZoneInfo describes one zone for status reporting.
type ZoneInfo struct {
	Name       string
	CreatedAt  time.Time
	Records    int // live records
	Tombstones int
	Token      ChangeToken // current head of the change feed
}

// Zone returns status for a single zone.
// Fails with CodeZoneNotFound if the zone does not exist.
func (db *DB) Zone(ctx context.Context, zone string) (*ZoneInfo, error) {
	var (
		seq       int64
		createdAt string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT seq, created_at FROM zones WHERE name = ?`, zone).Scan(&seq, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, opErr("zone", zone, CodeZoneNotFound, fmt.Errorf("zone %q does not exist", zone))
	}
	if err != nil {
		return nil, dbErr("zone", zone, err)
	}

	info := &ZoneInfo{
		Name:      zone,
		CreatedAt: parseTime(createdAt),
		Token:     encodeToken(seq),
	}
	err = db.conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN deleted = 1 THEN 1 ELSE 0 END), 0)
		FROM records WHERE zone = ?`, zone).Scan(&info.Records, &info.Tombstones)
	if err != nil {
		return nil, dbErr("zone", zone, err)
	}
	return info, nil
}

// Zones returns status for every zone in the store, ordered by name.
func (db *DB) Zones(ctx context.Context) ([]ZoneInfo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT z.name, z.seq, z.created_at,
		       COALESCE(SUM(CASE WHEN r.deleted = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN r.deleted = 1 THEN 1 ELSE 0 END), 0)
		FROM zones z
		LEFT JOIN records r ON r.zone = z.name
		GROUP BY z.name
		ORDER BY z.name ASC`)
	if err != nil {
		return nil, dbErr("zones", "", err)
	}
	defer rows.Close()

	var infos []ZoneInfo
	for rows.Next() {
		var (
			info      ZoneInfo
			seq       int64
			createdAt string
		)
		if err := rows.Scan(&info.Name, &seq, &createdAt, &info.Records, &info.Tombstones); err != nil {
			return nil, dbErr("zones", "", fmt.Errorf("failed to scan zone: %w", err))
		}
		info.CreatedAt = parseTime(createdAt)
		info.Token = encodeToken(seq)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("zones", "", err)
	}
	return infos, nil
}

// sealFields encrypts the encrypted field set for storage. An empty set
// stores as NULL.
func (db *DB) sealFields(encrypted map[string]string) ([]byte, error) {
	if len(encrypted) == 0 {
		return nil, nil
	}
	plain, err := json.Marshal(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal encrypted fields: %w", err)
	}

	db.mu.RLock()
	fc := db.cipher
	db.mu.RUnlock()
	return fc.Seal(plain)
}

// openFields decrypts a sealed field set read from storage.
func (db *DB) openFields(sealed []byte) (map[string]string, error) {
	if len(sealed) == 0 {
		return nil, nil
	}

	db.mu.RLock()
	fc := db.cipher
	db.mu.RUnlock()

	plain, err := fc.Open(sealed)
	if err != nil {
		return nil, err
	}
	var encrypted map[string]string
	if err := json.Unmarshal(plain, &encrypted); err != nil {
		return nil, fmt.Errorf("failed to unmarshal encrypted fields: %w", err)
	}
	return encrypted, nil
}

// marshalFields serializes the plaintext field set. A nil map stores as
// an empty object so reads round-trip cleanly.
func marshalFields(fields map[string]string) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to marshal fields: %w", err)
	}
	return string(data), nil
}

// parseTime parses a stored timestamp, returning the zero time for
// values that do not parse.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// dbErr wraps a backend failure, promoting reachability problems to
// CodeUnavailable so callers can treat them as retryable.
func dbErr(op, zone string, err error) *Error {
	code := CodeUnknown
	if isUnavailable(err) {
		code = CodeUnavailable
	}
	return opErr(op, zone, code, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"database is locked",
		"connection refused",
		"connection reset",
		"i/o timeout",
		"no such host",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

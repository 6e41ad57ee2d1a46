package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/go-libsql"
)

// OpenRemote connects to a hosted libSQL database instead of an embedded
// file. The URL is a libsql:// address; the auth token comes from the
// deployment that issued the database.
//
// Field sealing still happens on this side of the wire, so the hosted
// database only ever holds sealed bytes for encrypted fields.
func OpenRemote(url, authToken, keyfile string) (*DB, error) {
	if url == "" {
		return nil, fmt.Errorf("remote store URL is required")
	}

	connStr := url
	if authToken != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		connStr = url + sep + "authToken=" + authToken
	}

	conn, err := sql.Open("libsql", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote store: %w", err)
	}

	return finishOpen(conn, url, keyfile, true)
}

// Package sqlite is the optional on-disk mirror for the roster, so contact
// state survives a process restart and not just an in-session reconnect.
// Nothing else in this client core is durable: messages, window layout,
// and crypto material are deliberately not persisted.
//
// The database opens in WAL mode, runs a migration list, and mirrors via
// INSERT OR REPLACE; it implements internal/roster.Store directly.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tvardek/mcjab/internal/roster"
)

// DB is the roster cache, backed by a single SQLite file under dataDir.
type DB struct {
	db *sql.DB
}

// New opens (creating if absent) roster.db under dataDir in WAL mode and
// runs its migrations.
func New(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, "roster.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS roster_cache (
			bare_jid TEXT PRIMARY KEY,
			name TEXT,
			groups_json TEXT,
			subscription TEXT,
			last_updated INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// UpsertContact implements roster.Store.
func (d *DB) UpsertContact(bareJID, name string, subscription string, groups []string) error {
	groupsJSON := "[]"
	if len(groups) > 0 {
		encoded, err := json.Marshal(groups)
		if err != nil {
			return err
		}
		groupsJSON = string(encoded)
	}

	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO roster_cache (bare_jid, name, groups_json, subscription, last_updated)
		VALUES (?, ?, ?, ?, ?)
	`, bareJID, name, groupsJSON, subscription, time.Now().Unix())
	return err
}

// DeleteContact implements roster.Store.
func (d *DB) DeleteContact(bareJID string) error {
	_, err := d.db.Exec("DELETE FROM roster_cache WHERE bare_jid = ?", bareJID)
	return err
}

// ListContacts implements roster.Store.
func (d *DB) ListContacts() ([]roster.StoredContact, error) {
	rows, err := d.db.Query(`
		SELECT bare_jid, name, groups_json, subscription
		FROM roster_cache
		ORDER BY COALESCE(name, bare_jid), bare_jid
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []roster.StoredContact
	for rows.Next() {
		var entry roster.StoredContact
		var name, groupsJSON, subscription sql.NullString

		if err := rows.Scan(&entry.BareJID, &name, &groupsJSON, &subscription); err != nil {
			return nil, err
		}

		if name.Valid {
			entry.Name = name.String
		}
		if subscription.Valid {
			entry.Subscription = subscription.String
		}
		if groupsJSON.Valid && groupsJSON.String != "" {
			_ = json.Unmarshal([]byte(groupsJSON.String), &entry.Groups)
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// SetAppState persists a single opaque key/value pair — small bits of
// client state (e.g. the last connected account) that should survive a
// restart without deserving their own table.
func (d *DB) SetAppState(key, value string) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO app_state (key, value)
		VALUES (?, ?)
	`, key, value)
	return err
}

// GetAppState returns the value for key, or "" if unset.
func (d *DB) GetAppState(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

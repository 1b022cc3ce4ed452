package db

import (
	"database/sql"
	"fmt"
)

const schema = `
-- Datasets, keyed by owning identity and name. last_sync_count mirrors the
-- server's per-dataset counter; -1 means deleted locally, pending remote
-- deletion. All dates are epoch milliseconds.
CREATE TABLE IF NOT EXISTS datasets (
    identity_id        TEXT NOT NULL,
    name               TEXT NOT NULL,
    creation_date      INTEGER NOT NULL DEFAULT 0,
    last_modified_date INTEGER NOT NULL DEFAULT 0,
    last_modified_by   TEXT NOT NULL DEFAULT '',
    storage_size_bytes INTEGER NOT NULL DEFAULT 0,
    record_count       INTEGER NOT NULL DEFAULT 0,
    last_sync_count    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (identity_id, name)
);

-- Records. A row with deleted=1 is a tombstone: the value is empty and the
-- row persists until the deletion is acknowledged by the server. modified=1
-- is the local-dirty bit.
CREATE TABLE IF NOT EXISTS records (
    identity_id               TEXT NOT NULL,
    dataset_name              TEXT NOT NULL,
    key                       TEXT NOT NULL,
    value                     TEXT NOT NULL DEFAULT '',
    sync_count                INTEGER NOT NULL DEFAULT 0,
    last_modified_date        INTEGER NOT NULL DEFAULT 0,
    device_last_modified_date INTEGER NOT NULL DEFAULT 0,
    last_modified_by          TEXT NOT NULL DEFAULT '',
    modified                  INTEGER NOT NULL DEFAULT 0,
    deleted                   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (identity_id, dataset_name, key)
);

CREATE INDEX IF NOT EXISTS idx_records_modified
    ON records(identity_id, dataset_name, modified);
`

// Init creates the schema if it does not exist.
func Init(conn *sql.DB) error {
	if _, err := conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

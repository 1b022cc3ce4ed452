package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/marcus/dsync/internal/models"
	"github.com/marcus/dsync/internal/syncerr"
)

// All dates persist as epoch milliseconds; zero means "never".

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

const datasetColumns = `name, creation_date, last_modified_date, last_modified_by,
	storage_size_bytes, record_count, last_sync_count`

func scanDataset(row interface{ Scan(...any) error }) (models.DatasetMetadata, error) {
	var m models.DatasetMetadata
	var created, modified int64
	err := row.Scan(&m.Name, &created, &modified, &m.LastModifiedBy,
		&m.StorageSizeBytes, &m.RecordCount, &m.LastSyncCount)
	if err != nil {
		return m, err
	}
	m.CreationDate = fromMillis(created)
	m.LastModifiedDate = fromMillis(modified)
	return m, nil
}

// CreateDataset inserts the dataset row if it does not exist yet. Creating an
// existing dataset is a no-op; its metadata is left untouched.
func (s *Store) CreateDataset(identityID, name string) error {
	now := toMillis(time.Now())
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR IGNORE INTO datasets (identity_id, name, creation_date, last_modified_date)
			VALUES (?, ?, ?, ?)`,
			identityID, name, now, now)
		return err
	})
}

// GetDatasets returns the metadata of every dataset owned by the identity,
// including datasets pending remote deletion (last_sync_count = -1).
func (s *Store) GetDatasets(identityID string) ([]models.DatasetMetadata, error) {
	rows, err := s.conn.Query(`
		SELECT `+datasetColumns+`
		FROM datasets WHERE identity_id = ? ORDER BY name`, identityID)
	if err != nil {
		return nil, syncerr.Storage(err)
	}
	defer rows.Close()

	var out []models.DatasetMetadata
	for rows.Next() {
		m, err := scanDataset(rows)
		if err != nil {
			return nil, syncerr.Storage(err)
		}
		out = append(out, m)
	}
	return out, syncerr.Storage(rows.Err())
}

// GetDatasetMetadata returns the metadata of a single dataset, or
// ErrDatasetNotFound if no such dataset exists locally.
func (s *Store) GetDatasetMetadata(identityID, name string) (models.DatasetMetadata, error) {
	row := s.conn.QueryRow(`
		SELECT `+datasetColumns+`
		FROM datasets WHERE identity_id = ? AND name = ?`, identityID, name)
	m, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return m, syncerr.Wrapf(syncerr.ErrDatasetNotFound, "dataset %q", name)
	}
	if err != nil {
		return m, syncerr.Storage(err)
	}
	return m, nil
}

// UpdateDatasetMetadata merges remote-sourced metadata into the local table.
// Record contents and the local last_sync_count are not touched; datasets
// unseen locally are inserted with last_sync_count = 0.
func (s *Store) UpdateDatasetMetadata(identityID string, metadata []models.DatasetMetadata) error {
	return s.withTx(func(tx *sql.Tx) error {
		for _, m := range metadata {
			_, err := tx.Exec(`
				INSERT INTO datasets (identity_id, name, creation_date, last_modified_date,
					last_modified_by, storage_size_bytes, record_count)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(identity_id, name) DO UPDATE SET
					creation_date = excluded.creation_date,
					last_modified_date = excluded.last_modified_date,
					last_modified_by = excluded.last_modified_by,
					storage_size_bytes = excluded.storage_size_bytes,
					record_count = excluded.record_count`,
				identityID, m.Name, toMillis(m.CreationDate), toMillis(m.LastModifiedDate),
				m.LastModifiedBy, m.StorageSizeBytes, m.RecordCount)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteDataset marks the dataset deleted locally: last_sync_count moves to
// -1 and every record becomes a tombstone. The rows persist until the remote
// confirms the deletion and PurgeDataset runs.
func (s *Store) DeleteDataset(identityID, name string) error {
	now := toMillis(time.Now())
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			UPDATE datasets SET last_sync_count = ?, last_modified_date = ?
			WHERE identity_id = ? AND name = ?`,
			models.DeletedSyncCount, now, identityID, name); err != nil {
			return err
		}
		_, err := tx.Exec(`
			UPDATE records SET deleted = 1, value = '', modified = 1, device_last_modified_date = ?
			WHERE identity_id = ? AND dataset_name = ?`,
			now, identityID, name)
		if err != nil {
			return err
		}
		return refreshDatasetStats(tx, identityID, name, now)
	})
}

// PurgeDataset physically removes the dataset row and all its records.
func (s *Store) PurgeDataset(identityID, name string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM records WHERE identity_id = ? AND dataset_name = ?`,
			identityID, name); err != nil {
			return err
		}
		_, err := tx.Exec(`
			DELETE FROM datasets WHERE identity_id = ? AND name = ?`,
			identityID, name)
		return err
	})
}

// GetLastSyncCount returns the dataset's last known server sync count.
func (s *Store) GetLastSyncCount(identityID, name string) (int64, error) {
	var lsc int64
	err := s.conn.QueryRow(`
		SELECT last_sync_count FROM datasets WHERE identity_id = ? AND name = ?`,
		identityID, name).Scan(&lsc)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, syncerr.Wrapf(syncerr.ErrDatasetNotFound, "dataset %q", name)
	}
	if err != nil {
		return 0, syncerr.Storage(err)
	}
	return lsc, nil
}

// UpdateLastSyncCount stores the server sync count mirrored after a sync.
func (s *Store) UpdateLastSyncCount(identityID, name string, syncCount int64) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE datasets SET last_sync_count = ? WHERE identity_id = ? AND name = ?`,
			syncCount, identityID, name)
		return err
	})
}

// refreshDatasetStats recomputes record_count and storage_size_bytes from the
// record rows inside the same transaction as the mutation that changed them.
// Tombstones count their key bytes but not toward the record count.
func refreshDatasetStats(tx *sql.Tx, identityID, name string, nowMillis int64) error {
	_, err := tx.Exec(`
		UPDATE datasets SET
			record_count = (
				SELECT COUNT(*) FROM records
				WHERE identity_id = ?1 AND dataset_name = ?2 AND deleted = 0),
			storage_size_bytes = (
				SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) +
					CASE WHEN deleted = 1 THEN 0 ELSE LENGTH(CAST(value AS BLOB)) END), 0)
				FROM records
				WHERE identity_id = ?1 AND dataset_name = ?2),
			last_modified_date = ?3
		WHERE identity_id = ?1 AND name = ?2`,
		identityID, name, nowMillis)
	return err
}

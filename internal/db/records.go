package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/marcus/dsync/internal/models"
	"github.com/marcus/dsync/internal/syncerr"
)

const recordColumns = `key, value, sync_count, last_modified_date,
	device_last_modified_date, last_modified_by, modified, deleted`

func scanRecord(row interface{ Scan(...any) error }) (models.Record, error) {
	var r models.Record
	var lastMod, deviceMod int64
	var modified, deleted int
	err := row.Scan(&r.Key, &r.Value, &r.SyncCount, &lastMod, &deviceMod,
		&r.LastModifiedBy, &modified, &deleted)
	if err != nil {
		return r, err
	}
	r.LastModifiedDate = fromMillis(lastMod)
	r.DeviceLastModifiedDate = fromMillis(deviceMod)
	r.Modified = modified != 0
	r.Deleted = deleted != 0
	return r, nil
}

// PutValue writes a single value locally. A nil value is a deletion: the row
// becomes a tombstone with an empty value. Either way the record is marked
// modified and its device timestamp set to the current wall clock; the sync
// count is left unchanged.
func (s *Store) PutValue(identityID, datasetName, key string, value *string) error {
	return s.PutAllValues(identityID, datasetName, map[string]*string{key: value})
}

// PutAllValues writes a batch of local values in one transaction. Nil values
// are deletions, per PutValue.
func (s *Store) PutAllValues(identityID, datasetName string, values map[string]*string) error {
	now := toMillis(time.Now())
	return s.withTx(func(tx *sql.Tx) error {
		for key, value := range values {
			v, deleted := "", 1
			if value != nil {
				v, deleted = *value, 0
			}
			_, err := tx.Exec(`
				INSERT INTO records (identity_id, dataset_name, key, value,
					device_last_modified_date, last_modified_date, modified, deleted)
				VALUES (?1, ?2, ?3, ?4, ?5, ?5, 1, ?6)
				ON CONFLICT(identity_id, dataset_name, key) DO UPDATE SET
					value = excluded.value,
					device_last_modified_date = excluded.device_last_modified_date,
					modified = 1,
					deleted = excluded.deleted`,
				identityID, datasetName, key, v, now, deleted)
			if err != nil {
				return err
			}
		}
		return refreshDatasetStats(tx, identityID, datasetName, now)
	})
}

// GetValue returns the value stored at key, or nil when the key is absent or
// a tombstone.
func (s *Store) GetValue(identityID, datasetName, key string) (*string, error) {
	r, err := s.GetRecord(identityID, datasetName, key)
	if err != nil || r == nil || r.Deleted {
		return nil, err
	}
	v := r.Value
	return &v, nil
}

// GetRecord returns the full record at key, tombstones included, or nil when
// no row exists.
func (s *Store) GetRecord(identityID, datasetName, key string) (*models.Record, error) {
	row := s.conn.QueryRow(`
		SELECT `+recordColumns+`
		FROM records WHERE identity_id = ? AND dataset_name = ? AND key = ?`,
		identityID, datasetName, key)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, syncerr.Storage(err)
	}
	return &r, nil
}

// GetRecords returns every record row of the dataset, tombstones included.
func (s *Store) GetRecords(identityID, datasetName string) ([]models.Record, error) {
	return s.queryRecords(`
		SELECT `+recordColumns+`
		FROM records WHERE identity_id = ? AND dataset_name = ? ORDER BY key`,
		identityID, datasetName)
}

// GetModifiedRecords returns the records carrying the local-dirty bit,
// tombstones for local deletes included.
func (s *Store) GetModifiedRecords(identityID, datasetName string) ([]models.Record, error) {
	return s.queryRecords(`
		SELECT `+recordColumns+`
		FROM records
		WHERE identity_id = ? AND dataset_name = ? AND modified = 1 ORDER BY key`,
		identityID, datasetName)
}

func (s *Store) queryRecords(query string, args ...any) ([]models.Record, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, syncerr.Storage(err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, syncerr.Storage(err)
		}
		out = append(out, r)
	}
	return out, syncerr.Storage(rows.Err())
}

// PutRecords writes remote-authoritative rows exactly as supplied, including
// their sync counts, modified and deleted flags. Rows not present in the
// batch are untouched. Used when merging pulled deltas, installing push
// acknowledgements, and resolving conflicts.
func (s *Store) PutRecords(identityID, datasetName string, records []models.Record) error {
	now := toMillis(time.Now())
	return s.withTx(func(tx *sql.Tx) error {
		for _, r := range records {
			deleted, modified := 0, 0
			if r.Deleted {
				deleted = 1
			}
			if r.Modified {
				modified = 1
			}
			_, err := tx.Exec(`
				INSERT INTO records (identity_id, dataset_name, key, value, sync_count,
					last_modified_date, device_last_modified_date, last_modified_by,
					modified, deleted)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(identity_id, dataset_name, key) DO UPDATE SET
					value = excluded.value,
					sync_count = excluded.sync_count,
					last_modified_date = excluded.last_modified_date,
					device_last_modified_date = excluded.device_last_modified_date,
					last_modified_by = excluded.last_modified_by,
					modified = excluded.modified,
					deleted = excluded.deleted`,
				identityID, datasetName, r.Key, r.Value, r.SyncCount,
				toMillis(r.LastModifiedDate), toMillis(r.DeviceLastModifiedDate),
				r.LastModifiedBy, modified, deleted)
			if err != nil {
				return err
			}
		}
		return refreshDatasetStats(tx, identityID, datasetName, now)
	})
}

// WipeData removes every identity-scoped row of every identity.
func (s *Store) WipeData() error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM records`); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM datasets`)
		return err
	})
}

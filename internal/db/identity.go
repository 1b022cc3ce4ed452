package db

import (
	"database/sql"
	"fmt"
	"time"
)

// ChangeIdentityID relocates every row tagged oldID to newID in a single
// transaction.
//
// When the destination identity already has a dataset of the same name, the
// destination wins on key conflicts: only keys absent from the destination
// are copied in (marked modified with a sync count of 0 so they push on the
// next sync),
// and the source dataset is relocated wholesale to the shadow name
// "{name}.{oldID}" so the application can drain the historical data via the
// merged-dataset callbacks.
func (s *Store) ChangeIdentityID(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	now := toMillis(time.Now())
	return s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT name FROM datasets WHERE identity_id = ?`, oldID)
		if err != nil {
			return err
		}
		var names []string
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return err
			}
			names = append(names, name)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, name := range names {
			var exists int
			err := tx.QueryRow(`
				SELECT COUNT(*) FROM datasets WHERE identity_id = ? AND name = ?`,
				newID, name).Scan(&exists)
			if err != nil {
				return err
			}

			if exists == 0 {
				if _, err := tx.Exec(`
					UPDATE datasets SET identity_id = ? WHERE identity_id = ? AND name = ?`,
					newID, oldID, name); err != nil {
					return err
				}
				if _, err := tx.Exec(`
					UPDATE records SET identity_id = ? WHERE identity_id = ? AND dataset_name = ?`,
					newID, oldID, name); err != nil {
					return err
				}
				continue
			}

			// Destination has the dataset too: merge keys it lacks, then move
			// the source aside under the shadow name.
			shadow := fmt.Sprintf("%s.%s", name, oldID)
			if _, err := tx.Exec(`
				INSERT INTO records (identity_id, dataset_name, key, value, sync_count,
					last_modified_date, device_last_modified_date, last_modified_by,
					modified, deleted)
				SELECT ?1, ?3, key, value, 0,
					last_modified_date, device_last_modified_date, last_modified_by,
					1, deleted
				FROM records
				WHERE identity_id = ?2 AND dataset_name = ?3
					AND key NOT IN (
						SELECT key FROM records WHERE identity_id = ?1 AND dataset_name = ?3)`,
				newID, oldID, name); err != nil {
				return err
			}
			if _, err := tx.Exec(`
				UPDATE datasets SET identity_id = ?, name = ? WHERE identity_id = ? AND name = ?`,
				newID, shadow, oldID, name); err != nil {
				return err
			}
			if _, err := tx.Exec(`
				UPDATE records SET identity_id = ?, dataset_name = ? WHERE identity_id = ? AND dataset_name = ?`,
				newID, shadow, oldID, name); err != nil {
				return err
			}
			if err := refreshDatasetStats(tx, newID, name, now); err != nil {
				return err
			}
		}
		return nil
	})
}

package sync

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/marcus/dsync/internal/models"
	"github.com/marcus/dsync/internal/syncerr"
)

// MaxRetry bounds how many times one Synchronize session may re-enter the
// state machine after a push conflict, a merged-dataset continue, or a
// conflict-callback retry.
const MaxRetry = 3

// Synchronize reconciles the dataset with the remote store. It returns
// immediately; the session runs on a worker goroutine, never on the
// caller's, and reports through cb from that goroutine. Sessions on the
// same handle are serialized; concurrent sessions from separate handles are
// arbitrated by the server's optimistic concurrency and retry.
func (d *Dataset) Synchronize(cb Callback) {
	go func() {
		d.syncMu.Lock()
		defer d.syncMu.Unlock()
		d.runSession(cb)
	}()
}

// runSession surfaces local merge shadows, then runs the retrying core.
func (d *Dataset) runSession(cb Callback) {
	// Surface local merged-dataset shadows first. The return value is not
	// required to continue.
	shadows, err := d.localMergedDatasets()
	if err != nil {
		cb.OnFailure(err)
		return
	}
	if len(shadows) > 0 {
		cb.OnDatasetsMerged(d, shadows)
	}

	d.synchronizeInternal(cb, MaxRetry)
}

// localMergedDatasets lists datasets parked under this dataset's shadow
// prefix by an identity merge.
func (d *Dataset) localMergedDatasets() ([]string, error) {
	sets, err := d.local.GetDatasets(d.identityID())
	if err != nil {
		return nil, err
	}
	prefix := d.name + "."
	var names []string
	for _, m := range sets {
		if strings.HasPrefix(m.Name, prefix) {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

// synchronizeInternal runs one pull/merge/push pass. Re-entries decrement
// retriesLeft; a re-entry past the budget terminates without firing a second
// callback.
func (d *Dataset) synchronizeInternal(cb Callback, retriesLeft int) {
	if retriesLeft < 0 {
		slog.Warn("synchronize exceeded max retries", "dataset", d.name)
		return
	}

	id := d.identityID()

	// A dataset deleted locally pushes its deletion, then purges.
	lsc, err := d.local.GetLastSyncCount(id, d.name)
	if err != nil {
		cb.OnFailure(err)
		return
	}
	if lsc == models.DeletedSyncCount {
		if err := d.remote.DeleteDataset(d.name); err != nil {
			cb.OnFailure(err)
			return
		}
		if err := d.local.PurgeDataset(id, d.name); err != nil {
			cb.OnFailure(err)
			return
		}
		cb.OnSuccess(d, nil)
		return
	}

	// Pull the remote delta since the mirrored sync count.
	updates, err := d.remote.ListUpdates(d.name, lsc)
	if err != nil {
		cb.OnFailure(err)
		return
	}

	if len(updates.MergedDatasetNames) > 0 {
		if cb.OnDatasetsMerged(d, updates.MergedDatasetNames) {
			d.synchronizeInternal(cb, retriesLeft-1)
			return
		}
		cb.OnFailure(syncerr.ErrManualCancel)
		return
	}

	// A dataset we have synced before that no longer exists was deleted
	// remotely. exists=false with lsc=0 just means nothing remote yet.
	if (lsc != 0 && !updates.Exists) || updates.Deleted {
		if cb.OnDatasetDeleted(d, d.name) {
			if err := d.local.DeleteDataset(id, d.name); err != nil {
				cb.OnFailure(err)
				return
			}
			if err := d.local.PurgeDataset(id, d.name); err != nil {
				cb.OnFailure(err)
				return
			}
			cb.OnSuccess(d, nil)
			return
		}
		cb.OnFailure(syncerr.ErrManualCancel)
		return
	}

	// A pulled record conflicts iff a locally modified record holds a
	// different value. Byte-exact comparison; tombstone vs present value is
	// always a conflict.
	var conflicts []Conflict
	for _, r := range updates.Records {
		local, err := d.local.GetRecord(id, d.name, r.Key)
		if err != nil {
			cb.OnFailure(err)
			return
		}
		if local != nil && local.Modified && !local.SameValue(r) {
			conflicts = append(conflicts, Conflict{Remote: r, Local: *local})
		}
	}
	if len(conflicts) > 0 {
		if cb.OnConflict(d, conflicts) {
			d.synchronizeInternal(cb, retriesLeft-1)
		}
		// On false the session ends with the callback's own disposition:
		// neither OnSuccess nor OnFailure fires.
		return
	}

	// No conflicts: merge the pulled rows and mirror the server count.
	if len(updates.Records) > 0 {
		if err := d.local.PutRecords(id, d.name, updates.Records); err != nil {
			cb.OnFailure(err)
			return
		}
	}
	if err := d.local.UpdateLastSyncCount(id, d.name, updates.SyncCount); err != nil {
		cb.OnFailure(err)
		return
	}
	lsc = updates.SyncCount
	applied := updates.Records

	// Push local modifications under the session token.
	changes, err := d.local.GetModifiedRecords(id, d.name)
	if err != nil {
		cb.OnFailure(err)
		return
	}
	if len(changes) > 0 {
		patches := make([]models.RecordPatch, 0, len(changes))
		for _, r := range changes {
			patches = append(patches, models.PatchFor(r))
		}

		result, err := d.remote.PutRecords(d.name, patches, updates.SyncSessionToken)
		if err != nil {
			if errors.Is(err, syncerr.ErrDataConflict) {
				slog.Info("push rejected, retrying", "dataset", d.name, "retries_left", retriesLeft-1)
				d.synchronizeInternal(cb, retriesLeft-1)
				return
			}
			cb.OnFailure(err)
			return
		}

		// Install server-assigned sync counts and timestamps; this clears
		// the dirty bit on everything acknowledged.
		if err := d.local.PutRecords(id, d.name, result); err != nil {
			cb.OnFailure(err)
			return
		}

		var newSyncCount int64
		for _, r := range result {
			if r.SyncCount > newSyncCount {
				newSyncCount = r.SyncCount
			}
		}
		if newSyncCount == lsc+1 {
			if err := d.local.UpdateLastSyncCount(id, d.name, newSyncCount); err != nil {
				cb.OnFailure(err)
				return
			}
		} else {
			// An interleaved writer advanced the server past our batch;
			// leave the mirror behind so the next session pulls the gap.
			slog.Debug("sync count gap after push", "dataset", d.name,
				"pushed", newSyncCount, "mirrored", lsc)
		}
	}

	cb.OnSuccess(d, applied)
}

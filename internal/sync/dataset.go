// Package sync implements the dataset synchronization engine: per-dataset
// local CRUD facades, the pull/merge/push state machine with conflict and
// retry handling, and the SyncManager tying a local store, a remote client,
// and an identity binding together.
package sync

import (
	gosync "sync"

	"github.com/marcus/dsync/internal/db"
	"github.com/marcus/dsync/internal/identity"
	"github.com/marcus/dsync/internal/models"
	"github.com/marcus/dsync/internal/syncerr"
)

// Remote is the five-operation contract the sync engine needs from a remote
// store. *remote.Client is the production implementation.
type Remote interface {
	GetDatasets() ([]models.DatasetMetadata, error)
	GetDatasetMetadata(name string) (models.DatasetMetadata, error)
	ListUpdates(name string, lastSyncCount int64) (*models.DatasetUpdates, error)
	PutRecords(name string, patches []models.RecordPatch, syncSessionToken string) ([]models.Record, error)
	DeleteDataset(name string) error
}

// Dataset is the per-dataset facade: synchronous local reads and writes plus
// the Synchronize session. All operations are scoped to the current identity
// id at call time.
type Dataset struct {
	name    string
	local   *db.Store
	remote  Remote
	binding *identity.Binding

	// syncMu serializes sync sessions on this handle; local CRUD is not
	// gated by it and may run from any goroutine.
	syncMu gosync.Mutex
}

// Name returns the dataset name.
func (d *Dataset) Name() string {
	return d.name
}

func (d *Dataset) identityID() string {
	return d.binding.IdentityID()
}

// Put stores a value at key. The record is marked modified and carried to
// the remote by the next Synchronize.
func (d *Dataset) Put(key, value string) error {
	if !models.ValidName(key) {
		return syncerr.Wrapf(syncerr.ErrIllegalArgument, "invalid record key %q", key)
	}
	return d.local.PutValue(d.identityID(), d.name, key, &value)
}

// PutAll stores a batch of values in one transaction.
func (d *Dataset) PutAll(values map[string]string) error {
	batch := make(map[string]*string, len(values))
	for key, value := range values {
		if !models.ValidName(key) {
			return syncerr.Wrapf(syncerr.ErrIllegalArgument, "invalid record key %q", key)
		}
		v := value
		batch[key] = &v
	}
	return d.local.PutAllValues(d.identityID(), d.name, batch)
}

// Get returns the value at key, or nil when the key is absent or deleted.
func (d *Dataset) Get(key string) (*string, error) {
	if !models.ValidName(key) {
		return nil, syncerr.Wrapf(syncerr.ErrIllegalArgument, "invalid record key %q", key)
	}
	return d.local.GetValue(d.identityID(), d.name, key)
}

// GetAll returns every live key/value pair of the dataset.
func (d *Dataset) GetAll() (map[string]string, error) {
	records, err := d.local.GetRecords(d.identityID(), d.name)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string)
	for _, r := range records {
		if !r.Deleted {
			values[r.Key] = r.Value
		}
	}
	return values, nil
}

// Remove deletes the value at key. Deletion is a write: the record becomes a
// modified tombstone pushed by the next Synchronize, not a purged row.
func (d *Dataset) Remove(key string) error {
	if !models.ValidName(key) {
		return syncerr.Wrapf(syncerr.ErrIllegalArgument, "invalid record key %q", key)
	}
	return d.local.PutValue(d.identityID(), d.name, key, nil)
}

// IsChanged reports whether the record at key carries the local-dirty bit.
func (d *Dataset) IsChanged(key string) (bool, error) {
	if !models.ValidName(key) {
		return false, syncerr.Wrapf(syncerr.ErrIllegalArgument, "invalid record key %q", key)
	}
	r, err := d.local.GetRecord(d.identityID(), d.name, key)
	if err != nil || r == nil {
		return false, err
	}
	return r.Modified, nil
}

// Delete marks the whole dataset deleted locally. The next Synchronize
// pushes the deletion to the remote and purges the local mirror.
func (d *Dataset) Delete() error {
	return d.local.DeleteDataset(d.identityID(), d.name)
}

// Resolve force-writes conflict resolutions. Records built with
// Conflict.ResolveWithRemote land clean; ResolveWithLocal/ResolveWithValue
// keep the dirty bit so the retry pushes them.
func (d *Dataset) Resolve(records []models.Record) error {
	return d.local.PutRecords(d.identityID(), d.name, records)
}

// GetAllRecords returns every record row of the dataset, tombstones included.
func (d *Dataset) GetAllRecords() ([]models.Record, error) {
	return d.local.GetRecords(d.identityID(), d.name)
}

// Metadata returns the locally cached dataset metadata.
func (d *Dataset) Metadata() (models.DatasetMetadata, error) {
	return d.local.GetDatasetMetadata(d.identityID(), d.name)
}

// TotalSizeInBytes returns the summed size of all records.
func (d *Dataset) TotalSizeInBytes() (int64, error) {
	records, err := d.local.GetRecords(d.identityID(), d.name)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range records {
		total += r.Size()
	}
	return total, nil
}

// SizeInBytes returns the size of a single record, 0 when absent.
func (d *Dataset) SizeInBytes(key string) (int64, error) {
	if !models.ValidName(key) {
		return 0, syncerr.Wrapf(syncerr.ErrIllegalArgument, "invalid record key %q", key)
	}
	r, err := d.local.GetRecord(d.identityID(), d.name, key)
	if err != nil || r == nil {
		return 0, err
	}
	return r.Size(), nil
}

// Package models defines the core domain types (Record, DatasetMetadata,
// RecordPatch, DatasetUpdates) and their validation helpers.
package models

import (
	"regexp"
	"time"
)

// UnknownIdentityID is the sentinel identity used before a real identity id
// is known. Rows written under it are rekeyed when the provider reports one.
const UnknownIdentityID = "unknown"

// DeletedSyncCount marks a dataset as deleted locally, pending remote deletion.
const DeletedSyncCount = -1

// namePattern validates dataset names and record keys.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]{1,128}$`)

// ValidName reports whether s is a legal dataset name or record key.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// Record is a single key/value row of a dataset.
//
// Value carries the record payload; when Deleted is set the record is a
// tombstone and Value is empty. SyncCount is the server version at which the
// record was last written, 0 if never synced. Modified is the local-dirty
// bit: set by every local write, cleared only when that exact version is
// acknowledged by the server.
type Record struct {
	Key                    string
	Value                  string
	SyncCount              int64
	LastModifiedDate       time.Time
	LastModifiedBy         string
	DeviceLastModifiedDate time.Time
	Modified               bool
	Deleted                bool
}

// Size returns the storage size of the record in bytes: UTF-8 length of the
// key plus UTF-8 length of the value. Tombstones count the key only.
func (r Record) Size() int64 {
	if r.Deleted {
		return int64(len(r.Key))
	}
	return int64(len(r.Key) + len(r.Value))
}

// SameValue reports byte-exact value equality for conflict detection.
// A tombstone never equals a present value.
func (r Record) SameValue(other Record) bool {
	if r.Deleted != other.Deleted {
		return false
	}
	if r.Deleted && other.Deleted {
		return true
	}
	return r.Value == other.Value
}

// DatasetMetadata describes a dataset owned by an identity.
type DatasetMetadata struct {
	Name             string
	CreationDate     time.Time
	LastModifiedDate time.Time
	LastModifiedBy   string
	StorageSizeBytes int64
	RecordCount      int64
	LastSyncCount    int64
}

// PendingDelete reports whether the dataset has been deleted locally and is
// waiting for the deletion to be pushed to the remote.
func (m DatasetMetadata) PendingDelete() bool {
	return m.LastSyncCount == DeletedSyncCount
}

// PatchOp is the operation carried by a RecordPatch.
type PatchOp string

const (
	// OpReplace writes the patch value at the key.
	OpReplace PatchOp = "replace"
	// OpRemove deletes the key; the patch carries no value.
	OpRemove PatchOp = "remove"
)

// RecordPatch is one entry of an UpdateRecords push batch. SyncCount is the
// base version the patch was derived from; the server rejects the whole
// batch when any base version is stale.
type RecordPatch struct {
	Op                     PatchOp
	Key                    string
	Value                  string
	SyncCount              int64
	DeviceLastModifiedDate time.Time
}

// PatchFor derives the push patch for a locally modified record.
func PatchFor(r Record) RecordPatch {
	op := OpReplace
	if r.Deleted {
		op = OpRemove
	}
	return RecordPatch{
		Op:                     op,
		Key:                    r.Key,
		Value:                  r.Value,
		SyncCount:              r.SyncCount,
		DeviceLastModifiedDate: r.DeviceLastModifiedDate,
	}
}

// DatasetUpdates is the result of pulling the remote delta of a dataset.
type DatasetUpdates struct {
	Records            []Record
	SyncCount          int64
	SyncSessionToken   string
	Exists             bool
	Deleted            bool
	MergedDatasetNames []string
}

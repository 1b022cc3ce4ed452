package api

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// serverRecord is a record row held by the dev server. A nil value is a
// tombstone: it stays in the dataset so deletions propagate to pullers.
type serverRecord struct {
	Key                    string
	Value                  *string
	SyncCount              int64
	LastModifiedDate       time.Time
	DeviceLastModifiedDate time.Time
	LastModifiedBy         string
}

// serverDataset is one dataset of one identity.
type serverDataset struct {
	Name             string
	Records          map[string]*serverRecord
	SyncCount        int64
	CreationDate     time.Time
	LastModifiedDate time.Time
	LastModifiedBy   string

	// Deleted marks a dataset removed after having been synced, so pulls
	// that pass a non-zero last sync count can be told about the deletion.
	Deleted bool

	// MergedNames is surfaced verbatim on every pull. Set via SetMergedNames
	// to exercise the client's merged-dataset handling.
	MergedNames []string
}

// session records the dataset sync count observed when a sync session token
// was issued. A push under the token conflicts once the dataset has advanced
// past that count.
type session struct {
	identityID string
	dataset    string
	count      int64
}

// MemStore is the in-memory backing store of the dev server: identities to
// datasets to records, with per-dataset monotonic sync counts and the sync
// session tokens fencing optimistic pushes.
type MemStore struct {
	mu         sync.Mutex
	identities map[string]map[string]*serverDataset
	sessions   map[string]session

	// MaxRecordsPerDataset rejects pushes growing a dataset beyond the
	// limit. Zero means unlimited.
	MaxRecordsPerDataset int
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		identities: make(map[string]map[string]*serverDataset),
		sessions:   make(map[string]session),
	}
}

func (m *MemStore) dataset(identityID, name string, create bool) *serverDataset {
	sets := m.identities[identityID]
	if sets == nil {
		if !create {
			return nil
		}
		sets = make(map[string]*serverDataset)
		m.identities[identityID] = sets
	}
	ds := sets[name]
	if ds == nil && create {
		now := time.Now().UTC()
		ds = &serverDataset{
			Name:         name,
			Records:      make(map[string]*serverRecord),
			CreationDate: now,
		}
		sets[name] = ds
	}
	if ds != nil && ds.Deleted && create {
		// Recreated after deletion: fresh counter line.
		now := time.Now().UTC()
		ds = &serverDataset{
			Name:         name,
			Records:      make(map[string]*serverRecord),
			CreationDate: now,
		}
		sets[name] = ds
	}
	return ds
}

// datasetStats computes record count and storage bytes, skipping tombstones
// for the count and their values for the size.
func datasetStats(ds *serverDataset) (count, size int64) {
	for _, r := range ds.Records {
		size += int64(len(r.Key))
		if r.Value != nil {
			count++
			size += int64(len(*r.Value))
		}
	}
	return count, size
}

// ListDatasets returns the live datasets of an identity, name-sorted.
func (m *MemStore) ListDatasets(identityID string) []*serverDataset {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*serverDataset
	for _, ds := range m.identities[identityID] {
		if !ds.Deleted {
			out = append(out, ds)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DescribeDataset returns a live dataset or nil.
func (m *MemStore) DescribeDataset(identityID, name string) *serverDataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds := m.dataset(identityID, name, false)
	if ds == nil || ds.Deleted {
		return nil
	}
	return ds
}

// pullResult is what ListRecords hands back to the handler layer.
type pullResult struct {
	Records          []*serverRecord
	SyncCount        int64
	SyncSessionToken string
	Exists           bool
	Deleted          bool
	MergedNames      []string
}

// ListRecords returns every record written after lastSyncCount, key-sorted,
// plus a fresh sync session token. A dataset never seen reports Exists=false
// with a zero sync count; one deleted after syncing reports Deleted=true.
func (m *MemStore) ListRecords(identityID, name string, lastSyncCount int64) pullResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := pullResult{SyncSessionToken: uuid.NewString()}
	ds := m.dataset(identityID, name, false)

	var count int64
	if ds != nil && !ds.Deleted {
		count = ds.SyncCount
	}
	m.sessions[res.SyncSessionToken] = session{identityID: identityID, dataset: name, count: count}

	if ds == nil {
		return res
	}
	res.MergedNames = append(res.MergedNames, ds.MergedNames...)
	if ds.Deleted {
		res.Deleted = true
		return res
	}

	res.Exists = true
	res.SyncCount = ds.SyncCount
	for _, r := range ds.Records {
		if r.SyncCount > lastSyncCount {
			res.Records = append(res.Records, r)
		}
	}
	sort.Slice(res.Records, func(i, j int) bool { return res.Records[i].Key < res.Records[j].Key })
	return res
}

// patchInput is one push entry after wire decoding.
type patchInput struct {
	Key                    string
	Value                  *string // nil removes the key
	SyncCount              int64
	DeviceLastModifiedDate time.Time
}

// UpdateRecords applies a push batch atomically. The sync session token is
// the optimistic fence: a token issued before the dataset advanced is stale
// and rejects the batch. Every patch's base sync count must also match the
// stored record (0 for absent records). On success the dataset counter
// advances once and every written record carries the new count.
func (m *MemStore) UpdateRecords(identityID, name, syncSessionToken string, patches []patchInput) ([]*serverRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds := m.dataset(identityID, name, true)

	sess, ok := m.sessions[syncSessionToken]
	if !ok || sess.identityID != identityID || sess.dataset != name {
		return nil, errStaleToken("unknown sync session token")
	}
	if sess.count != ds.SyncCount {
		return nil, errStaleToken("dataset advanced since the sync session token was issued")
	}

	for _, p := range patches {
		var current int64
		if r := ds.Records[p.Key]; r != nil {
			current = r.SyncCount
		}
		if p.SyncCount != current {
			return nil, errConflict(p.Key, p.SyncCount, current)
		}
	}

	if m.MaxRecordsPerDataset > 0 {
		grown := len(ds.Records)
		for _, p := range patches {
			if ds.Records[p.Key] == nil {
				grown++
			}
		}
		if grown > m.MaxRecordsPerDataset {
			return nil, errLimitExceeded(name, m.MaxRecordsPerDataset)
		}
	}

	now := time.Now().UTC()
	newCount := ds.SyncCount + 1
	written := make([]*serverRecord, 0, len(patches))
	for _, p := range patches {
		r := &serverRecord{
			Key:                    p.Key,
			Value:                  p.Value,
			SyncCount:              newCount,
			LastModifiedDate:       now,
			DeviceLastModifiedDate: p.DeviceLastModifiedDate,
			LastModifiedBy:         identityID,
		}
		ds.Records[p.Key] = r
		written = append(written, r)
	}
	ds.SyncCount = newCount
	ds.LastModifiedDate = now
	ds.LastModifiedBy = identityID
	return written, nil
}

// DeleteDataset removes the dataset. A dataset that had synced data is kept
// as a deletion marker so later pulls report the remote delete; one that
// never synced vanishes entirely.
func (m *MemStore) DeleteDataset(identityID, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds := m.dataset(identityID, name, false)
	if ds == nil || ds.Deleted {
		return false
	}
	if ds.SyncCount == 0 {
		delete(m.identities[identityID], name)
		return true
	}
	ds.Deleted = true
	ds.Records = make(map[string]*serverRecord)
	return true
}

// SetMergedNames configures the merged-dataset names reported on pulls of
// the given dataset. Test hook for the client's merged-dataset flow.
func (m *MemStore) SetMergedNames(identityID, name string, merged []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds := m.dataset(identityID, name, true)
	ds.MergedNames = merged
}

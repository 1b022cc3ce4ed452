package api

import (
	"testing"
	"time"
)

func push(t *testing.T, m *MemStore, identity, name string, patches ...patchInput) []*serverRecord {
	t.Helper()
	res := m.ListRecords(identity, name, 0)
	written, err := m.UpdateRecords(identity, name, res.SyncSessionToken, patches)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	return written
}

func replace(key, value string, base int64) patchInput {
	v := value
	return patchInput{Key: key, Value: &v, SyncCount: base, DeviceLastModifiedDate: time.Now().UTC()}
}

func remove(key string, base int64) patchInput {
	return patchInput{Key: key, SyncCount: base}
}

func TestUpdateRecords_CounterLine(t *testing.T) {
	m := NewMemStore()

	w1 := push(t, m, "id-1", "notes", replace("a", "1", 0), replace("b", "2", 0))
	for _, r := range w1 {
		if r.SyncCount != 1 {
			t.Errorf("first batch sync count: got %d, want 1", r.SyncCount)
		}
	}

	w2 := push(t, m, "id-1", "notes", replace("a", "9", 1))
	if w2[0].SyncCount != 2 {
		t.Errorf("second batch sync count: got %d, want 2", w2[0].SyncCount)
	}

	res := m.ListRecords("id-1", "notes", 0)
	if res.SyncCount != 2 {
		t.Errorf("dataset sync count: got %d, want 2", res.SyncCount)
	}
}

func TestUpdateRecords_StaleBaseRejectsBatch(t *testing.T) {
	m := NewMemStore()
	push(t, m, "id-1", "notes", replace("a", "1", 0))

	res := m.ListRecords("id-1", "notes", 0)
	_, err := m.UpdateRecords("id-1", "notes", res.SyncSessionToken,
		[]patchInput{replace("b", "2", 0), replace("a", "9", 0)}) // a's base is stale
	if err == nil {
		t.Fatal("expected conflict")
	}

	// Atomicity: the valid patch must not have been applied.
	after := m.ListRecords("id-1", "notes", 0)
	for _, r := range after.Records {
		if r.Key == "b" {
			t.Fatal("rejected batch partially applied")
		}
	}
}

func TestUpdateRecords_StaleTokenRejects(t *testing.T) {
	m := NewMemStore()

	res := m.ListRecords("id-1", "notes", 0)
	stale := res.SyncSessionToken

	// Another writer advances the dataset before we push.
	push(t, m, "id-1", "notes", replace("x", "other", 0))

	_, err := m.UpdateRecords("id-1", "notes", stale, []patchInput{replace("a", "1", 0)})
	if err == nil {
		t.Fatal("expected conflict for stale session token")
	}
}

func TestUpdateRecords_RemoveKeepsTombstone(t *testing.T) {
	m := NewMemStore()
	push(t, m, "id-1", "notes", replace("a", "1", 0))
	push(t, m, "id-1", "notes", remove("a", 1))

	// Pulling from sync count 1 must surface the deletion.
	res := m.ListRecords("id-1", "notes", 1)
	if len(res.Records) != 1 {
		t.Fatalf("delta records: got %d, want 1", len(res.Records))
	}
	if res.Records[0].Value != nil {
		t.Fatal("deleted record should be a tombstone")
	}
}

func TestUpdateRecords_LimitExceeded(t *testing.T) {
	m := NewMemStore()
	m.MaxRecordsPerDataset = 1

	res := m.ListRecords("id-1", "notes", 0)
	_, err := m.UpdateRecords("id-1", "notes", res.SyncSessionToken,
		[]patchInput{replace("a", "1", 0), replace("b", "2", 0)})
	if err == nil {
		t.Fatal("expected limit error")
	}
	se, ok := err.(*serverError)
	if !ok || se.Code != "LimitExceeded" {
		t.Fatalf("error: %v", err)
	}
}

func TestDeleteDataset_Semantics(t *testing.T) {
	m := NewMemStore()
	push(t, m, "id-1", "notes", replace("a", "1", 0))

	if !m.DeleteDataset("id-1", "notes") {
		t.Fatal("delete should succeed")
	}
	if m.DescribeDataset("id-1", "notes") != nil {
		t.Fatal("deleted dataset should not be describable")
	}

	// A synced-then-deleted dataset reports the deletion to pullers.
	res := m.ListRecords("id-1", "notes", 1)
	if !res.Deleted {
		t.Fatal("pull after delete should report deletion")
	}

	// Pushing again recreates the dataset on a fresh counter line.
	w := push(t, m, "id-1", "notes", replace("z", "9", 0))
	if w[0].SyncCount != 1 {
		t.Fatalf("recreated counter: got %d, want 1", w[0].SyncCount)
	}
}

func TestDeleteDataset_NeverSyncedVanishes(t *testing.T) {
	m := NewMemStore()
	m.ListRecords("id-1", "notes", 0) // never pushed
	if m.DeleteDataset("id-1", "notes") {
		t.Fatal("nothing to delete for a never-pushed dataset")
	}
	res := m.ListRecords("id-1", "notes", 0)
	if res.Exists || res.Deleted {
		t.Fatalf("fresh dataset state: exists=%v deleted=%v", res.Exists, res.Deleted)
	}
}

func TestListRecords_DeltaOnly(t *testing.T) {
	m := NewMemStore()
	push(t, m, "id-1", "notes", replace("a", "1", 0))
	push(t, m, "id-1", "notes", replace("b", "2", 0))

	res := m.ListRecords("id-1", "notes", 1)
	if len(res.Records) != 1 || res.Records[0].Key != "b" {
		t.Fatalf("delta since 1: %+v", res.Records)
	}
}

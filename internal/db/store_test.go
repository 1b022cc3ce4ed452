package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/marcus/dsync/internal/models"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// One connection: each pooled conn of an in-memory database would
	// otherwise see its own empty database.
	conn.SetMaxOpenConns(1)
	if err := Init(conn); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return New(conn)
}

func strptr(s string) *string { return &s }

func TestPutValue_WriteRead(t *testing.T) {
	s := setupStore(t)
	if err := s.CreateDataset("id-1", "notes"); err != nil {
		t.Fatalf("create dataset: %v", err)
	}

	if err := s.PutValue("id-1", "notes", "color", strptr("blue")); err != nil {
		t.Fatalf("put: %v", err)
	}

	v, err := s.GetValue("id-1", "notes", "color")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v == nil || *v != "blue" {
		t.Fatalf("get: got %v, want blue", v)
	}

	r, err := s.GetRecord("id-1", "notes", "color")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if !r.Modified {
		t.Error("record should be modified after local write")
	}
	if r.SyncCount != 0 {
		t.Errorf("sync count: got %d, want 0", r.SyncCount)
	}
	if r.DeviceLastModifiedDate.IsZero() {
		t.Error("device timestamp should be set")
	}
}

func TestPutValue_NilIsTombstone(t *testing.T) {
	s := setupStore(t)
	s.CreateDataset("id-1", "notes")
	s.PutValue("id-1", "notes", "color", strptr("blue"))

	if err := s.PutValue("id-1", "notes", "color", nil); err != nil {
		t.Fatalf("remove: %v", err)
	}

	v, err := s.GetValue("id-1", "notes", "color")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != nil {
		t.Fatalf("get after remove: got %q, want nil", *v)
	}

	// The row persists as a tombstone so the delete can be pushed.
	r, err := s.GetRecord("id-1", "notes", "color")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if r == nil {
		t.Fatal("tombstone row should persist")
	}
	if !r.Deleted || !r.Modified {
		t.Errorf("tombstone flags: deleted=%v modified=%v, want true/true", r.Deleted, r.Modified)
	}
	if r.Value != "" {
		t.Errorf("tombstone value: got %q, want empty", r.Value)
	}
}

func TestPutRecords_RemoteAuthoritative(t *testing.T) {
	s := setupStore(t)
	s.CreateDataset("id-1", "notes")
	s.PutValue("id-1", "notes", "color", strptr("blue"))
	s.PutValue("id-1", "notes", "font", strptr("mono"))

	// Merge a pulled record over the local "color"; "font" must be untouched.
	err := s.PutRecords("id-1", "notes", []models.Record{
		{Key: "color", Value: "red", SyncCount: 7},
	})
	if err != nil {
		t.Fatalf("put records: %v", err)
	}

	color, _ := s.GetRecord("id-1", "notes", "color")
	if color.Value != "red" || color.SyncCount != 7 {
		t.Errorf("color: got %q/%d, want red/7", color.Value, color.SyncCount)
	}
	if color.Modified {
		t.Error("remote merge should clear the modified bit")
	}

	font, _ := s.GetRecord("id-1", "notes", "font")
	if font.Value != "mono" || !font.Modified {
		t.Errorf("font should be untouched: got %q modified=%v", font.Value, font.Modified)
	}
}

func TestGetModifiedRecords(t *testing.T) {
	s := setupStore(t)
	s.CreateDataset("id-1", "notes")
	s.PutValue("id-1", "notes", "a", strptr("1"))
	s.PutValue("id-1", "notes", "b", strptr("2"))
	s.PutValue("id-1", "notes", "c", nil) // local delete, still a change
	s.PutRecords("id-1", "notes", []models.Record{{Key: "d", Value: "4", SyncCount: 1}})

	changes, err := s.GetModifiedRecords("id-1", "notes")
	if err != nil {
		t.Fatalf("get modified: %v", err)
	}
	if len(changes) != 3 {
		t.Fatalf("modified count: got %d, want 3", len(changes))
	}
	for _, r := range changes {
		if r.Key == "d" {
			t.Error("clean record d should not be listed")
		}
	}
}

func TestDeleteAndPurgeDataset(t *testing.T) {
	s := setupStore(t)
	s.CreateDataset("id-1", "notes")
	s.PutValue("id-1", "notes", "a", strptr("1"))
	s.UpdateLastSyncCount("id-1", "notes", 5)

	if err := s.DeleteDataset("id-1", "notes"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	lsc, err := s.GetLastSyncCount("id-1", "notes")
	if err != nil {
		t.Fatalf("get lsc: %v", err)
	}
	if lsc != models.DeletedSyncCount {
		t.Fatalf("lsc after delete: got %d, want -1", lsc)
	}
	r, _ := s.GetRecord("id-1", "notes", "a")
	if r == nil || !r.Deleted {
		t.Fatal("records should be tombstoned by dataset delete")
	}

	if err := s.PurgeDataset("id-1", "notes"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := s.GetDatasetMetadata("id-1", "notes"); err == nil {
		t.Fatal("metadata should be gone after purge")
	}
	records, _ := s.GetRecords("id-1", "notes")
	if len(records) != 0 {
		t.Fatalf("records after purge: got %d, want 0", len(records))
	}
}

func TestDatasetStats(t *testing.T) {
	s := setupStore(t)
	s.CreateDataset("id-1", "notes")
	s.PutValue("id-1", "notes", "ab", strptr("1234")) // 2 + 4 bytes
	s.PutValue("id-1", "notes", "cd", nil)            // tombstone: key only

	m, err := s.GetDatasetMetadata("id-1", "notes")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if m.RecordCount != 1 {
		t.Errorf("record count: got %d, want 1 (tombstones excluded)", m.RecordCount)
	}
	if m.StorageSizeBytes != 8 {
		t.Errorf("storage size: got %d, want 8", m.StorageSizeBytes)
	}
}

func TestUpdateDatasetMetadata_PreservesSyncCount(t *testing.T) {
	s := setupStore(t)
	s.CreateDataset("id-1", "notes")
	s.UpdateLastSyncCount("id-1", "notes", 9)

	err := s.UpdateDatasetMetadata("id-1", []models.DatasetMetadata{
		{Name: "notes", RecordCount: 3, StorageSizeBytes: 42, LastModifiedBy: "id-1"},
		{Name: "fresh", RecordCount: 1},
	})
	if err != nil {
		t.Fatalf("update metadata: %v", err)
	}

	notes, _ := s.GetDatasetMetadata("id-1", "notes")
	if notes.LastSyncCount != 9 {
		t.Errorf("refresh must not clobber last_sync_count: got %d, want 9", notes.LastSyncCount)
	}
	if notes.RecordCount != 3 || notes.StorageSizeBytes != 42 {
		t.Errorf("remote fields not merged: %+v", notes)
	}

	fresh, err := s.GetDatasetMetadata("id-1", "fresh")
	if err != nil {
		t.Fatalf("fresh dataset should be inserted: %v", err)
	}
	if fresh.LastSyncCount != 0 {
		t.Errorf("fresh lsc: got %d, want 0", fresh.LastSyncCount)
	}
}

func TestWipeData(t *testing.T) {
	s := setupStore(t)
	s.CreateDataset("id-1", "notes")
	s.CreateDataset("id-2", "prefs")
	s.PutValue("id-1", "notes", "a", strptr("1"))
	s.PutValue("id-2", "prefs", "b", strptr("2"))

	if err := s.WipeData(); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	for _, id := range []string{"id-1", "id-2"} {
		sets, err := s.GetDatasets(id)
		if err != nil {
			t.Fatalf("get datasets: %v", err)
		}
		if len(sets) != 0 {
			t.Fatalf("datasets of %s after wipe: got %d, want 0", id, len(sets))
		}
	}
}

func TestGetLastSyncCount_UnknownDataset(t *testing.T) {
	s := setupStore(t)
	if _, err := s.GetLastSyncCount("id-1", "nope"); err == nil {
		t.Fatal("expected error for unknown dataset")
	}
}

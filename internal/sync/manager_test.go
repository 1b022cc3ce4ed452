package sync

import (
	"errors"
	"strings"
	"testing"

	"github.com/marcus/dsync/internal/syncerr"
)

func TestOpenOrCreateDataset_NameValidation(t *testing.T) {
	_, url := server(t)
	dev := newDevice(t, url, "id-1")

	cases := []struct {
		name string
		ok   bool
	}{
		{"a", true},
		{strings.Repeat("x", 128), true},
		{"notes_1.2:3-4", true},
		{"", false},
		{strings.Repeat("x", 129), false},
		{"bad name", false},
		{"bad/name", false},
	}
	for _, tc := range cases {
		_, err := dev.manager.OpenOrCreateDataset(tc.name)
		if tc.ok && err != nil {
			t.Errorf("%q: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, syncerr.ErrIllegalArgument) {
			t.Errorf("%q: got %v, want ErrIllegalArgument", tc.name, err)
		}
	}
}

func TestDataset_KeyValidation(t *testing.T) {
	_, url := server(t)
	dev := newDevice(t, url, "id-1")
	ds, _ := dev.manager.OpenOrCreateDataset("notes")

	if err := ds.Put(strings.Repeat("k", 128), "v"); err != nil {
		t.Errorf("128-char key: %v", err)
	}
	if err := ds.Put(strings.Repeat("k", 129), "v"); !errors.Is(err, syncerr.ErrIllegalArgument) {
		t.Errorf("129-char key: got %v, want ErrIllegalArgument", err)
	}
	if err := ds.Remove(""); !errors.Is(err, syncerr.ErrIllegalArgument) {
		t.Errorf("empty key: got %v, want ErrIllegalArgument", err)
	}
	if _, err := ds.Get("no spaces"); !errors.Is(err, syncerr.ErrIllegalArgument) {
		t.Errorf("bad key: got %v, want ErrIllegalArgument", err)
	}
}

func TestOpenOrCreateDataset_PendingDelete(t *testing.T) {
	_, url := server(t)
	dev := newDevice(t, url, "id-1")

	ds, _ := dev.manager.OpenOrCreateDataset("doomed")
	if err := ds.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err := dev.manager.OpenOrCreateDataset("doomed")
	if !errors.Is(err, syncerr.ErrIllegalState) {
		t.Fatalf("got %v, want ErrIllegalState", err)
	}

	// OpenDataset still hands out a handle, so the delete can be pushed.
	pending, err := dev.manager.OpenDataset("doomed")
	if err != nil {
		t.Fatalf("open pending: %v", err)
	}
	mustSync(t, pending)
	if _, err := dev.manager.OpenDataset("doomed"); !errors.Is(err, syncerr.ErrDatasetNotFound) {
		t.Fatalf("after purge: got %v, want ErrDatasetNotFound", err)
	}
}

func TestManager_RefreshDatasetMetadata(t *testing.T) {
	_, url := server(t)
	devA := newDevice(t, url, "id-1")
	dsA, _ := devA.manager.OpenOrCreateDataset("remoteonly")
	dsA.Put("k", "v")
	mustSync(t, dsA)

	devB := newDevice(t, url, "id-1")
	metadata, err := devB.manager.RefreshDatasetMetadata()
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(metadata) != 1 || metadata[0].Name != "remoteonly" {
		t.Fatalf("remote metadata: %+v", metadata)
	}

	local, _ := devB.manager.ListDatasets()
	if len(local) != 1 || local[0].Name != "remoteonly" {
		t.Fatalf("local metadata after refresh: %+v", local)
	}
	// Metadata only: no record contents were pulled.
	records, _ := devB.store.GetRecords("id-1", "remoteonly")
	if len(records) != 0 {
		t.Fatalf("refresh must not touch records: %+v", records)
	}
}

func TestManager_WipeData(t *testing.T) {
	_, url := server(t)
	dev := newDevice(t, url, "id-1")

	ds, _ := dev.manager.OpenOrCreateDataset("notes")
	ds.Put("k", "v")

	cleared := false
	dev.manager.SetClearCredentials(func() error {
		cleared = true
		return nil
	})

	if err := dev.manager.WipeData(); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if !cleared {
		t.Fatal("credentials hook should run before the wipe")
	}
	sets, _ := dev.manager.ListDatasets()
	if len(sets) != 0 {
		t.Fatalf("datasets after wipe: %+v", sets)
	}
}

func TestDataset_SizeAccounting(t *testing.T) {
	_, url := server(t)
	dev := newDevice(t, url, "id-1")
	ds, _ := dev.manager.OpenOrCreateDataset("sized")

	ds.Put("ab", "1234") // 6 bytes
	ds.Put("cd", "56")   // 4 bytes
	ds.Remove("cd")      // tombstone: key only, 2 bytes

	total, err := ds.TotalSizeInBytes()
	if err != nil {
		t.Fatalf("total size: %v", err)
	}
	if total != 8 {
		t.Errorf("total size: got %d, want 8", total)
	}

	size, _ := ds.SizeInBytes("ab")
	if size != 6 {
		t.Errorf("record size: got %d, want 6", size)
	}
	size, _ = ds.SizeInBytes("missing")
	if size != 0 {
		t.Errorf("missing record size: got %d, want 0", size)
	}
}

func TestDataset_IsChanged(t *testing.T) {
	_, url := server(t)
	dev := newDevice(t, url, "id-1")
	ds, _ := dev.manager.OpenOrCreateDataset("dirty")

	changed, _ := ds.IsChanged("k")
	if changed {
		t.Error("absent key should not be changed")
	}

	ds.Put("k", "v")
	changed, _ = ds.IsChanged("k")
	if !changed {
		t.Error("written key should be changed")
	}

	mustSync(t, ds)
	changed, _ = ds.IsChanged("k")
	if changed {
		t.Error("synced key should not be changed")
	}
}

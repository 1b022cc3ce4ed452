package models

import (
	"strings"
	"testing"
)

func TestValidName(t *testing.T) {
	valid := []string{"a", "A-b_c.d:e", "0", strings.Repeat("z", 128)}
	for _, name := range valid {
		if !ValidName(name) {
			t.Errorf("%q should be valid", name)
		}
	}

	invalid := []string{"", strings.Repeat("z", 129), "white space", "sla/sh", "unié"}
	for _, name := range invalid {
		if ValidName(name) {
			t.Errorf("%q should be invalid", name)
		}
	}
}

func TestRecordSize(t *testing.T) {
	r := Record{Key: "ab", Value: "1234"}
	if r.Size() != 6 {
		t.Errorf("size: got %d, want 6", r.Size())
	}

	tomb := Record{Key: "ab", Deleted: true}
	if tomb.Size() != 2 {
		t.Errorf("tombstone size: got %d, want 2", tomb.Size())
	}

	utf8 := Record{Key: "k", Value: "é"} // 2 bytes in UTF-8
	if utf8.Size() != 3 {
		t.Errorf("utf8 size: got %d, want 3", utf8.Size())
	}
}

func TestSameValue(t *testing.T) {
	a := Record{Key: "k", Value: "x"}
	b := Record{Key: "k", Value: "x"}
	if !a.SameValue(b) {
		t.Error("equal values should match")
	}

	b.Value = "y"
	if a.SameValue(b) {
		t.Error("different values should not match")
	}

	// Tombstone vs present value never matches, even with equal strings.
	tomb := Record{Key: "k", Deleted: true}
	if a.SameValue(tomb) || tomb.SameValue(a) {
		t.Error("tombstone should not match a present value")
	}
	if !tomb.SameValue(Record{Key: "k", Deleted: true}) {
		t.Error("two tombstones should match")
	}
}

func TestPatchFor(t *testing.T) {
	p := PatchFor(Record{Key: "k", Value: "v", SyncCount: 4})
	if p.Op != OpReplace || p.Value != "v" || p.SyncCount != 4 {
		t.Errorf("replace patch: %+v", p)
	}

	p = PatchFor(Record{Key: "k", SyncCount: 4, Deleted: true})
	if p.Op != OpRemove {
		t.Errorf("remove patch: %+v", p)
	}
}

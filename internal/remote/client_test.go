package remote

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/marcus/dsync/internal/api"
	"github.com/marcus/dsync/internal/identity"
	"github.com/marcus/dsync/internal/models"
	"github.com/marcus/dsync/internal/syncerr"
)

func setupClient(t *testing.T) (*Client, *api.MemStore) {
	t.Helper()
	store := api.NewMemStore()
	srv := httptest.NewServer(api.NewServer("", store).Routes())
	t.Cleanup(srv.Close)

	binding := identity.NewBinding(identity.NewStaticProvider("id-1"))
	return New(srv.URL, "pool", binding), store
}

func pushThrough(t *testing.T, c *Client, name string, values map[string]string) {
	t.Helper()
	updates, err := c.ListUpdates(name, 0)
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	var patches []models.RecordPatch
	for k, v := range values {
		patches = append(patches, models.RecordPatch{
			Op: models.OpReplace, Key: k, Value: v,
			DeviceLastModifiedDate: time.Now().UTC(),
		})
	}
	if _, err := c.PutRecords(name, patches, updates.SyncSessionToken); err != nil {
		t.Fatalf("put records: %v", err)
	}
}

func TestPutThenListRoundTrip(t *testing.T) {
	c, _ := setupClient(t)
	pushThrough(t, c, "notes", map[string]string{"color": "blue"})

	updates, err := c.ListUpdates("notes", 0)
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	if !updates.Exists {
		t.Fatal("dataset should exist after push")
	}
	if updates.SyncCount != 1 {
		t.Errorf("sync count: got %d, want 1", updates.SyncCount)
	}
	if len(updates.Records) != 1 {
		t.Fatalf("records: got %d, want 1", len(updates.Records))
	}
	r := updates.Records[0]
	if r.Key != "color" || r.Value != "blue" || r.SyncCount != 1 || r.Deleted {
		t.Fatalf("record: %+v", r)
	}
}

func TestListUpdates_FreshDataset(t *testing.T) {
	c, _ := setupClient(t)
	updates, err := c.ListUpdates("empty", 0)
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	if updates.Exists || updates.Deleted {
		t.Fatalf("fresh dataset: exists=%v deleted=%v", updates.Exists, updates.Deleted)
	}
	if updates.SyncSessionToken == "" {
		t.Fatal("a session token is issued even for fresh datasets")
	}
}

func TestListUpdates_TombstoneDecodes(t *testing.T) {
	c, _ := setupClient(t)
	pushThrough(t, c, "notes", map[string]string{"gone": "x"})

	updates, _ := c.ListUpdates("notes", 0)
	patch := models.RecordPatch{Op: models.OpRemove, Key: "gone", SyncCount: 1}
	if _, err := c.PutRecords("notes", []models.RecordPatch{patch}, updates.SyncSessionToken); err != nil {
		t.Fatalf("push remove: %v", err)
	}

	updates, err := c.ListUpdates("notes", 1)
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	if len(updates.Records) != 1 {
		t.Fatalf("records: got %d, want 1", len(updates.Records))
	}
	if !updates.Records[0].Deleted || updates.Records[0].Value != "" {
		t.Fatalf("tombstone: %+v", updates.Records[0])
	}
}

func TestGetDatasets_Paginates(t *testing.T) {
	c, _ := setupClient(t)
	// More datasets than one page (page size 64).
	for i := 0; i < 70; i++ {
		pushThrough(t, c, "set-"+string(rune('a'+i/26))+string(rune('a'+i%26)), map[string]string{"k": "v"})
	}

	sets, err := c.GetDatasets()
	if err != nil {
		t.Fatalf("get datasets: %v", err)
	}
	if len(sets) != 70 {
		t.Fatalf("datasets: got %d, want 70", len(sets))
	}
}

func TestGetDatasetMetadata_NotFound(t *testing.T) {
	c, _ := setupClient(t)
	_, err := c.GetDatasetMetadata("nope")
	if !errors.Is(err, syncerr.ErrDatasetNotFound) {
		t.Fatalf("error: %v, want ErrDatasetNotFound", err)
	}
}

func TestPutRecords_ConflictMapsToDataConflict(t *testing.T) {
	c, _ := setupClient(t)
	pushThrough(t, c, "notes", map[string]string{"a": "1"})

	updates, _ := c.ListUpdates("notes", 0)
	stale := []models.RecordPatch{{Op: models.OpReplace, Key: "a", Value: "2", SyncCount: 0}}
	_, err := c.PutRecords("notes", stale, updates.SyncSessionToken)
	if !errors.Is(err, syncerr.ErrDataConflict) {
		t.Fatalf("error: %v, want ErrDataConflict", err)
	}
}

func TestNetworkErrorMapsToErrNetwork(t *testing.T) {
	binding := identity.NewBinding(identity.NewStaticProvider("id-1"))
	c := New("http://127.0.0.1:1", "pool", binding)
	c.HTTP.Timeout = 500 * time.Millisecond

	_, err := c.ListUpdates("notes", 0)
	if !errors.Is(err, syncerr.ErrNetwork) {
		t.Fatalf("error: %v, want ErrNetwork", err)
	}
}

func TestUnknownServerErrorMapsToStorage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":"InternalError","message":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	binding := identity.NewBinding(identity.NewStaticProvider("id-1"))
	c := New(srv.URL, "pool", binding)
	_, err := c.ListUpdates("notes", 0)
	if !errors.Is(err, syncerr.ErrStorage) {
		t.Fatalf("error: %v, want ErrStorage", err)
	}
}

func TestListUpdates_PaginatesRecords(t *testing.T) {
	c, _ := setupClient(t)

	// More records than one wire page (1024), so the client follows
	// next_token across pages.
	values := make(map[string]string, 1100)
	for i := 0; i < 1100; i++ {
		values[fmt.Sprintf("key-%04d", i)] = "v"
	}
	pushThrough(t, c, "big", values)

	updates, err := c.ListUpdates("big", 0)
	if err != nil {
		t.Fatalf("list updates: %v", err)
	}
	if len(updates.Records) != 1100 {
		t.Fatalf("records: got %d, want 1100", len(updates.Records))
	}
}

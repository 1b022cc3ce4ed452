// Package api implements the dsync dev server: the five sync RPCs of the
// protocol over an in-memory store. It backs the sync engine's tests as the
// authoritative remote and runs standalone via dsync-server for local
// development. Accounts, auth, and durability are out of scope.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// serverError is an error response with a wire code the client maps onto its
// domain taxonomy.
type serverError struct {
	Status  int
	Code    string
	Message string
}

func (e *serverError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errStaleToken(msg string) error {
	return &serverError{
		Status:  http.StatusConflict,
		Code:    "ResourceConflict",
		Message: msg,
	}
}

func errConflict(key string, base, current int64) error {
	return &serverError{
		Status:  http.StatusConflict,
		Code:    "ResourceConflict",
		Message: fmt.Sprintf("key %q base sync count %d does not match current %d", key, base, current),
	}
}

func errLimitExceeded(name string, limit int) error {
	return &serverError{
		Status:  http.StatusRequestEntityTooLarge,
		Code:    "LimitExceeded",
		Message: fmt.Sprintf("dataset %q exceeds %d records", name, limit),
	}
}

func errNotFound(name string) error {
	return &serverError{
		Status:  http.StatusNotFound,
		Code:    "ResourceNotFound",
		Message: fmt.Sprintf("dataset %q not found", name),
	}
}

func errBadRequest(msg string) error {
	return &serverError{Status: http.StatusBadRequest, Code: "InvalidParameter", Message: msg}
}

// Server is the HTTP server wrapping a MemStore.
type Server struct {
	store *MemStore
	http  *http.Server
}

// NewServer creates a server listening on addr when started.
func NewServer(addr string, store *MemStore) *Server {
	s := &Server{store: store}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Routes builds the handler mux. Exposed so tests can mount it on httptest.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	const base = "/v1/pools/{pool}/identities/{identity}/datasets"
	mux.HandleFunc("GET "+base, s.handleListDatasets)
	mux.HandleFunc("GET "+base+"/{name}", s.handleDescribeDataset)
	mux.HandleFunc("GET "+base+"/{name}/records", s.handleListRecords)
	mux.HandleFunc("POST "+base+"/{name}/records", s.handleUpdateRecords)
	mux.HandleFunc("DELETE "+base+"/{name}", s.handleDeleteDataset)
	return mux
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "err", err)
		}
	}()
	slog.Info("dsync-server listening", "addr", ln.Addr().String())
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// --- Wire types ---

type datasetBody struct {
	Name             string `json:"name"`
	CreationDate     int64  `json:"creation_date"`
	LastModifiedDate int64  `json:"last_modified_date"`
	LastModifiedBy   string `json:"last_modified_by"`
	StorageSizeBytes int64  `json:"storage_size_bytes"`
	RecordCount      int64  `json:"record_count"`
}

type recordBody struct {
	Key                    string  `json:"key"`
	Value                  *string `json:"value,omitempty"`
	SyncCount              int64   `json:"sync_count"`
	LastModifiedDate       int64   `json:"last_modified_date"`
	DeviceLastModifiedDate int64   `json:"device_last_modified_date"`
	LastModifiedBy         string  `json:"last_modified_by"`
}

type listDatasetsBody struct {
	Datasets  []datasetBody `json:"datasets"`
	NextToken string        `json:"next_token,omitempty"`
}

type listRecordsBody struct {
	Records            []recordBody `json:"records"`
	NextToken          string       `json:"next_token,omitempty"`
	SyncSessionToken   string       `json:"sync_session_token"`
	DatasetSyncCount   int64        `json:"dataset_sync_count"`
	DatasetExists      bool         `json:"dataset_exists"`
	DatasetDeleted     bool         `json:"dataset_deleted_after_requested_sync_count"`
	MergedDatasetNames []string     `json:"merged_dataset_names,omitempty"`
}

type updateRecordsBody struct {
	SyncSessionToken string `json:"sync_session_token"`
	RecordPatches    []struct {
		Op                     string  `json:"op"`
		Key                    string  `json:"key"`
		Value                  *string `json:"value,omitempty"`
		SyncCount              int64   `json:"sync_count"`
		DeviceLastModifiedDate int64   `json:"device_last_modified_date"`
	} `json:"record_patches"`
}

func toDatasetBody(ds *serverDataset) datasetBody {
	count, size := datasetStats(ds)
	return datasetBody{
		Name:             ds.Name,
		CreationDate:     ds.CreationDate.UnixMilli(),
		LastModifiedDate: millisOrZero(ds.LastModifiedDate),
		LastModifiedBy:   ds.LastModifiedBy,
		StorageSizeBytes: size,
		RecordCount:      count,
	}
}

func toRecordBody(r *serverRecord) recordBody {
	return recordBody{
		Key:                    r.Key,
		Value:                  r.Value,
		SyncCount:              r.SyncCount,
		LastModifiedDate:       millisOrZero(r.LastModifiedDate),
		DeviceLastModifiedDate: millisOrZero(r.DeviceLastModifiedDate),
		LastModifiedBy:         r.LastModifiedBy,
	}
}

func millisOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	identityID := r.PathValue("identity")
	maxResults := queryInt(r, "max_results", 64)
	offset := queryInt(r, "next_token", 0)

	all := s.store.ListDatasets(identityID)
	resp := listDatasetsBody{}
	end := offset + maxResults
	if end > len(all) {
		end = len(all)
	}
	for _, ds := range all[min(offset, len(all)):end] {
		resp.Datasets = append(resp.Datasets, toDatasetBody(ds))
	}
	if end < len(all) {
		resp.NextToken = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDescribeDataset(w http.ResponseWriter, r *http.Request) {
	identityID, name := r.PathValue("identity"), r.PathValue("name")
	ds := s.store.DescribeDataset(identityID, name)
	if ds == nil {
		writeError(w, errNotFound(name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]datasetBody{"dataset": toDatasetBody(ds)})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	identityID, name := r.PathValue("identity"), r.PathValue("name")
	lastSyncCount, err := strconv.ParseInt(r.URL.Query().Get("last_sync_count"), 10, 64)
	if err != nil {
		writeError(w, errBadRequest("last_sync_count must be an integer"))
		return
	}
	maxResults := queryInt(r, "max_results", 1024)
	offset := queryInt(r, "next_token", 0)

	res := s.store.ListRecords(identityID, name, lastSyncCount)
	resp := listRecordsBody{
		SyncSessionToken:   res.SyncSessionToken,
		DatasetSyncCount:   res.SyncCount,
		DatasetExists:      res.Exists,
		DatasetDeleted:     res.Deleted,
		MergedDatasetNames: res.MergedNames,
	}
	end := offset + maxResults
	if end > len(res.Records) {
		end = len(res.Records)
	}
	for _, rec := range res.Records[min(offset, len(res.Records)):end] {
		resp.Records = append(resp.Records, toRecordBody(rec))
	}
	if end < len(res.Records) {
		resp.NextToken = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateRecords(w http.ResponseWriter, r *http.Request) {
	identityID, name := r.PathValue("identity"), r.PathValue("name")

	var body updateRecordsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errBadRequest("malformed request body"))
		return
	}
	if body.SyncSessionToken == "" {
		writeError(w, errBadRequest("sync_session_token is required"))
		return
	}

	patches := make([]patchInput, 0, len(body.RecordPatches))
	for _, p := range body.RecordPatches {
		in := patchInput{
			Key:                    p.Key,
			SyncCount:              p.SyncCount,
			DeviceLastModifiedDate: time.UnixMilli(p.DeviceLastModifiedDate).UTC(),
		}
		switch p.Op {
		case "replace":
			v := ""
			if p.Value != nil {
				v = *p.Value
			}
			in.Value = &v
		case "remove":
			in.Value = nil
		default:
			writeError(w, errBadRequest(fmt.Sprintf("unknown op %q", p.Op)))
			return
		}
		patches = append(patches, in)
	}

	written, err := s.store.UpdateRecords(identityID, name, body.SyncSessionToken, patches)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := struct {
		Records []recordBody `json:"records"`
	}{}
	for _, rec := range written {
		resp.Records = append(resp.Records, toRecordBody(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	// Idempotent: deleting an unknown dataset succeeds, so a client can
	// reconcile a local delete of a dataset that never reached the server.
	identityID, name := r.PathValue("identity"), r.PathValue("name")
	s.store.DeleteDataset(identityID, name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Helpers ---

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	se, ok := err.(*serverError)
	if !ok {
		se = &serverError{Status: http.StatusInternalServerError, Code: "InternalError", Message: err.Error()}
	}
	writeJSON(w, se.Status, map[string]string{"code": se.Code, "message": se.Message})
}

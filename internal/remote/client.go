// Package remote is the thin HTTP adapter over the five sync RPCs: list
// datasets, describe dataset, list record updates, put record patches, and
// delete dataset. Transport and server failures are mapped onto the domain
// error taxonomy of internal/syncerr.
package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/marcus/dsync/internal/identity"
	"github.com/marcus/dsync/internal/models"
	"github.com/marcus/dsync/internal/syncerr"
)

const (
	listDatasetsPageSize = 64
	listRecordsPageSize  = 1024
)

// Client talks to a dsync server for a single identity pool. The identity id
// is refreshed through the binding before every call; an id change mid-call
// completes the in-flight call and takes effect on the next one.
type Client struct {
	BaseURL string
	PoolID  string
	HTTP    *http.Client

	binding *identity.Binding
}

// New creates a client over the given identity binding.
func New(baseURL, poolID string, binding *identity.Binding) *Client {
	return &Client{
		BaseURL: baseURL,
		PoolID:  poolID,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		binding: binding,
	}
}

// --- Wire types (mirror internal/api, independently defined) ---

// DatasetResponse is a dataset description from the server.
type DatasetResponse struct {
	Name             string `json:"name"`
	CreationDate     int64  `json:"creation_date"`
	LastModifiedDate int64  `json:"last_modified_date"`
	LastModifiedBy   string `json:"last_modified_by"`
	StorageSizeBytes int64  `json:"storage_size_bytes"`
	RecordCount      int64  `json:"record_count"`
}

// ListDatasetsResponse is one page of GET /datasets.
type ListDatasetsResponse struct {
	Datasets  []DatasetResponse `json:"datasets"`
	NextToken string            `json:"next_token,omitempty"`
}

// DescribeDatasetResponse is the response from GET /datasets/{name}.
type DescribeDatasetResponse struct {
	Dataset DatasetResponse `json:"dataset"`
}

// RecordResponse is a record on the wire. A null value is a tombstone.
type RecordResponse struct {
	Key                    string  `json:"key"`
	Value                  *string `json:"value,omitempty"`
	SyncCount              int64   `json:"sync_count"`
	LastModifiedDate       int64   `json:"last_modified_date"`
	DeviceLastModifiedDate int64   `json:"device_last_modified_date"`
	LastModifiedBy         string  `json:"last_modified_by"`
}

// ListRecordsResponse is one page of GET /datasets/{name}/records.
type ListRecordsResponse struct {
	Records            []RecordResponse `json:"records"`
	NextToken          string           `json:"next_token,omitempty"`
	SyncSessionToken   string           `json:"sync_session_token"`
	DatasetSyncCount   int64            `json:"dataset_sync_count"`
	DatasetExists      bool             `json:"dataset_exists"`
	DatasetDeleted     bool             `json:"dataset_deleted_after_requested_sync_count"`
	MergedDatasetNames []string         `json:"merged_dataset_names,omitempty"`
}

// RecordPatchRequest is one entry of an update batch.
type RecordPatchRequest struct {
	Op                     string  `json:"op"`
	Key                    string  `json:"key"`
	Value                  *string `json:"value,omitempty"`
	SyncCount              int64   `json:"sync_count"`
	DeviceLastModifiedDate int64   `json:"device_last_modified_date"`
}

// UpdateRecordsRequest is the body of POST /datasets/{name}/records.
type UpdateRecordsRequest struct {
	SyncSessionToken string               `json:"sync_session_token"`
	RecordPatches    []RecordPatchRequest `json:"record_patches"`
}

// UpdateRecordsResponse is the response to an update batch.
type UpdateRecordsResponse struct {
	Records []RecordResponse `json:"records"`
}

func toRecord(r RecordResponse) models.Record {
	rec := models.Record{
		Key:                    r.Key,
		SyncCount:              r.SyncCount,
		LastModifiedDate:       fromMillis(r.LastModifiedDate),
		DeviceLastModifiedDate: fromMillis(r.DeviceLastModifiedDate),
		LastModifiedBy:         r.LastModifiedBy,
	}
	if r.Value == nil {
		rec.Deleted = true
	} else {
		rec.Value = *r.Value
	}
	return rec
}

func toMetadata(d DatasetResponse) models.DatasetMetadata {
	return models.DatasetMetadata{
		Name:             d.Name,
		CreationDate:     fromMillis(d.CreationDate),
		LastModifiedDate: fromMillis(d.LastModifiedDate),
		LastModifiedBy:   d.LastModifiedBy,
		StorageSizeBytes: d.StorageSizeBytes,
		RecordCount:      d.RecordCount,
	}
}

// fromMillis converts a server epoch-millis date; missing dates default to 0.
func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// GetDatasets lists every dataset of the current identity, following
// server-side pagination until exhausted.
func (c *Client) GetDatasets() ([]models.DatasetMetadata, error) {
	id := c.binding.IdentityID()

	var out []models.DatasetMetadata
	nextToken := ""
	for {
		params := url.Values{}
		params.Set("max_results", strconv.Itoa(listDatasetsPageSize))
		if nextToken != "" {
			params.Set("next_token", nextToken)
		}

		var page ListDatasetsResponse
		if err := c.do("GET", c.datasetsPath(id)+"?"+params.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, d := range page.Datasets {
			out = append(out, toMetadata(d))
		}
		if page.NextToken == "" {
			return out, nil
		}
		nextToken = page.NextToken
	}
}

// GetDatasetMetadata describes a single remote dataset.
func (c *Client) GetDatasetMetadata(name string) (models.DatasetMetadata, error) {
	id := c.binding.IdentityID()
	var resp DescribeDatasetResponse
	if err := c.do("GET", c.datasetPath(id, name), nil, &resp); err != nil {
		return models.DatasetMetadata{}, err
	}
	return toMetadata(resp.Dataset), nil
}

// ListUpdates pulls the record delta since lastSyncCount. With lastSyncCount
// of 0 the server returns the full record set. Pagination is followed until
// exhausted; the caller sees a single concatenated batch together with the
// final page's sync count and session token.
func (c *Client) ListUpdates(name string, lastSyncCount int64) (*models.DatasetUpdates, error) {
	id := c.binding.IdentityID()

	updates := &models.DatasetUpdates{}
	merged := map[string]bool{}
	nextToken := ""
	for {
		params := url.Values{}
		params.Set("last_sync_count", strconv.FormatInt(lastSyncCount, 10))
		params.Set("max_results", strconv.Itoa(listRecordsPageSize))
		if nextToken != "" {
			params.Set("next_token", nextToken)
		}

		var page ListRecordsResponse
		if err := c.do("GET", c.datasetPath(id, name)+"/records?"+params.Encode(), nil, &page); err != nil {
			return nil, err
		}

		for _, r := range page.Records {
			updates.Records = append(updates.Records, toRecord(r))
		}
		updates.SyncCount = page.DatasetSyncCount
		updates.SyncSessionToken = page.SyncSessionToken
		updates.Exists = page.DatasetExists
		updates.Deleted = page.DatasetDeleted
		for _, m := range page.MergedDatasetNames {
			if !merged[m] {
				merged[m] = true
				updates.MergedDatasetNames = append(updates.MergedDatasetNames, m)
			}
		}

		if page.NextToken == "" {
			return updates, nil
		}
		nextToken = page.NextToken
	}
}

// PutRecords pushes a batch of record patches under the sync session token.
// The server applies the batch atomically; a stale base sync count on any
// patch rejects the whole batch with ErrDataConflict.
func (c *Client) PutRecords(name string, patches []models.RecordPatch, syncSessionToken string) ([]models.Record, error) {
	id := c.binding.IdentityID()

	req := UpdateRecordsRequest{SyncSessionToken: syncSessionToken}
	for _, p := range patches {
		pr := RecordPatchRequest{
			Op:                     string(p.Op),
			Key:                    p.Key,
			SyncCount:              p.SyncCount,
			DeviceLastModifiedDate: p.DeviceLastModifiedDate.UnixMilli(),
		}
		if p.Op == models.OpReplace {
			v := p.Value
			pr.Value = &v
		}
		req.RecordPatches = append(req.RecordPatches, pr)
	}

	var resp UpdateRecordsResponse
	if err := c.do("POST", c.datasetPath(id, name)+"/records", req, &resp); err != nil {
		return nil, err
	}
	out := make([]models.Record, 0, len(resp.Records))
	for _, r := range resp.Records {
		out = append(out, toRecord(r))
	}
	return out, nil
}

// DeleteDataset removes the dataset remotely.
func (c *Client) DeleteDataset(name string) error {
	id := c.binding.IdentityID()
	return c.do("DELETE", c.datasetPath(id, name), nil, nil)
}

func (c *Client) datasetsPath(identityID string) string {
	return fmt.Sprintf("/v1/pools/%s/identities/%s/datasets",
		url.PathEscape(c.PoolID), url.PathEscape(identityID))
}

func (c *Client) datasetPath(identityID, name string) string {
	return c.datasetsPath(identityID) + "/" + url.PathEscape(name)
}

// --- HTTP plumbing ---

// apiError is the standard error body from the server.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do executes one request and maps failures onto the domain taxonomy:
// transport errors become ErrNetwork, recognized server codes become their
// domain kinds, and anything else becomes ErrStorage.
func (c *Client) do(method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return syncerr.Wrap(syncerr.ErrStorage, fmt.Errorf("marshal request: %w", err))
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, bodyReader)
	if err != nil {
		return syncerr.Wrap(syncerr.ErrStorage, fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return syncerr.Wrap(syncerr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncerr.Wrap(syncerr.ErrNetwork, err)
	}

	if resp.StatusCode >= 400 {
		return mapServerError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return syncerr.Wrap(syncerr.ErrStorage, fmt.Errorf("unmarshal response: %w", err))
		}
	}
	return nil
}

// mapServerError converts an error response to a domain error, preferring
// the body's error code over the HTTP status.
func mapServerError(status int, body []byte) error {
	var apiErr apiError
	code := ""
	if json.Unmarshal(body, &apiErr) == nil {
		code = apiErr.Code
	}

	switch code {
	case "ResourceNotFound":
		return syncerr.Wrapf(syncerr.ErrDatasetNotFound, "%s", apiErr.Message)
	case "ResourceConflict":
		return syncerr.Wrapf(syncerr.ErrDataConflict, "%s", apiErr.Message)
	case "LimitExceeded":
		return syncerr.Wrapf(syncerr.ErrDataLimitExceeded, "%s", apiErr.Message)
	}

	switch status {
	case http.StatusNotFound:
		return syncerr.Wrapf(syncerr.ErrDatasetNotFound, "HTTP %d", status)
	case http.StatusConflict:
		return syncerr.Wrapf(syncerr.ErrDataConflict, "HTTP %d", status)
	case http.StatusRequestEntityTooLarge:
		return syncerr.Wrapf(syncerr.ErrDataLimitExceeded, "HTTP %d", status)
	}
	return syncerr.Wrapf(syncerr.ErrStorage, "HTTP %d: %s", status, string(body))
}

package sync

import (
	"log/slog"

	"github.com/marcus/dsync/internal/models"
)

// Conflict pairs a pulled remote record with the locally modified record it
// collides with. The application resolves it by writing one of the Resolve*
// results back through Dataset.Resolve.
type Conflict struct {
	Remote models.Record
	Local  models.Record
}

// ResolveWithRemote yields the remote record as the resolution. It carries
// the server's sync count and no dirty bit, so nothing is pushed back.
func (c Conflict) ResolveWithRemote() models.Record {
	r := c.Remote
	r.Modified = false
	return r
}

// ResolveWithLocal yields the local value rebased onto the remote sync
// count. The dirty bit stays set, so the value is pushed on the retry.
func (c Conflict) ResolveWithLocal() models.Record {
	r := c.Local
	r.SyncCount = c.Remote.SyncCount
	r.Modified = true
	return r
}

// ResolveWithValue yields a new value rebased onto the remote sync count,
// to be pushed on the retry.
func (c Conflict) ResolveWithValue(value string) models.Record {
	r := c.Local
	r.Key = c.Remote.Key
	r.Value = value
	r.SyncCount = c.Remote.SyncCount
	r.Modified = true
	r.Deleted = false
	return r
}

// Callback receives the outcome of a sync session and steers it at its
// decision points. It is invoked on the session's worker goroutine and may
// block; the boolean returns are the engine's only cancellation channel.
type Callback interface {
	// OnSuccess reports a completed session with the remote records applied
	// locally by its final pull. Records merged by earlier passes of a
	// retried session are not included.
	OnSuccess(dataset *Dataset, applied []models.Record)

	// OnFailure reports a terminated session.
	OnFailure(err error)

	// OnConflict reports value conflicts between pulled records and local
	// modifications. Returning true re-enters the session (costing a retry);
	// the application is expected to have written resolutions via
	// Dataset.Resolve first. Returning false ends the session quietly.
	OnConflict(dataset *Dataset, conflicts []Conflict) bool

	// OnDatasetDeleted reports that the dataset was deleted remotely.
	// Returning true purges the local mirror and completes the session;
	// returning false cancels it.
	OnDatasetDeleted(dataset *Dataset, name string) bool

	// OnDatasetsMerged surfaces dataset names the server (or a local
	// identity merge) folded into this dataset. For names reported by the
	// server, returning true re-enters the session (costing a retry) and
	// returning false cancels it. Local shadows are reported once at session
	// start and the session continues whatever the return value.
	OnDatasetsMerged(dataset *Dataset, mergedNames []string) bool
}

// BaseCallback is a no-op Callback for embedding: it logs failures, declines
// every prompt, and ignores success.
type BaseCallback struct{}

// OnSuccess does nothing.
func (BaseCallback) OnSuccess(dataset *Dataset, applied []models.Record) {}

// OnFailure logs the error.
func (BaseCallback) OnFailure(err error) {
	slog.Warn("synchronize failed", "err", err)
}

// OnConflict declines to retry.
func (BaseCallback) OnConflict(dataset *Dataset, conflicts []Conflict) bool { return false }

// OnDatasetDeleted declines the local purge.
func (BaseCallback) OnDatasetDeleted(dataset *Dataset, name string) bool { return false }

// OnDatasetsMerged declines to continue.
func (BaseCallback) OnDatasetsMerged(dataset *Dataset, mergedNames []string) bool { return false }

package sync

import (
	"errors"
	"log/slog"

	"github.com/marcus/dsync/internal/db"
	"github.com/marcus/dsync/internal/identity"
	"github.com/marcus/dsync/internal/models"
	"github.com/marcus/dsync/internal/syncerr"
)

// Manager owns one local store / remote store pair. It hands out Dataset
// handles, lists and refreshes dataset metadata, and wipes all local state
// on sign-out. Identity changes rekey local data through the binding's
// listener before any handle sees the new id.
type Manager struct {
	local   *db.Store
	remote  Remote
	binding *identity.Binding

	// clearCredentials, when set, is invoked by WipeData before the local
	// store is cleared (e.g. to drop cached auth material on sign-out).
	clearCredentials func() error
}

// NewManager wires a manager and subscribes the store's identity rekey to
// the binding.
func NewManager(local *db.Store, remote Remote, binding *identity.Binding) *Manager {
	m := &Manager{local: local, remote: remote, binding: binding}
	binding.OnChange(func(oldID, newID string) {
		if err := local.ChangeIdentityID(oldID, newID); err != nil {
			slog.Error("identity rekey failed", "old", oldID, "new", newID, "err", err)
		}
	})
	return m
}

// SetClearCredentials registers the credentials-cache hook run by WipeData.
func (m *Manager) SetClearCredentials(fn func() error) {
	m.clearCredentials = fn
}

// OpenOrCreateDataset validates the name and returns a handle to the
// dataset, creating it locally if needed. Opening a dataset that is deleted
// locally but not yet reconciled with the remote fails with an
// illegal-state error until a sync through OpenDataset has pushed the
// deletion; RefreshDatasetMetadata leaves the pending state in place.
func (m *Manager) OpenOrCreateDataset(name string) (*Dataset, error) {
	if !models.ValidName(name) {
		return nil, syncerr.Wrapf(syncerr.ErrIllegalArgument, "invalid dataset name %q", name)
	}

	id := m.binding.IdentityID()
	md, err := m.local.GetDatasetMetadata(id, name)
	switch {
	case err == nil && md.PendingDelete():
		return nil, syncerr.Wrapf(syncerr.ErrIllegalState,
			"dataset %q is deleted locally, pending remote deletion", name)
	case err != nil && !errors.Is(err, syncerr.ErrDatasetNotFound):
		return nil, err
	}
	if err := m.local.CreateDataset(id, name); err != nil {
		return nil, err
	}
	return &Dataset{name: name, local: m.local, remote: m.remote, binding: m.binding}, nil
}

// OpenDataset returns a handle to an existing local dataset without
// creating it. Unlike OpenOrCreateDataset it also hands out datasets
// pending remote deletion, so a sync session can push the delete through.
func (m *Manager) OpenDataset(name string) (*Dataset, error) {
	if !models.ValidName(name) {
		return nil, syncerr.Wrapf(syncerr.ErrIllegalArgument, "invalid dataset name %q", name)
	}
	id := m.binding.IdentityID()
	if _, err := m.local.GetDatasetMetadata(id, name); err != nil {
		return nil, err
	}
	return &Dataset{name: name, local: m.local, remote: m.remote, binding: m.binding}, nil
}

// ListDatasets returns the locally cached metadata of the current
// identity's datasets.
func (m *Manager) ListDatasets() ([]models.DatasetMetadata, error) {
	return m.local.GetDatasets(m.binding.IdentityID())
}

// RefreshDatasetMetadata pulls the remote dataset list and merges it into
// the local metadata table. Record contents are not touched.
func (m *Manager) RefreshDatasetMetadata() ([]models.DatasetMetadata, error) {
	metadata, err := m.remote.GetDatasets()
	if err != nil {
		return nil, err
	}
	if err := m.local.UpdateDatasetMetadata(m.binding.IdentityID(), metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// WipeData clears the cached credentials, then removes every identity-scoped
// row from the local store. Used on sign-out.
func (m *Manager) WipeData() error {
	if m.clearCredentials != nil {
		if err := m.clearCredentials(); err != nil {
			return err
		}
	}
	return m.local.WipeData()
}

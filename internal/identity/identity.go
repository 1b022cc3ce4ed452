// Package identity binds the engine to a credentials provider: it caches the
// current identity id, detects identity changes, and notifies subscribers so
// local data can be rekeyed from the unknown identity to the real one.
package identity

import (
	"log/slog"
	"sync"

	"github.com/marcus/dsync/internal/models"
)

// Unknown is the sentinel identity id used before a provider reports one.
const Unknown = models.UnknownIdentityID

// Provider supplies the current identity id for the signed-in (or anonymous)
// end-user. The id is an opaque non-empty string and may change between
// calls, e.g. when an anonymous user signs in.
type Provider interface {
	IdentityID() (string, error)
}

// ChangeListener is notified when the identity id transitions. oldID is
// Unknown when no id had been seen before.
type ChangeListener func(oldID, newID string)

// Binding tracks the current identity id and fans out change notifications.
type Binding struct {
	mu        sync.Mutex
	provider  Provider
	current   string
	listeners []ChangeListener
}

// NewBinding creates a binding over the given provider. A nil provider pins
// the identity to Unknown.
func NewBinding(p Provider) *Binding {
	return &Binding{provider: p}
}

// OnChange registers a listener invoked synchronously on identity transitions.
// Registration order is preserved, so the store rekey listener runs before
// cache invalidation hooks registered after it.
func (b *Binding) OnChange(l ChangeListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// IdentityID refreshes the id from the provider and returns it. It never
// returns an empty string: without a configured provider (or before the
// provider can produce an id) it returns Unknown. A detected transition
// fires the registered listeners before this call returns.
func (b *Binding) IdentityID() string {
	b.mu.Lock()

	if b.provider == nil {
		b.mu.Unlock()
		return Unknown
	}

	id, err := b.provider.IdentityID()
	if err != nil || id == "" {
		if err != nil {
			slog.Warn("identity refresh failed", "err", err)
		}
		cached := b.current
		b.mu.Unlock()
		if cached == "" {
			return Unknown
		}
		return cached
	}

	old := b.current
	if id == old {
		b.mu.Unlock()
		return id
	}

	b.current = id
	listeners := make([]ChangeListener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	if old == "" {
		old = Unknown
	}
	slog.Info("identity changed", "old", old, "new", id)
	for _, l := range listeners {
		l(old, id)
	}
	return id
}

// StaticProvider returns a fixed identity id. Used by the CLI (which stores
// the id in its auth config) and by tests.
type StaticProvider struct {
	mu sync.Mutex
	id string
}

// NewStaticProvider creates a provider pinned to id.
func NewStaticProvider(id string) *StaticProvider {
	return &StaticProvider{id: id}
}

// IdentityID returns the configured id.
func (p *StaticProvider) IdentityID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id, nil
}

// SetIdentityID swaps the id, simulating a sign-in or account switch.
func (p *StaticProvider) SetIdentityID(id string) {
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()
}

package identity

import (
	"errors"
	"testing"
)

type errProvider struct{}

func (errProvider) IdentityID() (string, error) { return "", errors.New("provider down") }

func TestIdentityID_NoProvider(t *testing.T) {
	b := NewBinding(nil)
	if id := b.IdentityID(); id != Unknown {
		t.Fatalf("got %q, want %q", id, Unknown)
	}
}

func TestIdentityID_ChangeFiresListenersOnce(t *testing.T) {
	p := NewStaticProvider("")
	b := NewBinding(p)

	var calls []string
	b.OnChange(func(oldID, newID string) {
		calls = append(calls, oldID+"->"+newID)
	})

	if id := b.IdentityID(); id != Unknown {
		t.Fatalf("before login: got %q, want %q", id, Unknown)
	}
	if len(calls) != 0 {
		t.Fatalf("no change should have fired yet: %v", calls)
	}

	p.SetIdentityID("id-42")
	if id := b.IdentityID(); id != "id-42" {
		t.Fatalf("after login: got %q", id)
	}
	if id := b.IdentityID(); id != "id-42" {
		t.Fatalf("repeat: got %q", id)
	}

	if len(calls) != 1 || calls[0] != Unknown+"->id-42" {
		t.Fatalf("listener calls: %v", calls)
	}
}

func TestIdentityID_AccountSwitch(t *testing.T) {
	p := NewStaticProvider("id-1")
	b := NewBinding(p)

	var calls []string
	b.OnChange(func(oldID, newID string) {
		calls = append(calls, oldID+"->"+newID)
	})

	b.IdentityID()
	p.SetIdentityID("id-2")
	b.IdentityID()

	want := []string{Unknown + "->id-1", "id-1->id-2"}
	if len(calls) != 2 || calls[0] != want[0] || calls[1] != want[1] {
		t.Fatalf("listener calls: got %v, want %v", calls, want)
	}
}

func TestIdentityID_ProviderErrorFallsBack(t *testing.T) {
	b := NewBinding(errProvider{})
	if id := b.IdentityID(); id != Unknown {
		t.Fatalf("got %q, want %q", id, Unknown)
	}
}

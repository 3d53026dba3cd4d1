package followuser

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/ui/common"
)

type fakeFollower struct {
	handles []string
	err     error
}

func (f *fakeFollower) FollowUser(_ context.Context, _ string, handle string) (*activitypub.ActorResponse, error) {
	f.handles = append(f.handles, handle)
	if f.err != nil {
		return nil, f.err
	}
	return &activitypub.ActorResponse{ID: "https://peer.example/@bob"}, nil
}

func enter(m Model) (Model, tea.Cmd) {
	return m.Update(tea.KeyMsg{Type: tea.KeyEnter})
}

func TestFollowInvalidInput(t *testing.T) {
	f := &fakeFollower{}
	for _, input := range []string{"", "bob", "@peer.example", "bob@"} {
		m := InitialModel(context.Background(), f, "alice")
		m.TextInput.SetValue(input)

		m, cmd := enter(m)
		if cmd != nil {
			t.Errorf("%q: expected no command", input)
		}
		if m.Error == "" {
			t.Errorf("%q: expected an error", input)
		}
	}
	if len(f.handles) != 0 {
		t.Errorf("Expected no follow requests, got %v", f.handles)
	}
}

func TestFollowSuccess(t *testing.T) {
	f := &fakeFollower{}
	m := InitialModel(context.Background(), f, "alice")
	m.TextInput.SetValue("@bob@peer.example")

	m, cmd := enter(m)
	if cmd == nil {
		t.Fatal("Expected a follow command")
	}
	m, cmd = m.Update(cmd())

	if len(f.handles) != 1 || f.handles[0] != "@bob@peer.example" {
		t.Errorf("Unexpected follow requests %v", f.handles)
	}
	if !strings.Contains(m.Status, "https://peer.example/@bob") {
		t.Errorf("Unexpected status %q", m.Status)
	}
	if m.TextInput.Value() != "" {
		t.Error("Expected the input to be cleared")
	}
	if cmd == nil || cmd() != common.UpdateRelations {
		t.Error("Expected the relations to be refreshed")
	}
}

func TestFollowFailure(t *testing.T) {
	f := &fakeFollower{err: errors.New("webfinger: 404")}
	m := InitialModel(context.Background(), f, "alice")
	m.TextInput.SetValue("bob@peer.example")

	m, cmd := enter(m)
	m, _ = m.Update(cmd())
	if !strings.Contains(m.Error, "webfinger: 404") || m.Status != "" {
		t.Errorf("Unexpected state %q / %q", m.Status, m.Error)
	}
	if m.TextInput.Value() != "bob@peer.example" {
		t.Error("Expected the input to be kept after a failure")
	}
}

package writenote

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/ui/common"
)

type fakePublisher struct {
	account string
	content string
	report  *activitypub.PublishReport
	err     error
}

func (f *fakePublisher) PublishNote(_ context.Context, account string, content string) (*domain.Note, *activitypub.PublishReport, error) {
	f.account = account
	f.content = content
	if f.err != nil {
		return nil, nil, f.err
	}
	return domain.NewNote("https://social.example/@"+account, content), f.report, nil
}

func TestPublishOnCtrlS(t *testing.T) {
	pub := &fakePublisher{report: &activitypub.PublishReport{Results: []domain.DeliveryResult{
		{Instance: "a.example"},
		{Instance: "b.example", Err: errors.New("refused")},
	}}}
	m := InitialNote(context.Background(), pub, "alice", 80)
	m.Textarea.SetValue("hello [docs](https://docs.example)")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd == nil {
		t.Fatal("Expected a publish command")
	}
	if m.Textarea.Value() != "" {
		t.Error("Expected the editor to be cleared")
	}

	msg := cmd()
	if pub.account != "alice" {
		t.Errorf("Expected to publish as alice, got %s", pub.account)
	}
	want := `hello <a href="https://docs.example" target="_blank" rel="noopener noreferrer">docs</a>`
	if pub.content != want {
		t.Errorf("Expected HTML content %q, got %q", want, pub.content)
	}

	m, cmd = m.Update(msg)
	if m.Status != "published to 1 instances, 1 failed" {
		t.Errorf("Unexpected status %q", m.Status)
	}
	if cmd == nil || cmd() != common.UpdateNoteList {
		t.Error("Expected the note list to be refreshed")
	}
}

func TestPublishEmptyNote(t *testing.T) {
	pub := &fakePublisher{}
	m := InitialNote(context.Background(), pub, "alice", 80)
	m.Textarea.SetValue("   ")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	if cmd != nil {
		t.Error("Expected no command for an empty note")
	}
	if m.Err == nil {
		t.Error("Expected an error for an empty note")
	}
}

func TestPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("disk full")}
	m := InitialNote(context.Background(), pub, "alice", 80)
	m.Textarea.SetValue("hello")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	m, _ = m.Update(cmd())
	if m.Err == nil || !strings.Contains(m.View(), "disk full") {
		t.Errorf("Expected the error to be shown, got %q", m.View())
	}
	if m.Status != "" {
		t.Errorf("Expected no status, got %q", m.Status)
	}
}

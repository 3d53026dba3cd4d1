package followuser

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/ui/common"
)

// Follower resolves handle and sends it a Follow from account.
type Follower interface {
	FollowUser(ctx context.Context, account string, handle string) (*activitypub.ActorResponse, error)
}

type Model struct {
	TextInput textinput.Model
	Status    string
	Error     string
	ctx       context.Context
	follower  Follower
	account   string
}

// FollowedMsg carries the result of a follow request.
type FollowedMsg struct {
	Handle string
	Actor  string
	Err    error
}

func InitialModel(ctx context.Context, follower Follower, account string) Model {
	ti := textinput.New()
	ti.Placeholder = "user@mastodon.social"
	ti.Focus()
	ti.CharLimit = 100
	ti.Width = 50

	return Model{
		TextInput: ti,
		ctx:       ctx,
		follower:  follower,
		account:   account,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func followCmd(ctx context.Context, follower Follower, account string, handle string) tea.Cmd {
	return func() tea.Msg {
		actor, err := follower.FollowUser(ctx, account, handle)
		if err != nil {
			return FollowedMsg{Handle: handle, Err: err}
		}
		return FollowedMsg{Handle: handle, Actor: actor.ID}
	}
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			input := strings.TrimSpace(m.TextInput.Value())
			if input == "" {
				m.Error = "Please enter a user@domain"
				return m, nil
			}
			if _, _, err := activitypub.ParseHandle(input); err != nil {
				m.Error = "Invalid format. Use: user@domain.com"
				return m, nil
			}

			m.Status = fmt.Sprintf("Following %s...", input)
			m.Error = ""
			return m, followCmd(m.ctx, m.follower, m.account, input)
		case "esc":
			m.TextInput.SetValue("")
			m.Status = ""
			m.Error = ""
			return m, nil
		}

	case FollowedMsg:
		if msg.Err != nil {
			m.Status = ""
			m.Error = fmt.Sprintf("Failed: %v", msg.Err)
			return m, nil
		}
		m.Status = fmt.Sprintf("✓ Sent follow request to %s", msg.Actor)
		m.Error = ""
		m.TextInput.SetValue("")
		return m, func() tea.Msg { return common.UpdateRelations }
	}

	m.TextInput, cmd = m.TextInput.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render("follow remote user"))
	s.WriteString("\n\n")
	s.WriteString("Enter ActivityPub address (e.g., user@mastodon.social):\n\n")
	s.WriteString(m.TextInput.View())
	s.WriteString("\n\n")

	if m.Status != "" {
		s.WriteString(common.StatusStyle.Render(m.Status))
		s.WriteString("\n")
	}

	if m.Error != "" {
		s.WriteString(common.ErrorStyle.Render(m.Error))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(common.HelpStyle.Render("enter: follow • esc: clear"))

	return s.String()
}

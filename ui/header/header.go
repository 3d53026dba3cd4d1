package header

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/ui/common"
	"github.com/deemkeen/pubcore/util"
)

type Model struct {
	Width int
	User  *domain.User
	Host  string
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		m.Width = msg.Width
	}
	return m, nil
}

func (m Model) View() string {
	return GetHeaderStyle(m.User, m.Host, m.Width)
}

// GetHeaderStyle renders the account box, the instance, the version and the
// join date side by side. Every box adds 4 columns of padding and border.
func GetHeaderStyle(u *domain.User, host string, width int) string {
	overhead := 16
	availableWidth := width - overhead
	if availableWidth < 40 {
		availableWidth = 40
	}

	usernameWidth := availableWidth / 6
	hostWidth := availableWidth / 6
	versionWidth := availableWidth / 3
	joinedWidth := availableWidth - usernameWidth - hostWidth - versionWidth

	box := func() lipgloss.Style {
		return lipgloss.NewStyle().
			Padding(1).
			Height(2).
			Border(lipgloss.NormalBorder(), true, false, true, false).
			BorderForeground(lipgloss.Color(common.COLOR_MAGENTA))
	}

	username := box().
		SetString(u.Username).
		Align(lipgloss.Left).
		Background(lipgloss.Color(common.COLOR_PURPLE)).
		Width(usernameWidth).
		String()

	instance := box().
		SetString("@" + host).
		Foreground(lipgloss.Color(common.COLOR_MAGENTA)).
		Width(hostWidth).
		String()

	version := box().
		SetString(util.GetNameAndVersion()).
		Background(lipgloss.Color(common.COLOR_GREY)).
		Width(versionWidth).
		String()

	joined := box().
		SetString("joined: " + u.JoinDate).
		Align(lipgloss.Left).
		Background(lipgloss.Color(common.COLOR_MAGENTA)).
		Width(joinedWidth).
		String()

	return lipgloss.JoinHorizontal(lipgloss.Left, username, instance, version, joined)
}

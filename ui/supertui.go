package ui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/ui/common"
	"github.com/deemkeen/pubcore/ui/followers"
	"github.com/deemkeen/pubcore/ui/followuser"
	"github.com/deemkeen/pubcore/ui/header"
	"github.com/deemkeen/pubcore/ui/listnotes"
	"github.com/deemkeen/pubcore/ui/writenote"
)

var (
	modelStyle = lipgloss.NewStyle().
			Align(lipgloss.Top, lipgloss.Top).
			BorderStyle(lipgloss.HiddenBorder()).MarginLeft(1)
	focusedModelStyle = lipgloss.NewStyle().
				Align(lipgloss.Top, lipgloss.Top).
				BorderStyle(lipgloss.NormalBorder()).
				BorderForeground(lipgloss.Color(common.COLOR_LIGHTBLUE)).MarginLeft(1)
)

// views is the tab order of the console.
var views = []common.SessionState{
	common.CreateNoteView,
	common.ListNotesView,
	common.FollowUserView,
	common.FollowersView,
	common.FollowingView,
}

type MainModel struct {
	width          int
	height         int
	user           *domain.User
	state          common.SessionState
	headerModel    header.Model
	createModel    writenote.Model
	listModel      listnotes.Model
	followModel    followuser.Model
	followersModel followers.Model
	followingModel followers.Model
}

// NewModel builds the console of the local account u. Publishing and
// following run through inst with ctx, which ends with the SSH session.
func NewModel(ctx context.Context, inst *activitypub.Instance, u *domain.User, width int, height int, logger *log.Logger) MainModel {
	width = common.DefaultWindowWidth(width)
	height = common.DefaultWindowHeight(height)
	store := inst.Store()

	return MainModel{
		width:          width,
		height:         height,
		user:           u,
		state:          common.CreateNoteView,
		headerModel:    header.Model{Width: width, User: u, Host: inst.Host()},
		createModel:    writenote.InitialNote(ctx, inst, u.Username, width),
		listModel:      listnotes.NewPager(store, u.Username, width, height, logger),
		followModel:    followuser.InitialModel(ctx, inst, u.Username),
		followersModel: followers.InitialModel(store, u.Username, followers.Followers, width, height, logger),
		followingModel: followers.InitialModel(store, u.Username, followers.Following, width, height, logger),
	}
}

func (m MainModel) Init() tea.Cmd {
	return tea.Batch(
		m.createModel.Init(),
		m.listModel.Init(),
		m.followersModel.Init(),
		m.followingModel.Init(),
	)
}

func (m MainModel) State() common.SessionState {
	return m.state
}

func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.headerModel.Width = msg.Width
		return m, nil

	case common.SessionState:
		switch msg {
		case common.UpdateNoteList:
			return m, m.listModel.Init()
		case common.UpdateRelations:
			return m, tea.Batch(m.followersModel.Init(), m.followingModel.Init())
		default:
			m.state = msg
			return m, m.viewInitCmd()
		}

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.state = m.step(1)
			return m, m.viewInitCmd()
		case "shift+tab":
			m.state = m.step(-1)
			return m, m.viewInitCmd()
		}

		switch m.state {
		case common.CreateNoteView:
			m.createModel, cmd = m.createModel.Update(msg)
		case common.ListNotesView:
			m.listModel, cmd = m.listModel.Update(msg)
		case common.FollowUserView:
			m.followModel, cmd = m.followModel.Update(msg)
		case common.FollowersView:
			m.followersModel, cmd = m.followersModel.Update(msg)
		case common.FollowingView:
			m.followingModel, cmd = m.followingModel.Update(msg)
		}
		return m, cmd
	}

	// Everything else reaches all sub-models, so results of background
	// commands land in their view even after focus moved on.
	m.headerModel, _ = m.headerModel.Update(msg)
	m.createModel, cmd = m.createModel.Update(msg)
	cmds = append(cmds, cmd)
	m.listModel, cmd = m.listModel.Update(msg)
	cmds = append(cmds, cmd)
	m.followModel, cmd = m.followModel.Update(msg)
	cmds = append(cmds, cmd)
	m.followersModel, cmd = m.followersModel.Update(msg)
	cmds = append(cmds, cmd)
	m.followingModel, cmd = m.followingModel.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m MainModel) step(delta int) common.SessionState {
	for n, v := range views {
		if v == m.state {
			return views[(n+delta+len(views))%len(views)]
		}
	}
	return common.CreateNoteView
}

// viewInitCmd reloads the data of the focused view.
func (m MainModel) viewInitCmd() tea.Cmd {
	switch m.state {
	case common.ListNotesView:
		return m.listModel.Init()
	case common.FollowersView:
		return m.followersModel.Init()
	case common.FollowingView:
		return m.followingModel.Init()
	default:
		return nil
	}
}

func (m MainModel) View() string {
	availableHeight := m.height - 10
	leftPanelWidth := m.width / 3
	rightPanelWidth := m.width - leftPanelWidth - 6

	panel := func(width int, content string) string {
		return lipgloss.NewStyle().
			MaxHeight(availableHeight).
			Height(availableHeight).
			Width(width).
			MaxWidth(width).
			Render(content)
	}

	left := panel(leftPanelWidth, m.createModel.View())

	var right string
	switch m.state {
	case common.FollowUserView:
		right = m.followModel.View()
	case common.FollowersView:
		right = m.followersModel.View()
	case common.FollowingView:
		right = m.followingModel.View()
	default:
		right = m.listModel.View()
	}
	right = lipgloss.NewStyle().Margin(1).Render(panel(rightPanelWidth, right))

	s := m.headerModel.View() + "\n"
	if m.state == common.CreateNoteView {
		s += lipgloss.JoinHorizontal(lipgloss.Top, focusedModelStyle.Render(left), modelStyle.Render(right))
	} else {
		s += lipgloss.JoinHorizontal(lipgloss.Top, modelStyle.Render(left), focusedModelStyle.Render(right))
	}

	var viewCommands string
	switch m.state {
	case common.CreateNoteView:
		viewCommands = "ctrl+s: publish"
	case common.FollowUserView:
		viewCommands = "enter: follow"
	default:
		viewCommands = "↑/↓: scroll"
	}

	s += common.HelpStyle.Render(fmt.Sprintf(
		"focused > %s\t\tkeys > tab: next • shift+tab: prev • %s • ctrl-c: exit",
		m.currentFocusedModel(), viewCommands))
	return s
}

func (m MainModel) currentFocusedModel() string {
	switch m.state {
	case common.ListNotesView:
		return "notes list"
	case common.FollowUserView:
		return "follow user"
	case common.FollowersView:
		return "followers"
	case common.FollowingView:
		return "following"
	default:
		return "new note"
	}
}

package followers

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/storage"
	"github.com/deemkeen/pubcore/ui/common"
)

var itemStyle = lipgloss.NewStyle().PaddingLeft(2)

// Relation selects which side of the account's relations the list shows.
type Relation int

const (
	Followers Relation = iota
	Following
)

func (r Relation) String() string {
	if r == Following {
		return "following"
	}
	return "followers"
}

// Entry is one remote account.
type Entry struct {
	Instance string
	Actor    string
}

type Model struct {
	Relation Relation
	Entries  []Entry
	Offset   int
	Width    int
	Height   int
	store    storage.Provider
	account  string
	logger   *log.Logger
}

func InitialModel(store storage.Provider, account string, relation Relation, width, height int, logger *log.Logger) Model {
	return Model{
		Relation: relation,
		Entries:  []Entry{},
		Width:    width,
		Height:   height,
		store:    store,
		account:  account,
		logger:   logger,
	}
}

func (m Model) Init() tea.Cmd {
	return loadRelations(m.store, m.account, m.Relation, m.logger)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		if msg.relation != m.Relation {
			return m, nil
		}
		m.Entries = msg.entries
		m.Offset = 0
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k", "left":
			if m.Offset > 0 {
				m.Offset--
			}
		case "down", "j", "right":
			if len(m.Entries) > 0 && m.Offset < len(m.Entries)-1 {
				m.Offset++
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("%s (%d)", m.Relation, len(m.Entries))))
	s.WriteString("\n\n")

	if len(m.Entries) == 0 {
		if m.Relation == Following {
			s.WriteString(common.EmptyStyle.Render("Not following anyone yet."))
		} else {
			s.WriteString(common.EmptyStyle.Render("No followers yet. Share your account to get followers!"))
		}
		return s.String()
	}

	start, end := common.Page(m.Offset, len(m.Entries))
	for _, e := range m.Entries[start:end] {
		s.WriteString(itemStyle.Render(fmt.Sprintf("• %s (%s)", e.Actor, e.Instance)))
		s.WriteString("\n")
	}

	return s.String()
}

type loadedMsg struct {
	relation Relation
	entries  []Entry
}

func loadRelations(store storage.Provider, account string, relation Relation, logger *log.Logger) tea.Cmd {
	return func() tea.Msg {
		u, err := store.GetUser(account)
		if err != nil {
			logger.Error("Failed to load relations", "account", account, "relation", relation, "err", err)
			return loadedMsg{relation: relation, entries: []Entry{}}
		}

		rel := u.Followers
		if relation == Following {
			rel = u.Following
		}

		entries := []Entry{}
		for _, instance := range rel.Instances() {
			for _, actor := range rel[instance].Accounts {
				entries = append(entries, Entry{Instance: instance, Actor: actor})
			}
		}
		return loadedMsg{relation: relation, entries: entries}
	}
}

package listnotes

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/storage"
	"github.com/deemkeen/pubcore/ui/common"
)

var (
	timeStyle = lipgloss.NewStyle().
			Align(lipgloss.Left).
			Foreground(lipgloss.Color(common.COLOR_PURPLE))

	idStyle = lipgloss.NewStyle().
		Align(lipgloss.Left).
		Foreground(lipgloss.Color(common.COLOR_LIGHTBLUE))

	contentStyle = lipgloss.NewStyle().
			Align(lipgloss.Left)
)

type Model struct {
	Notes   []domain.Note
	Offset  int
	width   int
	height  int
	store   storage.Provider
	account string
	logger  *log.Logger
}

func NewPager(store storage.Provider, account string, width int, height int, logger *log.Logger) Model {
	return Model{
		Notes:   []domain.Note{},
		width:   width,
		height:  height,
		store:   store,
		account: account,
		logger:  logger,
	}
}

func (m Model) Init() tea.Cmd {
	return loadNotes(m.store, m.account, m.logger)
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case notesLoadedMsg:
		m.Notes = msg.notes
		m.Offset = 0
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k", "left":
			if m.Offset > 0 {
				m.Offset--
			}
		case "down", "j", "right":
			if len(m.Notes) > 0 && m.Offset < len(m.Notes)-1 {
				m.Offset++
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(common.CaptionStyle.Render(fmt.Sprintf("notes list (%d notes)", len(m.Notes))))
	s.WriteString("\n\n")

	if len(m.Notes) == 0 {
		s.WriteString(common.EmptyStyle.Render("No notes yet.\nCreate your first note!"))
		return s.String()
	}

	start, end := common.Page(m.Offset, len(m.Notes))
	for _, note := range m.Notes[start:end] {
		timeStr := timeStyle.Render(formatTime(note.Published))
		idStr := idStyle.Render(note.ID)
		contentStr := contentStyle.Render(truncate(note.Content, 150))

		s.WriteString(lipgloss.JoinVertical(lipgloss.Left, timeStr, idStr, contentStr))
		s.WriteString("\n\n")
	}

	return s.String()
}

type notesLoadedMsg struct {
	notes []domain.Note
}

// loadNotes reads the posts of account, newest first.
func loadNotes(store storage.Provider, account string, logger *log.Logger) tea.Cmd {
	return func() tea.Msg {
		ids, err := store.GetAllPostIdsForUser(account)
		if err != nil {
			logger.Error("Failed to load notes", "account", account, "err", err)
			return notesLoadedMsg{notes: []domain.Note{}}
		}

		notes := make([]domain.Note, 0, len(ids))
		for n := len(ids) - 1; n >= 0; n-- {
			note, err := store.GetPost(account, ids[n])
			if err != nil {
				logger.Warn("Failed to read note", "id", ids[n], "err", err)
				continue
			}
			if note != nil {
				notes = append(notes, *note)
			}
		}
		return notesLoadedMsg{notes: notes}
	}
}

func formatTime(t time.Time) string {
	duration := time.Since(t)

	switch {
	case duration < time.Minute:
		return "just now"
	case duration < time.Hour:
		return fmt.Sprintf("%dm ago", int(duration.Minutes()))
	case duration < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(duration.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(duration.Hours()/24))
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

package writenote

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/domain"
	"github.com/deemkeen/pubcore/ui/common"
	"github.com/deemkeen/pubcore/util"
)

const MaxLetters = 500

// Publisher stores a note and delivers it to the followers of account.
type Publisher interface {
	PublishNote(ctx context.Context, account string, content string) (*domain.Note, *activitypub.PublishReport, error)
}

type Model struct {
	Textarea    textarea.Model
	Status      string
	Err         error
	ctx         context.Context
	publisher   Publisher
	account     string
	lettersLeft int
	width       int
}

// PublishedMsg reports the outcome of a ctrl+s.
type PublishedMsg struct {
	Note       *domain.Note
	Deliveries int
	Failed     int
	Err        error
}

func InitialNote(ctx context.Context, publisher Publisher, account string, contentWidth int) Model {
	ti := textarea.New()
	ti.Placeholder = "enter your message"
	ti.CharLimit = MaxLetters
	ti.ShowLineNumbers = false
	ti.SetWidth(30)
	ti.Focus()

	return Model{
		Textarea:    ti,
		ctx:         ctx,
		publisher:   publisher,
		account:     account,
		lettersLeft: MaxLetters,
		width:       common.DefaultCreateNoteWidth(contentWidth),
	}
}

func publishCmd(ctx context.Context, publisher Publisher, account string, content string) tea.Cmd {
	return func() tea.Msg {
		note, report, err := publisher.PublishNote(ctx, account, content)
		if err != nil {
			return PublishedMsg{Err: err}
		}
		return PublishedMsg{Note: note, Deliveries: len(report.Results), Failed: report.Failed()}
	}
}

func (m Model) Init() tea.Cmd {
	return textarea.Blink
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlA:
			if m.Textarea.Focused() {
				m.Textarea.Blur()
			}
		case tea.KeyCtrlS:
			if strings.TrimSpace(m.Textarea.Value()) == "" {
				m.Err = fmt.Errorf("nothing to publish")
				return m, nil
			}
			content := util.ContentToHTML(m.Textarea.Value())
			m.Textarea.SetValue("")
			m.lettersLeft = MaxLetters
			m.Status = "publishing..."
			m.Err = nil
			return m, publishCmd(m.ctx, m.publisher, m.account, content)
		case tea.KeyCtrlC:
			return m, tea.Quit
		default:
			if !m.Textarea.Focused() {
				cmd = m.Textarea.Focus()
				cmds = append(cmds, cmd)
			}
		}

	case PublishedMsg:
		if msg.Err != nil {
			m.Status = ""
			m.Err = msg.Err
			return m, nil
		}
		m.Status = fmt.Sprintf("published to %d instances", msg.Deliveries-msg.Failed)
		if msg.Failed > 0 {
			m.Status += fmt.Sprintf(", %d failed", msg.Failed)
		}
		return m, func() tea.Msg { return common.UpdateNoteList }
	}

	m.Textarea, cmd = m.Textarea.Update(msg)
	m.lettersLeft = m.CharCount()
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) CharCount() int {
	return m.Textarea.CharLimit - m.Textarea.Length() + m.Textarea.LineCount() - 1
}

func (m Model) View() string {
	styledTextarea := lipgloss.NewStyle().PaddingLeft(5).PaddingRight(5).Margin(2).Render(m.Textarea.View())
	charsLeft := common.HelpStyle.PaddingLeft(7).Render(fmt.Sprintf("characters left: %d\n\npost message: ctrl+s",
		m.lettersLeft))
	caption := common.CaptionStyle.PaddingLeft(7).Render("new note")

	var status string
	switch {
	case m.Err != nil:
		status = common.ErrorStyle.PaddingLeft(7).Render(m.Err.Error())
	case m.Status != "":
		status = common.StatusStyle.PaddingLeft(7).Render(m.Status)
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s\n\n%s", caption, styledTextarea, charsLeft, status)
}

package middleware

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	bm "github.com/charmbracelet/wish/bubbletea"
	"github.com/deemkeen/pubcore/activitypub"
	"github.com/deemkeen/pubcore/ui"
	"github.com/muesli/termenv"
)

func MainTui(inst *activitypub.Instance, logger *log.Logger) wish.Middleware {
	teaHandler := func(s ssh.Session) *tea.Program {
		pty, _, active := s.Pty()
		if !active {
			wish.Println(s, "no active terminal, skipping")
			return nil
		}

		u, err := inst.Store().GetUser(s.User())
		if err != nil {
			logger.Error("Could not retrieve the user", "user", s.User(), "err", err)
			return nil
		}

		m := ui.NewModel(s.Context(), inst, u, pty.Window.Width, pty.Window.Height, logger)
		return tea.NewProgram(m, tea.WithInput(s), tea.WithOutput(s), tea.WithAltScreen())
	}
	return bm.MiddlewareWithProgramHandler(teaHandler, termenv.ANSI256)
}

package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/session"
)

// Run starts an attempt for the quiz and drives the terminal surface
// until the attempt is submitted or the student leaves. Leaving keeps
// the draft answers; a later Run on the same quiz resumes them.
func Run(ctx context.Context, engine *session.Engine, log zerolog.Logger) error {
	model := NewModel(engine, log)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithReportFocus())
	_, err := p.Run()
	return err
}
